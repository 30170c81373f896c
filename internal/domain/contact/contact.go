// Package contact defines the conversational counterparty model.
package contact

import (
	"encoding/json"
	"time"

	"github.com/replygrid/replygrid/internal/domain/tenant"
)

// Contact is a counterparty within a tenant. The same MSISDN may be a
// contact of several tenants; (tenant_id, phone_number) is the unique key.
// Contacts are created on first inbound or first manual outbound and never
// deleted by the broker.
type Contact struct {
	ID              int64           `json:"id"`
	TenantID        tenant.ID       `json:"tenant_id"`
	ChatbotID       int64           `json:"chatbot_id"`
	PhoneNumber     string          `json:"phone_number"`
	Name            string          `json:"name,omitempty"`
	ThreadID        string          `json:"thread_id"`
	Paused          bool            `json:"paused"`
	PausedAt        *time.Time      `json:"paused_at,omitempty"`
	PausedBy        string          `json:"paused_by,omitempty"`
	LastInteraction time.Time       `json:"last_interaction"`
	CustomFields    json.RawMessage `json:"custom_fields,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Key identifies one conversation for debouncing and single-flight
// bookkeeping. Coalescing never crosses tenants.
type Key struct {
	TenantID  tenant.ID
	ContactID int64
}
