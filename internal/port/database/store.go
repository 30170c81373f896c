// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/replygrid/replygrid/internal/domain/action"
	"github.com/replygrid/replygrid/internal/domain/contact"
	"github.com/replygrid/replygrid/internal/domain/knowledge"
	"github.com/replygrid/replygrid/internal/domain/message"
	"github.com/replygrid/replygrid/internal/domain/tenant"
	"github.com/replygrid/replygrid/internal/domain/usage"
)

// Store is the port interface for persistence. Every operation is
// tenant-scoped: implementations must reject writes whose tenant does not
// own the targeted entity.
type Store interface {
	// Tenants
	GetTenant(ctx context.Context, id tenant.ID) (*tenant.Tenant, error)
	GetChatbot(ctx context.Context, tenantID tenant.ID, chatbotID int64) (*tenant.Chatbot, error)

	// Contacts
	GetOrCreateContact(ctx context.Context, tenantID tenant.ID, chatbotID int64, phone, name, threadID string) (*contact.Contact, error)
	GetContact(ctx context.Context, tenantID tenant.ID, contactID int64) (*contact.Contact, error)
	TouchContact(ctx context.Context, tenantID tenant.ID, contactID int64, at time.Time) error

	// Messages
	InsertMessage(ctx context.Context, m *message.Message) (int64, error)
	GetMessage(ctx context.Context, tenantID tenant.ID, messageID int64) (*message.Message, error)
	UpdateMessageStatus(ctx context.Context, tenantID tenant.ID, messageID int64, status string) error
	UpdateMessageStatusByProviderID(ctx context.Context, providerMessageID, status string) (*message.Message, error)
	UpdateActionIndicator(ctx context.Context, tenantID tenant.ID, actionID int64, status action.Status) error

	// Actions
	CreateAction(ctx context.Context, a *action.Action) (int64, error)
	GetAction(ctx context.Context, actionID int64) (*action.Action, error)
	ResolveAction(ctx context.Context, tenantID tenant.ID, actionID int64, status action.Status, userResponse string) (*action.Action, error)

	// Usage
	UsageSnapshot(ctx context.Context, tenantID tenant.ID, day time.Time) (*usage.Snapshot, error)
	IncrementOutbound(ctx context.Context, tenantID tenant.ID, day time.Time) (*usage.Counter, error)

	// Knowledge
	UpsertKnowledgeEntry(ctx context.Context, e *knowledge.Entry) error

	// Ping verifies store reachability.
	Ping(ctx context.Context) error
}
