// Package knowledge defines per-chatbot Q/A entries fed by catalog webhooks.
package knowledge

import (
	"time"

	"github.com/replygrid/replygrid/internal/domain/tenant"
)

// Entry is one Q/A pair. (chatbot_id, category, question) is the upsert key.
type Entry struct {
	ID        int64     `json:"id"`
	TenantID  tenant.ID `json:"tenant_id"`
	ChatbotID int64     `json:"chatbot_id"`
	Category  string    `json:"category"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	IsActive  bool      `json:"is_active"`
	UpdatedAt time.Time `json:"updated_at"`
}
