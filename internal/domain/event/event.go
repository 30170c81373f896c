// Package event defines the broadcast event envelope and topic names.
package event

import (
	"encoding/json"
	"time"

	"github.com/replygrid/replygrid/internal/domain/tenant"
)

// Topic names published on the broadcast hub.
const (
	MessageIncoming      = "message.incoming"
	MessageOutgoing      = "message.outgoing"
	MessageManual        = "message.manual"
	MessageStatusChanged = "message.status_changed"
	ActionCreated        = "action.created"
	ActionResolved       = "action.resolved"
	ContactPaused        = "contact.paused"
	ContactResumed       = "contact.resumed"
	TurnSkipped          = "turn.skipped"
	QueueFull            = "queue_full"
	QuotaExceeded        = "quota_exceeded"
)

// Event is the envelope delivered to hub subscribers. TenantID is always set
// and always matches the entity the event describes.
type Event struct {
	Type      string          `json:"type"`
	TenantID  tenant.ID       `json:"tenant_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// New builds an event, marshalling payload to JSON. Publishing is
// best-effort; a payload that cannot be marshalled yields an empty payload.
func New(typ string, tenantID tenant.ID, payload any) Event {
	var raw json.RawMessage
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}
	return Event{
		Type:      typ,
		TenantID:  tenantID,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}
}
