// Package message defines the transcript message envelope.
package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/replygrid/replygrid/internal/domain"
	"github.com/replygrid/replygrid/internal/domain/tenant"
)

// Direction classifies who authored a message and how it travels.
type Direction string

const (
	// DirectionIncoming is a customer message received from the BSP.
	DirectionIncoming Direction = "incoming"
	// DirectionOutgoing is an agent-authored message sent to the customer.
	DirectionOutgoing Direction = "outgoing"
	// DirectionManual is an operator-authored message that bypasses the agent.
	DirectionManual Direction = "manual"
	// DirectionInternal is a diagnostic or action-indicator row that is never
	// transmitted to the BSP.
	DirectionInternal Direction = "internal"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	switch d {
	case DirectionIncoming, DirectionOutgoing, DirectionManual, DirectionInternal:
		return true
	}
	return false
}

// Type classifies the message payload.
type Type string

const (
	TypeText            Type = "text"
	TypeImage           Type = "image"
	TypeAudio           Type = "audio"
	TypeDocument        Type = "document"
	TypeLocation        Type = "location"
	TypeTemplate        Type = "template"
	TypeActionIndicator Type = "action_indicator"
)

// Valid reports whether t is a known message type.
func (t Type) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeAudio, TypeDocument, TypeLocation, TypeTemplate, TypeActionIndicator:
		return true
	}
	return false
}

// Delivery statuses reported by the BSP or set by the broker.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Message records one logical message on the transcript.
type Message struct {
	ID                   int64           `json:"id"`
	ProviderMessageID    string          `json:"provider_message_id,omitempty"`
	ContactID            int64           `json:"contact_id"`
	TenantID             tenant.ID       `json:"tenant_id"`
	ChatbotID            int64           `json:"chatbot_id"`
	Direction            Direction       `json:"direction"`
	Type                 Type            `json:"message_type"`
	ContentText          string          `json:"content_text,omitempty"`
	ContentURL           string          `json:"content_url,omitempty"`
	Status               string          `json:"status,omitempty"`
	SentAt               time.Time       `json:"sent_at"`
	Metadata             json.RawMessage `json:"metadata,omitempty"`
	UserSent             bool            `json:"user_sent"`
	AIProcessed          bool            `json:"ai_processed"`
	ProcessingDurationMS int64           `json:"processing_duration_ms,omitempty"`
}

// Validate checks the envelope's enum fields and tenancy tags.
func (m *Message) Validate() error {
	if !m.Direction.Valid() {
		return fmt.Errorf("%w: direction %q", domain.ErrValidation, m.Direction)
	}
	if !m.Type.Valid() {
		return fmt.Errorf("%w: message type %q", domain.ErrValidation, m.Type)
	}
	if m.TenantID == 0 || m.ContactID == 0 {
		return fmt.Errorf("%w: message must carry tenant and contact ids", domain.ErrValidation)
	}
	return nil
}
