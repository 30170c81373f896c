// Package turn defines the in-memory unit scheduled through the pipeline.
package turn

import (
	"time"

	"github.com/replygrid/replygrid/internal/domain/contact"
	"github.com/replygrid/replygrid/internal/domain/message"
	"github.com/replygrid/replygrid/internal/domain/tenant"
)

// Attachment is a media reference coalesced alongside the turn's text.
// Audio attachments are tagged NeedsTranscription; transcription itself is
// handled by an external collaborator before the agent sees the turn.
type Attachment struct {
	Type               message.Type `json:"type"`
	URL                string       `json:"url"`
	Caption            string       `json:"caption,omitempty"`
	NeedsTranscription bool         `json:"needs_transcription,omitempty"`
}

// Inbound is one parsed BSP record before coalescing.
type Inbound struct {
	ProviderMessageID string
	FromNumber        string
	ToNumber          string
	Type              message.Type
	Text              string
	MediaURL          string
	Caption           string
	Latitude          float64
	Longitude         float64
	ContactName       string
	ReceivedAt        time.Time
}

// Turn is one coalesced unit of conversation. It references message rows by
// id but never owns them; the Store owns all persistence.
type Turn struct {
	TenantID     tenant.ID
	ChatbotID    int64
	AgentID      string
	ContactID    int64
	ThreadID     string
	FromNumber   string
	SenderMSISDN string
	ContactName  string
	MergedText   string
	Attachments  []Attachment
	Records      []Inbound
	FirstArrival time.Time
	LastArrival  time.Time
	LanguageHint string
}

// Key returns the conversation key this turn belongs to.
func (t *Turn) Key() contact.Key {
	return contact.Key{TenantID: t.TenantID, ContactID: t.ContactID}
}
