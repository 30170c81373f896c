// Package service implements the application services between HTTP
// handlers and the pipeline, store and transports.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/replygrid/replygrid/internal/domain"
	"github.com/replygrid/replygrid/internal/domain/event"
	"github.com/replygrid/replygrid/internal/domain/message"
	"github.com/replygrid/replygrid/internal/domain/turn"
	"github.com/replygrid/replygrid/internal/pipeline"
	"github.com/replygrid/replygrid/internal/port/broadcast"
	"github.com/replygrid/replygrid/internal/port/database"
	"github.com/replygrid/replygrid/internal/router"
)

// Submitter feeds routed records into the debouncing pipeline.
type Submitter interface {
	Submit(meta pipeline.TurnMeta, rec turn.Inbound)
}

// DedupCache short-circuits webhook redeliveries before any database work.
type DedupCache interface {
	Seen(providerMessageID string) bool
	Mark(providerMessageID string)
}

// nopDedup is used when no cache is configured.
type nopDedup struct{}

func (nopDedup) Seen(string) bool { return false }
func (nopDedup) Mark(string)     {}

// Ingest parses BSP webhook deliveries, routes records to their tenant and
// hands them to the pipeline. Parsing is deliberately forgiving: one bad
// record never blocks its batch.
type Ingest struct {
	log    *slog.Logger
	store  database.Store
	routes *router.Router
	pipe   Submitter
	dedup  DedupCache
	hub    broadcast.Broadcaster
}

// NewIngest creates the ingest service. dedup may be nil.
func NewIngest(log *slog.Logger, store database.Store, routes *router.Router, pipe Submitter, dedup DedupCache, hub broadcast.Broadcaster) *Ingest {
	if dedup == nil {
		dedup = nopDedup{}
	}
	return &Ingest{log: log, store: store, routes: routes, pipe: pipe, dedup: dedup, hub: hub}
}

// webhookEnvelope is the BSP delivery batch. Message and status records
// share the envelope; a record carrying a status block and no message body
// is a delivery report.
type webhookEnvelope struct {
	Results []webhookRecord `json:"results"`
}

type webhookRecord struct {
	MessageID  string `json:"messageId"`
	From       string `json:"from"`
	To         string `json:"to"`
	ReceivedAt string `json:"receivedAt"`
	Message    *struct {
		Type      string  `json:"type"`
		Text      string  `json:"text"`
		URL       string  `json:"url"`
		Caption   string  `json:"caption"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"message"`
	Contact *struct {
		Name string `json:"name"`
	} `json:"contact"`
	Status *struct {
		GroupName string `json:"groupName"`
		Name      string `json:"name"`
	} `json:"status"`
}

// Receive processes one webhook body. It returns the number of records
// accepted; a body that does not decode at all is an error (the caller
// answers 400), while individually malformed records are logged and skipped.
func (s *Ingest) Receive(ctx context.Context, body []byte) (int, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return 0, fmt.Errorf("%w: webhook body: %v", domain.ErrValidation, err)
	}
	if len(env.Results) == 0 {
		return 0, fmt.Errorf("%w: webhook body carries no results", domain.ErrValidation)
	}

	accepted := 0
	for i, rec := range env.Results {
		if err := s.receiveRecord(ctx, rec); err != nil {
			s.log.Warn("webhook record skipped", "index", i, "message_id", rec.MessageID, "error", err)
			continue
		}
		accepted++
	}
	return accepted, nil
}

func (s *Ingest) receiveRecord(ctx context.Context, rec webhookRecord) error {
	if rec.Status != nil && rec.Message == nil {
		return s.applyDeliveryReport(ctx, rec)
	}
	if rec.Message == nil {
		return fmt.Errorf("record carries neither message nor status")
	}
	if rec.MessageID == "" || rec.From == "" || rec.To == "" {
		return fmt.Errorf("record missing messageId, from or to")
	}

	if s.dedup.Seen(rec.MessageID) {
		s.log.Debug("webhook redelivery short-circuited", "message_id", rec.MessageID)
		return nil
	}

	route, err := s.routes.Resolve(rec.To)
	if err != nil {
		return err
	}

	inbound, err := parseInbound(rec)
	if err != nil {
		return err
	}

	name := ""
	if rec.Contact != nil {
		name = rec.Contact.Name
	}
	c, err := s.store.GetOrCreateContact(ctx, route.TenantID, route.ChatbotID,
		router.Normalize(rec.From), name, uuid.NewString())
	if err != nil {
		return fmt.Errorf("contact upsert: %w", err)
	}

	s.pipe.Submit(pipeline.TurnMeta{
		TenantID:     route.TenantID,
		ChatbotID:    route.ChatbotID,
		AgentID:      route.AgentID,
		SenderMSISDN: route.SenderMSISDN,
		ContactID:    c.ID,
		ThreadID:     c.ThreadID,
		FromNumber:   c.PhoneNumber,
		ContactName:  c.Name,
	}, inbound)

	s.dedup.Mark(rec.MessageID)
	return nil
}

// applyDeliveryReport updates the transcript row the report refers to. A
// report for an unknown provider id is dropped quietly; reports routinely
// outlive their retention window.
func (s *Ingest) applyDeliveryReport(ctx context.Context, rec webhookRecord) error {
	status := deliveryStatus(rec.Status.GroupName)
	if status == "" {
		return fmt.Errorf("unknown delivery status group %q", rec.Status.GroupName)
	}

	m, err := s.store.UpdateMessageStatusByProviderID(ctx, rec.MessageID, status)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.log.Debug("delivery report for unknown message", "message_id", rec.MessageID)
			return nil
		}
		return err
	}

	s.hub.Publish(ctx, event.New(event.MessageStatusChanged, m.TenantID, map[string]any{
		"message_id": m.ID,
		"contact_id": m.ContactID,
		"status":     status,
	}))
	return nil
}

func deliveryStatus(groupName string) string {
	switch strings.ToUpper(groupName) {
	case "PENDING":
		return message.StatusPending
	case "SENT":
		return message.StatusSent
	case "DELIVERED":
		return message.StatusDelivered
	case "SEEN":
		return message.StatusRead
	case "REJECTED", "UNDELIVERABLE", "EXPIRED":
		return message.StatusFailed
	}
	return ""
}

func parseInbound(rec webhookRecord) (turn.Inbound, error) {
	in := turn.Inbound{
		ProviderMessageID: rec.MessageID,
		FromNumber:        router.Normalize(rec.From),
		ToNumber:          router.Normalize(rec.To),
		ReceivedAt:        parseReceivedAt(rec.ReceivedAt),
	}
	if rec.Contact != nil {
		in.ContactName = rec.Contact.Name
	}

	switch strings.ToUpper(rec.Message.Type) {
	case "TEXT":
		in.Type = message.TypeText
		in.Text = rec.Message.Text
	case "IMAGE":
		in.Type = message.TypeImage
		in.MediaURL = rec.Message.URL
		in.Caption = rec.Message.Caption
	case "AUDIO", "VOICE":
		in.Type = message.TypeAudio
		in.MediaURL = rec.Message.URL
	case "DOCUMENT":
		in.Type = message.TypeDocument
		in.MediaURL = rec.Message.URL
		in.Caption = rec.Message.Caption
	case "LOCATION":
		in.Type = message.TypeLocation
		in.Latitude = rec.Message.Latitude
		in.Longitude = rec.Message.Longitude
	default:
		return turn.Inbound{}, fmt.Errorf("unsupported message type %q", rec.Message.Type)
	}
	return in, nil
}

// parseReceivedAt accepts the BSP timestamp formats, falling back to now.
func parseReceivedAt(v string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000-0700"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}
