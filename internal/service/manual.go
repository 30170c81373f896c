package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/replygrid/replygrid/internal/domain"
	"github.com/replygrid/replygrid/internal/domain/event"
	"github.com/replygrid/replygrid/internal/domain/message"
	"github.com/replygrid/replygrid/internal/domain/tenant"
	"github.com/replygrid/replygrid/internal/pipeline"
	"github.com/replygrid/replygrid/internal/port/broadcast"
	"github.com/replygrid/replygrid/internal/port/database"
)

// Manual transmits operator-authored message rows the dashboard has already
// persisted with direction=manual and status=pending. Transmission bypasses
// the agent entirely and does not touch the pause flag.
type Manual struct {
	log        *slog.Logger
	store      database.Store
	transports pipeline.Transports
	hub        broadcast.Broadcaster
}

// NewManual creates the manual-message service.
func NewManual(log *slog.Logger, store database.Store, transports pipeline.Transports, hub broadcast.Broadcaster) *Manual {
	return &Manual{log: log, store: store, transports: transports, hub: hub}
}

// ManualRequest is one manual-message webhook delivery. MessageID names the
// row the dashboard already inserted; ContentText is a fallback for rows
// persisted without a body.
type ManualRequest struct {
	TenantID    tenant.ID `json:"tenant_id"`
	MessageID   int64     `json:"message_id"`
	ContactID   int64     `json:"contact_id"`
	ContentText string    `json:"content_text"`
	UserID      int64     `json:"user_id"`
}

// MaxManualTextLen caps operator message length.
const MaxManualTextLen = 4096

// Send transmits the persisted row and transitions its status pending→sent
// (or →failed). Redelivery of an already-transmitted id is a no-op that
// returns the first outcome; the row's status is the idempotency key, so
// the guarantee holds without any cooperation from the caller.
func (s *Manual) Send(ctx context.Context, req ManualRequest) (*message.Message, error) {
	if req.MessageID <= 0 {
		return nil, fmt.Errorf("%w: message_id is required", domain.ErrValidation)
	}
	if req.ContactID <= 0 {
		return nil, fmt.Errorf("%w: contact_id is required", domain.ErrValidation)
	}

	m, err := s.store.GetMessage(ctx, req.TenantID, req.MessageID)
	if err != nil {
		return nil, err
	}
	if m.Direction != message.DirectionManual {
		return nil, fmt.Errorf("%w: message %d is not a manual message", domain.ErrValidation, m.ID)
	}
	if m.ContactID != req.ContactID {
		return nil, fmt.Errorf("%w: message %d does not belong to contact %d",
			domain.ErrTenantMismatch, m.ID, req.ContactID)
	}

	if m.Status != message.StatusPending {
		s.log.Info("manual message redelivered, returning prior outcome",
			"message_id", m.ID, "status", m.Status)
		return m, nil
	}

	text := m.ContentText
	if text == "" {
		text = req.ContentText
	}
	if text == "" || len(text) > MaxManualTextLen {
		return nil, fmt.Errorf("%w: text must be 1-%d chars", domain.ErrValidation, MaxManualTextLen)
	}

	c, err := s.store.GetContact(ctx, req.TenantID, m.ContactID)
	if err != nil {
		return nil, err
	}
	bot, err := s.store.GetChatbot(ctx, req.TenantID, m.ChatbotID)
	if err != nil {
		return nil, err
	}

	tr, ok := s.transports.ForSender(bot.SenderMSISDN)
	if !ok {
		s.markFailed(ctx, m)
		return m, fmt.Errorf("no transport for sender %s", bot.SenderMSISDN)
	}

	res, err := tr.SendText(ctx, c.PhoneNumber, text)
	if err != nil {
		s.markFailed(ctx, m)
		return m, fmt.Errorf("manual send: %w", err)
	}

	m.Status = message.StatusSent
	m.ProviderMessageID = res.ProviderMessageID
	if err := s.store.UpdateMessageStatus(ctx, req.TenantID, m.ID, message.StatusSent); err != nil {
		s.log.Error("failed to mark manual message sent", "message_id", m.ID, "error", err)
	}
	if err := s.store.TouchContact(ctx, req.TenantID, c.ID, time.Now().UTC()); err != nil {
		s.log.Warn("touch contact failed", "contact_id", c.ID, "error", err)
	}
	if _, err := s.store.IncrementOutbound(ctx, req.TenantID, time.Now().UTC()); err != nil {
		s.log.Warn("usage increment failed", "tenant_id", req.TenantID, "error", err)
	}

	s.hub.Publish(ctx, event.New(event.MessageManual, req.TenantID, map[string]any{
		"message_id": m.ID,
		"contact_id": m.ContactID,
		"user_id":    req.UserID,
		"text":       text,
	}))
	return m, nil
}

func (s *Manual) markFailed(ctx context.Context, m *message.Message) {
	m.Status = message.StatusFailed
	if err := s.store.UpdateMessageStatus(ctx, m.TenantID, m.ID, message.StatusFailed); err != nil {
		s.log.Error("failed to mark manual message failed", "message_id", m.ID, "error", err)
	}
	s.hub.Publish(ctx, event.New(event.MessageStatusChanged, m.TenantID, map[string]any{
		"message_id": m.ID,
		"contact_id": m.ContactID,
		"status":     message.StatusFailed,
	}))
}
