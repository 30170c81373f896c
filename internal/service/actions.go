package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/replygrid/replygrid/internal/domain"
	"github.com/replygrid/replygrid/internal/domain/action"
	"github.com/replygrid/replygrid/internal/domain/event"
	"github.com/replygrid/replygrid/internal/domain/message"
	"github.com/replygrid/replygrid/internal/pipeline"
	"github.com/replygrid/replygrid/internal/port/broadcast"
	"github.com/replygrid/replygrid/internal/port/database"
)

// Actions resolves operator feedback on pending action requests and notifies
// the customer of the outcome.
type Actions struct {
	log        *slog.Logger
	store      database.Store
	transports pipeline.Transports
	hub        broadcast.Broadcaster
}

// NewActions creates the action-feedback service.
func NewActions(log *slog.Logger, store database.Store, transports pipeline.Transports, hub broadcast.Broadcaster) *Actions {
	return &Actions{log: log, store: store, transports: transports, hub: hub}
}

// FeedbackRequest is one operator decision.
type FeedbackRequest struct {
	ActionID     int64         `json:"action_id"`
	Status       action.Status `json:"status"`
	UserResponse string        `json:"user_response,omitempty"`
}

// Feedback applies an operator decision. A redelivered decision matching the
// stored outcome is an idempotent no-op; a contradicting one is a conflict.
func (s *Actions) Feedback(ctx context.Context, req FeedbackRequest) (*action.Action, error) {
	if !req.Status.Terminal() {
		return nil, fmt.Errorf("%w: status %q is not a decision", domain.ErrValidation, req.Status)
	}

	existing, err := s.store.GetAction(ctx, req.ActionID)
	if err != nil {
		return nil, err
	}

	resolved, err := s.store.ResolveAction(ctx, existing.TenantID, req.ActionID, req.Status, req.UserResponse)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) && existing.Status == req.Status {
			s.log.Debug("action feedback redelivered", "action_id", req.ActionID, "status", req.Status)
			return existing, nil
		}
		return nil, err
	}

	s.updateIndicator(ctx, resolved)
	s.notifyCustomer(ctx, resolved)

	s.hub.Publish(ctx, event.New(event.ActionResolved, resolved.TenantID, map[string]any{
		"action_id":  resolved.ID,
		"contact_id": resolved.ContactID,
		"status":     resolved.Status,
	}))
	return resolved, nil
}

// updateIndicator rewrites the transcript's indicator row. Actions created
// before indicator rows existed have none; that is not an error.
func (s *Actions) updateIndicator(ctx context.Context, a *action.Action) {
	if err := s.store.UpdateActionIndicator(ctx, a.TenantID, a.ID, a.Status); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return
		}
		s.log.Warn("action indicator update failed", "action_id", a.ID, "error", err)
	}
}

// notifyCustomer tells the contact what was decided. Notification failure
// never rolls back the resolution; operators see the resolved state either
// way.
func (s *Actions) notifyCustomer(ctx context.Context, a *action.Action) {
	c, err := s.store.GetContact(ctx, a.TenantID, a.ContactID)
	if err != nil {
		s.log.Warn("action contact lookup failed", "action_id", a.ID, "error", err)
		return
	}
	bot, err := s.store.GetChatbot(ctx, a.TenantID, a.ChatbotID)
	if err != nil {
		s.log.Warn("action chatbot lookup failed", "action_id", a.ID, "error", err)
		return
	}
	t, ok := s.transports.ForSender(bot.SenderMSISDN)
	if !ok {
		s.log.Warn("no transport for action notification", "sender", bot.SenderMSISDN)
		return
	}

	text := responseText(a)
	m := &message.Message{
		ContactID:   c.ID,
		TenantID:    a.TenantID,
		ChatbotID:   a.ChatbotID,
		Direction:   message.DirectionOutgoing,
		Type:        message.TypeText,
		ContentText: text,
		Status:      message.StatusPending,
		SentAt:      time.Now().UTC(),
	}
	if _, err := s.store.InsertMessage(ctx, m); err != nil {
		s.log.Error("persist action notification failed", "action_id", a.ID, "error", err)
		return
	}

	res, err := t.SendText(ctx, c.PhoneNumber, text)
	if err != nil {
		s.log.Error("action notification send failed", "action_id", a.ID, "error", err)
		if uerr := s.store.UpdateMessageStatus(ctx, a.TenantID, m.ID, message.StatusFailed); uerr != nil {
			s.log.Error("failed to mark notification failed", "message_id", m.ID, "error", uerr)
		}
		return
	}

	m.ProviderMessageID = res.ProviderMessageID
	if err := s.store.UpdateMessageStatus(ctx, a.TenantID, m.ID, message.StatusSent); err != nil {
		s.log.Error("failed to mark notification sent", "message_id", m.ID, "error", err)
	}
	if _, err := s.store.IncrementOutbound(ctx, a.TenantID, time.Now().UTC()); err != nil {
		s.log.Warn("usage increment failed", "tenant_id", a.TenantID, "error", err)
	}
	s.hub.Publish(ctx, event.New(event.MessageOutgoing, a.TenantID, map[string]any{
		"message_id": m.ID,
		"contact_id": c.ID,
	}))
}

// responseText renders the customer-facing outcome. UserResponse wins when
// the operator wrote one; otherwise a template keyed on the request type and
// decision applies.
func responseText(a *action.Action) string {
	if a.UserResponse != "" {
		return a.UserResponse
	}

	subject := strings.ReplaceAll(a.RequestType, "_", " ")
	switch a.Status {
	case action.StatusApproved:
		return fmt.Sprintf("Good news! Your %s request has been approved.", subject)
	case action.StatusDenied:
		return fmt.Sprintf("Unfortunately your %s request could not be approved.", subject)
	case action.StatusCancelled:
		return fmt.Sprintf("Your %s request has been cancelled.", subject)
	}
	return fmt.Sprintf("Your %s request has been updated.", subject)
}
