package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/replygrid/replygrid/internal/domain"
	"github.com/replygrid/replygrid/internal/domain/action"
	"github.com/replygrid/replygrid/internal/domain/event"
	"github.com/replygrid/replygrid/internal/domain/message"
)

func seedAction(store *mockStore) *action.Action {
	a := &action.Action{
		ID: 500, TenantID: 1, ChatbotID: 10, ContactID: 100,
		RequestType: "refund_request", RequestDetails: "Order #1234, damaged on arrival",
		Priority: action.PriorityHigh, Status: action.StatusPending,
	}
	store.actions[a.ID] = a
	return a
}

func TestFeedbackApprovesAndNotifies(t *testing.T) {
	store := newMockStore()
	seedTenant(store)
	seedAction(store)
	tr := &mockTransport{sender: "385912345678"}
	hub := &mockHub{}
	svc := NewActions(testLogger(), store, mockTransports{"385912345678": tr}, hub)

	resolved, err := svc.Feedback(context.Background(), FeedbackRequest{
		ActionID: 500, Status: action.StatusApproved,
	})
	if err != nil {
		t.Fatalf("Feedback: %v", err)
	}
	if resolved.Status != action.StatusApproved || resolved.ResolvedAt == nil {
		t.Errorf("resolved = %+v", resolved)
	}

	texts := tr.sentTexts()
	if len(texts) != 1 || !strings.Contains(texts[0], "refund request") || !strings.Contains(texts[0], "approved") {
		t.Errorf("customer notification = %v", texts)
	}
	if rows := store.messagesByDirection(message.DirectionOutgoing); len(rows) != 1 || rows[0].Status != message.StatusSent {
		t.Errorf("outgoing rows = %+v", rows)
	}
	if evs := hub.byType(event.ActionResolved); len(evs) != 1 || evs[0].TenantID != 1 {
		t.Errorf("action.resolved events = %+v", evs)
	}
	if store.outbound[1] != 1 {
		t.Errorf("outbound count = %d, want 1", store.outbound[1])
	}
}

func TestFeedbackUsesOperatorResponseWhenGiven(t *testing.T) {
	store := newMockStore()
	seedTenant(store)
	seedAction(store)
	tr := &mockTransport{sender: "385912345678"}
	svc := NewActions(testLogger(), store, mockTransports{"385912345678": tr}, &mockHub{})

	_, err := svc.Feedback(context.Background(), FeedbackRequest{
		ActionID: 500, Status: action.StatusDenied,
		UserResponse: "We can offer store credit instead, reply CREDIT to accept.",
	})
	if err != nil {
		t.Fatalf("Feedback: %v", err)
	}
	if texts := tr.sentTexts(); len(texts) != 1 || texts[0] != "We can offer store credit instead, reply CREDIT to accept." {
		t.Errorf("texts = %v", texts)
	}
}

func TestFeedbackRedeliveryIsIdempotent(t *testing.T) {
	store := newMockStore()
	seedTenant(store)
	seedAction(store)
	tr := &mockTransport{sender: "385912345678"}
	hub := &mockHub{}
	svc := NewActions(testLogger(), store, mockTransports{"385912345678": tr}, hub)

	req := FeedbackRequest{ActionID: 500, Status: action.StatusApproved}
	if _, err := svc.Feedback(context.Background(), req); err != nil {
		t.Fatalf("first Feedback: %v", err)
	}
	resolved, err := svc.Feedback(context.Background(), req)
	if err != nil {
		t.Fatalf("redelivered Feedback: %v", err)
	}
	if resolved.Status != action.StatusApproved {
		t.Errorf("resolved = %+v", resolved)
	}
	if texts := tr.sentTexts(); len(texts) != 1 {
		t.Errorf("customer notified %d times, want 1", len(texts))
	}
	if evs := hub.byType(event.ActionResolved); len(evs) != 1 {
		t.Errorf("action.resolved events = %d, want 1", len(evs))
	}
}

func TestFeedbackContradictingDecisionConflicts(t *testing.T) {
	store := newMockStore()
	seedTenant(store)
	seedAction(store)
	svc := NewActions(testLogger(), store, mockTransports{}, &mockHub{})

	if _, err := svc.Feedback(context.Background(), FeedbackRequest{ActionID: 500, Status: action.StatusApproved}); err != nil {
		t.Fatalf("first Feedback: %v", err)
	}
	_, err := svc.Feedback(context.Background(), FeedbackRequest{ActionID: 500, Status: action.StatusDenied})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestFeedbackValidatesStatus(t *testing.T) {
	svc := NewActions(testLogger(), newMockStore(), mockTransports{}, &mockHub{})
	_, err := svc.Feedback(context.Background(), FeedbackRequest{ActionID: 500, Status: action.StatusPending})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestFeedbackUnknownActionNotFound(t *testing.T) {
	store := newMockStore()
	seedTenant(store)
	svc := NewActions(testLogger(), store, mockTransports{}, &mockHub{})
	_, err := svc.Feedback(context.Background(), FeedbackRequest{ActionID: 999, Status: action.StatusApproved})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFeedbackNotificationFailureKeepsResolution(t *testing.T) {
	store := newMockStore()
	seedTenant(store)
	seedAction(store)
	tr := &mockTransport{sender: "385912345678", fail: true}
	svc := NewActions(testLogger(), store, mockTransports{"385912345678": tr}, &mockHub{})

	resolved, err := svc.Feedback(context.Background(), FeedbackRequest{ActionID: 500, Status: action.StatusApproved})
	if err != nil {
		t.Fatalf("Feedback: %v", err)
	}
	if resolved.Status != action.StatusApproved {
		t.Errorf("resolution must survive notification failure: %+v", resolved)
	}
	if rows := store.messagesByDirection(message.DirectionOutgoing); len(rows) != 1 || rows[0].Status != message.StatusFailed {
		t.Errorf("outgoing rows = %+v, want one failed row", rows)
	}
	if store.outbound[1] != 0 {
		t.Errorf("outbound count = %d, failed notification must not count", store.outbound[1])
	}
}
