package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	rgotel "github.com/replygrid/replygrid/internal/adapter/otel"
	"github.com/replygrid/replygrid/internal/domain/event"
	"github.com/replygrid/replygrid/internal/domain/message"
	"github.com/replygrid/replygrid/internal/domain/turn"
	"github.com/replygrid/replygrid/internal/port/agent"
)

// process runs the full worker algorithm for one turn. The in-flight lock is
// held on entry and released here, success or failure.
func (p *Pipeline) process(ctx context.Context, t *turn.Turn) {
	defer p.inflight.Release(t.Key())
	started := time.Now()

	ctx, span := rgotel.StartTurnSpan(ctx, int64(t.TenantID), t.ContactID, t.AgentID)
	defer span.End()

	log := p.log.With(
		"tenant_id", t.TenantID,
		"chatbot_id", t.ChatbotID,
		"contact_id", t.ContactID,
	)

	c, err := p.store.GetContact(ctx, t.TenantID, t.ContactID)
	if err != nil {
		log.Error("contact lookup failed", "error", err)
		p.failed.Add(1)
		return
	}
	if err := p.store.TouchContact(ctx, t.TenantID, t.ContactID, t.LastArrival); err != nil {
		log.Warn("touch contact failed", "error", err)
	}

	inserted, failures := p.persistIncoming(ctx, t, log)

	// Every record already has a row: the dedup cache missed on a redelivered
	// batch. The agent already answered this turn, so do not invoke it again.
	if len(t.Records) > 0 && inserted == 0 && failures == 0 {
		log.Info("turn dropped, all records previously persisted")
		return
	}

	if c.Paused {
		p.pausedSkips.Add(1)
		log.Info("turn skipped, conversation paused", "paused_by", c.PausedBy)
		p.hub.Publish(ctx, event.New(event.TurnSkipped, t.TenantID, map[string]any{
			"contact_id": t.ContactID,
			"reason":     "paused",
			"paused_by":  c.PausedBy,
		}))
		return
	}

	over, err := p.overQuota(ctx, t)
	if err != nil {
		log.Warn("usage pre-check failed, proceeding", "error", err)
	}
	if over {
		p.quotaHits.Add(1)
		log.Info("turn rejected by quota")
		p.hub.Publish(ctx, event.New(event.QuotaExceeded, t.TenantID, map[string]any{
			"contact_id": t.ContactID,
		}))
		return
	}

	final, err := p.runAgent(ctx, t)
	if err != nil {
		p.failed.Add(1)
		log.Error("agent turn failed", "agent_id", t.AgentID, "error", err)
		p.writeDiagnostic(ctx, t, err)
		return
	}

	if final == "" {
		// Agent chose silence (e.g. the turn ended in tool sends only).
		p.processed.Add(1)
		return
	}

	p.sendFinal(ctx, t, final, time.Since(started), log)
}

// persistIncoming writes one row per originating BSP record and reports how
// many inserted versus failed; an insert that returns id 0 is a duplicate the
// store already holds. Store failures are logged and skipped; the BSP already
// has its 200 and will not redeliver.
func (p *Pipeline) persistIncoming(ctx context.Context, t *turn.Turn, log *slog.Logger) (inserted, failures int) {
	for _, rec := range t.Records {
		m := &message.Message{
			ProviderMessageID: rec.ProviderMessageID,
			ContactID:         t.ContactID,
			TenantID:          t.TenantID,
			ChatbotID:         t.ChatbotID,
			Direction:         message.DirectionIncoming,
			Type:              rec.Type,
			ContentText:       rec.Text,
			ContentURL:        rec.MediaURL,
			Status:            message.StatusDelivered,
			SentAt:            rec.ReceivedAt,
			UserSent:          true,
		}
		if rec.Type == message.TypeLocation {
			meta, _ := json.Marshal(map[string]float64{
				"latitude":  rec.Latitude,
				"longitude": rec.Longitude,
			})
			m.Metadata = meta
			m.ContentText = fmt.Sprintf("[location %.6f,%.6f]", rec.Latitude, rec.Longitude)
		}
		id, err := p.store.InsertMessage(ctx, m)
		if err != nil {
			failures++
			log.Warn("incoming persist failed", "provider_message_id", rec.ProviderMessageID, "error", err)
			continue
		}
		if id != 0 {
			inserted++
			p.hub.Publish(ctx, event.New(event.MessageIncoming, t.TenantID, map[string]any{
				"message_id": id,
				"contact_id": t.ContactID,
				"type":       rec.Type,
			}))
		}
	}
	return inserted, failures
}

// overQuota is the advisory pre-check; the post-increment is authoritative.
func (p *Pipeline) overQuota(ctx context.Context, t *turn.Turn) (bool, error) {
	ten, err := p.store.GetTenant(ctx, t.TenantID)
	if err != nil {
		return false, err
	}
	snap, err := p.store.UsageSnapshot(ctx, t.TenantID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	return snap.Exceeds(ten.Subscription), nil
}

// runAgent invokes the agent under the configured deadline and consumes its
// event stream. Only the Final text is returned; tool calls execute through
// the TurnContext callback inside the agent's own flow.
func (p *Pipeline) runAgent(ctx context.Context, t *turn.Turn) (string, error) {
	a, ok := p.agents.Get(t.AgentID)
	if !ok {
		return "", fmt.Errorf("agent %q not registered", t.AgentID)
	}

	deadline := p.cfg.AgentDeadline
	if deadline <= 0 {
		deadline = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	tc := agent.TurnContext{
		TenantID:     t.TenantID,
		ChatbotID:    t.ChatbotID,
		ContactID:    t.ContactID,
		ThreadID:     t.ThreadID,
		FromNumber:   t.FromNumber,
		LanguageHint: t.LanguageHint,
		Tools:        p.tools,
	}

	input := t.MergedText
	for _, att := range t.Attachments {
		if input != "" {
			input += "\n"
		}
		switch {
		case att.NeedsTranscription:
			input += fmt.Sprintf("[audio attachment: %s]", att.URL)
		case att.Caption != "":
			input += fmt.Sprintf("[%s attachment: %s] %s", att.Type, att.URL, att.Caption)
		default:
			input += fmt.Sprintf("[%s attachment: %s]", att.Type, att.URL)
		}
	}

	events := make(chan agent.Event, 16)
	runErr := make(chan error, 1)
	go func() {
		runErr <- a.Run(ctx, t.ThreadID, tc, input, events)
		close(events)
	}()

	var final string
	var agentErr error
	for ev := range events {
		switch e := ev.(type) {
		case agent.Final:
			final = e.Text
		case agent.ErrorEvent:
			agentErr = fmt.Errorf("agent error (%s): %s", e.Kind, e.Detail)
		case agent.TextChunk, agent.ToolCall, agent.ToolResult:
			// Intermediate narration; never customer-visible.
		}
	}

	if err := <-runErr; err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("agent deadline exceeded after %s: %w", deadline, err)
		}
		return "", err
	}
	if agentErr != nil {
		return "", agentErr
	}
	return final, nil
}

// sendFinal transmits the agent's final text and records the outcome.
func (p *Pipeline) sendFinal(ctx context.Context, t *turn.Turn, text string, took time.Duration, log *slog.Logger) {
	ctx, span := rgotel.StartSendSpan(ctx, t.SenderMSISDN, string(message.TypeText))
	defer span.End()

	tr, ok := p.transports.ForSender(t.SenderMSISDN)
	if !ok {
		p.failed.Add(1)
		log.Error("no transport for sender", "sender", t.SenderMSISDN)
		return
	}

	m := &message.Message{
		ContactID:            t.ContactID,
		TenantID:             t.TenantID,
		ChatbotID:            t.ChatbotID,
		Direction:            message.DirectionOutgoing,
		Type:                 message.TypeText,
		ContentText:          text,
		SentAt:               time.Now().UTC(),
		AIProcessed:          true,
		ProcessingDurationMS: took.Milliseconds(),
	}

	res, sendErr := tr.SendText(ctx, t.FromNumber, text)
	if sendErr != nil {
		p.failed.Add(1)
		m.Status = message.StatusFailed
		meta, _ := json.Marshal(map[string]string{"error": sendErr.Error()})
		m.Metadata = meta
		log.Error("outbound send failed", "error", sendErr)
	} else {
		m.Status = message.StatusSent
		m.ProviderMessageID = res.ProviderMessageID
	}

	id, err := p.store.InsertMessage(ctx, m)
	if err != nil {
		log.Warn("outgoing persist failed", "error", err)
	}

	if sendErr != nil {
		p.hub.Publish(ctx, event.New(event.MessageStatusChanged, t.TenantID, map[string]any{
			"message_id": id,
			"contact_id": t.ContactID,
			"status":     message.StatusFailed,
		}))
		return
	}

	if _, err := p.store.IncrementOutbound(ctx, t.TenantID, time.Now().UTC()); err != nil {
		log.Warn("usage increment failed", "error", err)
	}
	p.processed.Add(1)
	p.hub.Publish(ctx, event.New(event.MessageOutgoing, t.TenantID, map[string]any{
		"message_id": id,
		"contact_id": t.ContactID,
		"text":       text,
	}))
}

// writeDiagnostic records an agent failure as an internal transcript row.
// Nothing is sent to the customer.
func (p *Pipeline) writeDiagnostic(ctx context.Context, t *turn.Turn, cause error) {
	meta, _ := json.Marshal(map[string]string{"error": cause.Error(), "agent_id": t.AgentID})
	m := &message.Message{
		ContactID:   t.ContactID,
		TenantID:    t.TenantID,
		ChatbotID:   t.ChatbotID,
		Direction:   message.DirectionInternal,
		Type:        message.TypeText,
		ContentText: "agent turn failed: " + cause.Error(),
		Status:      message.StatusFailed,
		SentAt:      time.Now().UTC(),
		Metadata:    meta,
	}
	if _, err := p.store.InsertMessage(ctx, m); err != nil {
		p.log.Warn("diagnostic persist failed",
			"tenant_id", t.TenantID, "contact_id", t.ContactID, "error", err)
	}
}
