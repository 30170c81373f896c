package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "replygrid"

// StartTurnSpan starts a span covering one debounced conversation turn.
func StartTurnSpan(ctx context.Context, tenantID, contactID int64, agentID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "turn",
		trace.WithAttributes(
			attribute.Int64("tenant.id", tenantID),
			attribute.Int64("contact.id", contactID),
			attribute.String("agent.id", agentID),
		),
	)
}

// StartToolCallSpan starts a span for an agent tool call within a turn.
func StartToolCallSpan(ctx context.Context, tool string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "toolcall",
		trace.WithAttributes(
			attribute.String("toolcall.tool", tool),
		),
	)
}

// StartSendSpan starts a span for an outbound transport send.
func StartSendSpan(ctx context.Context, sender, messageType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "send",
		trace.WithAttributes(
			attribute.String("send.sender", sender),
			attribute.String("send.type", messageType),
		),
	)
}
