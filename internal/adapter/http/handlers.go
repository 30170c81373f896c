// Package http exposes the broker's ingress surface: BSP and Shopify
// webhooks, operator endpoints, live event streams and health probes.
package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/replygrid/replygrid/internal/adapter/sse"
	"github.com/replygrid/replygrid/internal/adapter/ws"
	"github.com/replygrid/replygrid/internal/domain/message"
	"github.com/replygrid/replygrid/internal/domain/tenant"
	"github.com/replygrid/replygrid/internal/pipeline"
	"github.com/replygrid/replygrid/internal/service"
)

const (
	// maxWebhookBody caps BSP and Shopify webhook bodies.
	maxWebhookBody = 2 << 20
	// maxJSONBody caps operator request bodies.
	maxJSONBody = 64 << 10

	healthTimeout = 2 * time.Second
)

// Pinger reports storage reachability for the health probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers carries the HTTP surface's dependencies.
type Handlers struct {
	Log       *slog.Logger
	Ingest    *service.Ingest
	Manual    *service.Manual
	Actions   *service.Actions
	Knowledge *service.Knowledge
	Stream    *sse.Hub
	Sockets   *ws.Hub
	DB        Pinger
	Snapshot  func() pipeline.Metrics

	started time.Time
}

// NewHandlers stamps the start time used by the health probe.
func NewHandlers(h Handlers) *Handlers {
	h.started = time.Now()
	return &h
}

// HandleWebhook accepts one BSP webhook batch. The BSP retries anything
// but a 2xx, so individually bad records are skipped rather than failing
// the batch; only an undecodable body earns a 400.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	n, err := h.Ingest.Receive(r.Context(), body)
	if err != nil {
		writeDomainError(w, err, "webhook not processed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "success",
		"processed_messages": n,
	})
}

// HandleManualMessage transmits one dashboard-persisted operator message.
// A retried delivery of the same message_id replays the recorded outcome.
func (h *Handlers) HandleManualMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.ManualRequest](w, r, maxJSONBody)
	if !ok {
		return
	}

	m, err := h.Manual.Send(r.Context(), req)
	if err != nil {
		// A failed row means the message exists but the transport refused
		// it; that is a gateway problem, not a bad request.
		if m != nil && m.Status == message.StatusFailed {
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"status":  "error",
				"message": "transport send failed",
			})
			return
		}
		writeDomainError(w, err, "message not found")
		return
	}
	if m.Status == message.StatusFailed {
		// Replayed delivery of a message whose first attempt failed.
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"status":  "error",
			"message": "transport send failed",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "message sent",
	})
}

// HandleActionFeedback applies one operator decision to a pending action.
func (h *Handlers) HandleActionFeedback(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.FeedbackRequest](w, r, maxJSONBody)
	if !ok {
		return
	}

	if _, err := h.Actions.Feedback(r.Context(), req); err != nil {
		writeDomainError(w, err, "action not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// HandleShopifyWebhook syncs one product payload into the knowledge base.
// HMAC verification happens in middleware before this runs.
func (h *Handlers) HandleShopifyWebhook(w http.ResponseWriter, r *http.Request) {
	tenantID, err := queryInt64(r, "tenant_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	chatbotID, err := queryInt64(r, "chatbot_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	e, err := h.Knowledge.SyncProduct(r.Context(), tenant.ID(tenantID), chatbotID, body)
	if err != nil {
		writeDomainError(w, err, "product not synced")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"category": e.Category,
		"question": e.Question,
		"active":   e.IsActive,
	})
}

// HandleStream serves the SSE event feed. An optional {topic} path segment
// and tenant_id query parameter narrow the stream.
func (h *Handlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	tenantID, err := queryTenantID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.Stream.ServeStream(w, r, tenantID, urlParam(r, "topic"))
}

// HandleWS upgrades to a WebSocket mirror of the event feed.
func (h *Handlers) HandleWS(w http.ResponseWriter, r *http.Request) {
	tenantID, err := queryTenantID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.Sockets.Serve(w, r, tenantID)
}

// HandleHealth reports storage reachability and the pipeline snapshot.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.DB.Ping(ctx); err != nil {
		h.Log.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":   "unavailable",
			"postgres": "unreachable",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"uptime_seconds":  int64(time.Since(h.started).Seconds()),
		"pipeline":        h.Snapshot(),
		"sse_subscribers": h.Stream.SubscriberCount(),
		"ws_connections":  h.Sockets.ConnectionCount(),
	})
}

// HandleMetrics exposes the pipeline counters as JSON.
func (h *Handlers) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Snapshot())
}
