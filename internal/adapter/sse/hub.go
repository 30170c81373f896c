// Package sse fans live events out to dashboard clients over
// Server-Sent Events.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/replygrid/replygrid/internal/domain/event"
	"github.com/replygrid/replygrid/internal/domain/tenant"
)

const (
	// subscriberBuffer is the per-client queue. A client that falls this
	// far behind starts losing events rather than slowing everyone else.
	subscriberBuffer = 64

	// keepAliveInterval spaces comment frames that hold idle connections
	// open through proxies.
	keepAliveInterval = 15 * time.Second
)

type subscriber struct {
	tenantID tenant.ID
	topic    string
	ch       chan event.Event
}

func (s *subscriber) wants(ev event.Event) bool {
	if s.tenantID != 0 && ev.TenantID != s.tenantID {
		return false
	}
	if s.topic != "" && ev.Type != s.topic {
		return false
	}
	return true
}

// Hub is the SSE broadcast hub. It implements broadcast.Broadcaster.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	dropped atomic.Uint64
}

// NewHub creates an SSE hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:  log,
		subs: make(map[*subscriber]struct{}),
	}
}

// Publish delivers ev to every matching subscriber. Full subscriber queues
// drop the event; publishing never blocks the pipeline.
func (h *Hub) Publish(_ context.Context, ev event.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs {
		if !s.wants(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			h.dropped.Add(1)
			h.log.Debug("sse subscriber lagging, event dropped",
				"type", ev.Type, "tenant_id", ev.TenantID)
		}
	}
}

// SubscriberCount returns the number of connected clients.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns the number of events lost to lagging subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) subscribe(tenantID tenant.ID, topic string) *subscriber {
	s := &subscriber{
		tenantID: tenantID,
		topic:    topic,
		ch:       make(chan event.Event, subscriberBuffer),
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// ServeStream streams events to one client until it disconnects. topic may
// be empty to receive everything; tenantID zero subscribes across tenants
// and is reserved for operator dashboards.
func (h *Hub) ServeStream(w http.ResponseWriter, r *http.Request, tenantID tenant.ID, topic string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s := h.subscribe(tenantID, topic)
	defer h.unsubscribe(s)

	h.log.Debug("sse client connected",
		"remote", r.RemoteAddr, "tenant_id", tenantID, "topic", topic)

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.log.Debug("sse client disconnected", "remote", r.RemoteAddr)
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ":\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-s.ch:
			if err := writeFrame(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeFrame(w http.ResponseWriter, ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
