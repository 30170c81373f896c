// Package ws mirrors the broadcast event stream over WebSocket for
// dashboards that prefer a socket to SSE.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/replygrid/replygrid/internal/domain/event"
	"github.com/replygrid/replygrid/internal/domain/tenant"
)

// connBuffer is the per-connection send queue. Lagging clients lose events.
const connBuffer = 64

type conn struct {
	tenantID tenant.ID
	ch       chan event.Event
	cancel   context.CancelFunc
}

// Hub manages active WebSocket connections. It implements
// broadcast.Broadcaster alongside the SSE hub.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates a WebSocket hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:   log,
		conns: make(map[*conn]struct{}),
	}
}

// Publish queues ev on every connection watching its tenant. Full queues
// drop the event.
func (h *Hub) Publish(_ context.Context, ev event.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns {
		if c.tenantID != 0 && ev.TenantID != c.tenantID {
			continue
		}
		select {
		case c.ch <- ev:
		default:
			h.log.Debug("ws connection lagging, event dropped", "type", ev.Type)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Serve upgrades the request and streams events until the client leaves.
// tenantID zero watches all tenants.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, tenantID tenant.ID) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		h.log.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{
		tenantID: tenantID,
		ch:       make(chan event.Event, connBuffer),
		cancel:   cancel,
	}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	h.log.Debug("websocket connected", "remote", r.RemoteAddr, "tenant_id", tenantID)

	// Read loop detects disconnects and consumes pings.
	go func() {
		defer h.remove(c)
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()

	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-c.ch:
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
					return
				}
			}
		}
	}()
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		h.log.Debug("websocket disconnected")
	}
}
