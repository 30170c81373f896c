package postgres

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/replygrid/replygrid/internal/domain/event"
	"github.com/replygrid/replygrid/internal/port/broadcast"
)

// notifyChannel is the pg_notify channel raised by the schema triggers.
const notifyChannel = "replygrid_events"

// Listener bridges database change notifications into the broadcast hub so
// writes from other processes (dashboard pause toggles) reach this one's
// SSE subscribers.
type Listener struct {
	pool *pgxpool.Pool
	hub  broadcast.Broadcaster
	log  *slog.Logger
}

// NewListener creates a listener publishing into hub.
func NewListener(pool *pgxpool.Pool, hub broadcast.Broadcaster, log *slog.Logger) *Listener {
	return &Listener{pool: pool, hub: hub, log: log}
}

// Run blocks listening for notifications until ctx is cancelled. Connection
// loss backs off and reconnects; notifications during the gap are lost,
// which dashboards tolerate by re-reading on reconnect.
func (l *Listener) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := l.listen(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.log.Warn("pg listener disconnected, retrying", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.publish(ctx, n.Payload)
	}
}

// publish decodes a trigger payload into a hub event. Payloads that do not
// decode are dropped with a warning; the trigger owns the shape.
func (l *Listener) publish(ctx context.Context, payload string) {
	var ev event.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		l.log.Warn("undecodable pg notification", "error", err)
		return
	}
	if ev.Type == "" || ev.TenantID == 0 {
		l.log.Warn("pg notification missing type or tenant", "payload", payload)
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	l.hub.Publish(ctx, ev)
}
