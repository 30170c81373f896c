// Package nats relays broadcast events onto NATS JetStream so sibling
// processes and external consumers see the same stream as local SSE clients.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/replygrid/replygrid/internal/domain/event"
)

const streamName = "REPLYGRID"

// Relay publishes events to JetStream. It implements broadcast.Broadcaster;
// publish failures are logged and never propagate into the pipeline.
type Relay struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	log *slog.Logger
}

// Connect establishes a connection and ensures the event stream exists.
func Connect(ctx context.Context, url string, log *slog.Logger) (*Relay, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"events.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	log.Info("nats connected", "url", url, "stream", streamName)
	return &Relay{nc: nc, js: js, log: log}, nil
}

// Publish relays ev to the subject events.<tenant_id>.<type>.
func (r *Relay) Publish(ctx context.Context, ev event.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		r.log.Error("nats relay marshal failed", "type", ev.Type, "error", err)
		return
	}
	subject := fmt.Sprintf("events.%d.%s", ev.TenantID, ev.Type)
	if _, err := r.js.Publish(ctx, subject, data); err != nil {
		r.log.Warn("nats relay publish failed", "subject", subject, "error", err)
	}
}

// KeyValue opens the named KV bucket, creating it with the given TTL when it
// does not exist.
func (r *Relay) KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := r.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("nats kv bucket %s: %w", bucket, err)
	}
	return kv, nil
}

// Close shuts down the connection.
func (r *Relay) Close() error {
	r.nc.Close()
	return nil
}
