// Package broadcast defines the port for fanning out live events to
// dashboard subscribers.
package broadcast

import (
	"context"

	"github.com/replygrid/replygrid/internal/domain/event"
)

// Broadcaster publishes events to all matching subscribers. Publishing is
// non-blocking; slow subscribers are dropped, never waited on.
type Broadcaster interface {
	Publish(ctx context.Context, ev event.Event)
}

// Func adapts a function to the Broadcaster interface.
type Func func(ctx context.Context, ev event.Event)

// Publish calls f.
func (f Func) Publish(ctx context.Context, ev event.Event) { f(ctx, ev) }

// Nop is a Broadcaster that discards all events.
type Nop struct{}

// Publish discards the event.
func (Nop) Publish(context.Context, event.Event) {}
