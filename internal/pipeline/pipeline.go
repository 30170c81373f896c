// Package pipeline implements the ingress-to-agent pipeline: per-conversation
// debouncing, a bounded dispatch queue, and a fixed-size worker pool with
// single-flight per conversation.
package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/replygrid/replygrid/internal/config"
	"github.com/replygrid/replygrid/internal/domain/event"
	"github.com/replygrid/replygrid/internal/domain/turn"
	"github.com/replygrid/replygrid/internal/port/agent"
	"github.com/replygrid/replygrid/internal/port/broadcast"
	"github.com/replygrid/replygrid/internal/port/database"
	"github.com/replygrid/replygrid/internal/port/transport"
)

// Transports resolves the per-tenant BSP client for a sender MSISDN.
type Transports interface {
	ForSender(senderMSISDN string) (transport.MessagingTransport, bool)
}

// Pipeline owns all scheduling state: the debouncer, the dispatch queue and
// the in-flight set. It is constructed once and passed explicitly; there are
// no package-level singletons.
type Pipeline struct {
	cfg        config.Pipeline
	log        *slog.Logger
	store      database.Store
	agents     *agent.Registry
	transports Transports
	tools      agent.ToolExecutor
	hub        broadcast.Broadcaster

	deb      *Debouncer
	inflight *inFlight
	queue    chan *turn.Turn

	busyWorkers atomic.Int64
	processed   atomic.Int64
	rejected    atomic.Int64
	failed      atomic.Int64
	quotaHits   atomic.Int64
	pausedSkips atomic.Int64

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New constructs a pipeline. Start must be called before submitting records.
func New(
	cfg config.Pipeline,
	log *slog.Logger,
	store database.Store,
	agents *agent.Registry,
	transports Transports,
	tools agent.ToolExecutor,
	hub broadcast.Broadcaster,
) *Pipeline {
	p := &Pipeline{
		cfg:        cfg,
		log:        log,
		store:      store,
		agents:     agents,
		transports: transports,
		tools:      tools,
		hub:        hub,
		inflight:   newInFlight(),
		queue:      make(chan *turn.Turn, cfg.QueueCapacity),
	}
	p.deb = NewDebouncer(cfg.DebounceWindow, cfg.MaxCoalesceSpan, p.dispatch)
	return p
}

// Submit feeds one routed inbound record into the debouncer.
func (p *Pipeline) Submit(meta TurnMeta, rec turn.Inbound) {
	p.deb.Add(meta, rec)
}

// dispatch moves a coalesced turn into the worker queue. Returns false when
// the conversation is already in flight so the debouncer re-arms.
func (p *Pipeline) dispatch(t *turn.Turn) bool {
	key := t.Key()
	if !p.inflight.TryAcquire(key) {
		p.log.Debug("dispatch deferred, conversation in flight",
			"tenant_id", t.TenantID, "contact_id", t.ContactID)
		return false
	}

	timeout := p.cfg.EnqueueTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case p.queue <- t:
		return true
	case <-timer.C:
		// Queue saturated: reject the turn, no customer reply.
		p.inflight.Release(key)
		p.rejected.Add(1)
		p.log.Warn("queue full, turn rejected",
			"tenant_id", t.TenantID, "contact_id", t.ContactID,
			"queue_depth", len(p.queue))
		p.hub.Publish(context.Background(), event.New(event.QueueFull, t.TenantID, map[string]any{
			"contact_id": t.ContactID,
			"records":    len(t.Records),
		}))
		return true // consumed, do not re-arm
	}
}

// Start launches the worker pool.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.MaxWorkers; i++ {
		p.group.Go(func() error {
			p.workerLoop(ctx)
			return nil
		})
	}
}

// Shutdown stops intake and drains in-flight work within the budget.
func (p *Pipeline) Shutdown() {
	p.deb.Close()

	done := make(chan struct{})
	go func() {
		close(p.queue)
		_ = p.group.Wait()
		close(done)
	}()

	budget := p.cfg.ShutdownBudget
	if budget <= 0 {
		budget = 15 * time.Second
	}
	select {
	case <-done:
	case <-time.After(budget):
		p.log.Warn("shutdown budget exceeded, cancelling workers")
		p.cancel()
		<-done
	}
}

func (p *Pipeline) workerLoop(ctx context.Context) {
	for t := range p.queue {
		select {
		case <-ctx.Done():
			// Budget exceeded: release and drop remaining turns.
			p.inflight.Release(t.Key())
			continue
		default:
		}
		p.busyWorkers.Add(1)
		p.process(ctx, t)
		p.busyWorkers.Add(-1)
	}
}

// Metrics is the pipeline health snapshot exposed on /health and /metrics.
type Metrics struct {
	QueueDepth    int   `json:"queue_depth"`
	QueueCapacity int   `json:"queue_capacity"`
	BusyWorkers   int64 `json:"busy_workers"`
	MaxWorkers    int   `json:"max_workers"`
	PendingTurns  int   `json:"pending_turns"`
	InFlight      int   `json:"in_flight"`
	Processed     int64 `json:"processed_count"`
	Rejected      int64 `json:"rejected_count"`
	Failed        int64 `json:"failed_count"`
	QuotaHits     int64 `json:"quota_hits"`
	PausedSkips   int64 `json:"paused_skips"`
}

// Snapshot returns current pipeline counters.
func (p *Pipeline) Snapshot() Metrics {
	return Metrics{
		QueueDepth:    len(p.queue),
		QueueCapacity: cap(p.queue),
		BusyWorkers:   p.busyWorkers.Load(),
		MaxWorkers:    p.cfg.MaxWorkers,
		PendingTurns:  p.deb.PendingCount(),
		InFlight:      p.inflight.Len(),
		Processed:     p.processed.Load(),
		Rejected:      p.rejected.Load(),
		Failed:        p.failed.Load(),
		QuotaHits:     p.quotaHits.Load(),
		PausedSkips:   p.pausedSkips.Load(),
	}
}
