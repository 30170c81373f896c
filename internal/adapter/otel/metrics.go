package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "replygrid"

// PipelineStats is the counter snapshot observed on each metric collection.
type PipelineStats struct {
	Processed   int64
	Rejected    int64
	Failed      int64
	QuotaHits   int64
	PausedSkips int64
	QueueDepth  int64
	BusyWorkers int64
	Pending     int64
	InFlight    int64
}

// Metrics holds the broker's metric instruments.
type Metrics struct {
	TurnsProcessed metric.Int64ObservableCounter
	TurnsRejected  metric.Int64ObservableCounter
	TurnsFailed    metric.Int64ObservableCounter
	QuotaHits      metric.Int64ObservableCounter
	PausedSkips    metric.Int64ObservableCounter
	QueueDepth     metric.Int64ObservableGauge
	BusyWorkers    metric.Int64ObservableGauge
	PendingTurns   metric.Int64ObservableGauge
	InFlight       metric.Int64ObservableGauge

	registration metric.Registration
}

// NewMetrics registers instruments observing the given snapshot source.
// Counters mirror the pipeline's internal counters so export cost is a
// single snapshot call per collection.
func NewMetrics(snapshot func() PipelineStats) (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.TurnsProcessed, err = meter.Int64ObservableCounter("replygrid.turns.processed",
		metric.WithDescription("Turns processed to completion")); err != nil {
		return nil, err
	}
	if m.TurnsRejected, err = meter.Int64ObservableCounter("replygrid.turns.rejected",
		metric.WithDescription("Turns rejected because the queue was full")); err != nil {
		return nil, err
	}
	if m.TurnsFailed, err = meter.Int64ObservableCounter("replygrid.turns.failed",
		metric.WithDescription("Turns that ended in an agent or transport failure")); err != nil {
		return nil, err
	}
	if m.QuotaHits, err = meter.Int64ObservableCounter("replygrid.quota.hits",
		metric.WithDescription("Turns that found their tenant over quota")); err != nil {
		return nil, err
	}
	if m.PausedSkips, err = meter.Int64ObservableCounter("replygrid.turns.paused_skips",
		metric.WithDescription("Turns skipped because the conversation was paused")); err != nil {
		return nil, err
	}
	if m.QueueDepth, err = meter.Int64ObservableGauge("replygrid.queue.depth",
		metric.WithDescription("Turns waiting in the dispatch queue")); err != nil {
		return nil, err
	}
	if m.BusyWorkers, err = meter.Int64ObservableGauge("replygrid.workers.busy",
		metric.WithDescription("Workers currently processing a turn")); err != nil {
		return nil, err
	}
	if m.PendingTurns, err = meter.Int64ObservableGauge("replygrid.turns.pending",
		metric.WithDescription("Turns held open in the debouncer")); err != nil {
		return nil, err
	}
	if m.InFlight, err = meter.Int64ObservableGauge("replygrid.turns.in_flight",
		metric.WithDescription("Conversations with a turn past dispatch")); err != nil {
		return nil, err
	}

	m.registration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snap := snapshot()
		o.ObserveInt64(m.TurnsProcessed, snap.Processed)
		o.ObserveInt64(m.TurnsRejected, snap.Rejected)
		o.ObserveInt64(m.TurnsFailed, snap.Failed)
		o.ObserveInt64(m.QuotaHits, snap.QuotaHits)
		o.ObserveInt64(m.PausedSkips, snap.PausedSkips)
		o.ObserveInt64(m.QueueDepth, snap.QueueDepth)
		o.ObserveInt64(m.BusyWorkers, snap.BusyWorkers)
		o.ObserveInt64(m.PendingTurns, snap.Pending)
		o.ObserveInt64(m.InFlight, snap.InFlight)
		return nil
	}, m.TurnsProcessed, m.TurnsRejected, m.TurnsFailed, m.QuotaHits, m.PausedSkips,
		m.QueueDepth, m.BusyWorkers, m.PendingTurns, m.InFlight)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Unregister detaches the snapshot callback.
func (m *Metrics) Unregister() error {
	if m.registration == nil {
		return nil
	}
	return m.registration.Unregister()
}
