package pipeline

import (
	"sync"
	"time"

	"github.com/replygrid/replygrid/internal/domain/contact"
	"github.com/replygrid/replygrid/internal/domain/message"
	"github.com/replygrid/replygrid/internal/domain/tenant"
	"github.com/replygrid/replygrid/internal/domain/turn"
)

const (
	debounceShards = 16
	// DebounceFloor is the minimum coalescing window. Single-message
	// traffic still waits this long so near-simultaneous arrivals merge.
	DebounceFloor = 10 * time.Millisecond
)

// TurnMeta identifies the conversation a record belongs to, as resolved by
// the router and the contact upsert before debouncing.
type TurnMeta struct {
	TenantID     tenant.ID
	ChatbotID    int64
	AgentID      string
	SenderMSISDN string
	ContactID    int64
	ThreadID     string
	FromNumber   string
	ContactName  string
	LanguageHint string
}

// flushFunc receives a completed turn. It returns false when dispatch must
// be deferred (conversation already in flight); the debouncer then re-arms
// the pending turn as if fresh messages were still arriving.
type flushFunc func(t *turn.Turn) bool

// Debouncer coalesces per-conversation message bursts into single turns.
// State is sharded by conversation key; each pending turn owns one timer.
type Debouncer struct {
	window  time.Duration
	ceiling time.Duration
	flush   flushFunc
	now     func() time.Time

	shards [debounceShards]debounceShard

	// closeMu gates fires against Close: fires hold the read lock for
	// their full duration, Close takes the write lock, so no flush can
	// reach the dispatch queue after Close returns.
	closeMu sync.RWMutex
	closed  bool
}

type debounceShard struct {
	mu      sync.Mutex
	pending map[contact.Key]*pendingTurn
}

type pendingTurn struct {
	turn  *turn.Turn
	timer *time.Timer
}

// NewDebouncer creates a debouncer. The window is clamped to DebounceFloor;
// ceiling bounds total coalescing span from first arrival.
func NewDebouncer(window, ceiling time.Duration, flush flushFunc) *Debouncer {
	if window < DebounceFloor {
		window = DebounceFloor
	}
	if ceiling < window {
		ceiling = window
	}
	d := &Debouncer{
		window:  window,
		ceiling: ceiling,
		flush:   flush,
		now:     time.Now,
	}
	for i := range d.shards {
		d.shards[i].pending = make(map[contact.Key]*pendingTurn)
	}
	return d
}

func (d *Debouncer) shard(key contact.Key) *debounceShard {
	h := uint64(key.TenantID)*0x9e3779b97f4a7c15 ^ uint64(key.ContactID)
	return &d.shards[h%debounceShards]
}

// Add merges one inbound record into the conversation's pending turn,
// opening a new one if none exists. Records merge in receipt order; the
// deadline extends per record up to the ceiling from first arrival.
func (d *Debouncer) Add(meta TurnMeta, rec turn.Inbound) {
	key := contact.Key{TenantID: meta.TenantID, ContactID: meta.ContactID}
	s := d.shard(key)
	now := d.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[key]
	if !ok {
		p = &pendingTurn{
			turn: &turn.Turn{
				TenantID:     meta.TenantID,
				ChatbotID:    meta.ChatbotID,
				AgentID:      meta.AgentID,
				SenderMSISDN: meta.SenderMSISDN,
				ContactID:    meta.ContactID,
				ThreadID:     meta.ThreadID,
				FromNumber:   meta.FromNumber,
				ContactName:  meta.ContactName,
				LanguageHint: meta.LanguageHint,
				FirstArrival: now,
			},
		}
		s.pending[key] = p
		merge(p.turn, rec, now)
		p.timer = time.AfterFunc(d.window, func() { d.fire(key) })
		return
	}

	merge(p.turn, rec, now)

	// Extend the deadline, bounded by the ceiling from first arrival.
	deadline := now.Add(d.window)
	if limit := p.turn.FirstArrival.Add(d.ceiling); deadline.After(limit) {
		deadline = limit
	}
	wait := deadline.Sub(now)
	if wait < 0 {
		wait = 0
	}
	p.timer.Reset(wait)
}

// merge appends one record to the turn buffer. Texts join with newlines;
// media collects as attachments, audio tagged for transcription.
func merge(t *turn.Turn, rec turn.Inbound, now time.Time) {
	t.Records = append(t.Records, rec)
	t.LastArrival = now

	if rec.Text != "" {
		if t.MergedText != "" {
			t.MergedText += "\n"
		}
		t.MergedText += rec.Text
	}
	switch rec.Type {
	case message.TypeImage, message.TypeDocument:
		t.Attachments = append(t.Attachments, turn.Attachment{
			Type:    rec.Type,
			URL:     rec.MediaURL,
			Caption: rec.Caption,
		})
	case message.TypeAudio:
		t.Attachments = append(t.Attachments, turn.Attachment{
			Type:               rec.Type,
			URL:                rec.MediaURL,
			NeedsTranscription: true,
		})
	}
}

// fire flushes one conversation when its deadline expires.
func (d *Debouncer) fire(key contact.Key) {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return
	}

	s := d.shard(key)

	s.mu.Lock()
	p, ok := s.pending[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	s.mu.Unlock()

	if d.flush(p.turn) {
		return
	}

	// Conversation in flight: re-arm unless a newer pending turn opened
	// meanwhile; its records fold into the deferred buffer in receipt order.
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, exists := s.pending[key]; exists {
		merged := p.turn
		for _, rec := range cur.turn.Records {
			merge(merged, rec, d.now())
		}
		cur.turn = merged
		return
	}
	p.timer = time.AfterFunc(d.window, func() { d.fire(key) })
	s.pending[key] = p
}

// PendingCount returns the number of conversations with a pending turn.
func (d *Debouncer) PendingCount() int {
	n := 0
	for i := range d.shards {
		d.shards[i].mu.Lock()
		n += len(d.shards[i].pending)
		d.shards[i].mu.Unlock()
	}
	return n
}

// Close stops all timers and waits for in-progress flushes. Pending turns
// that have not fired are discarded; the BSP redelivers on silence.
func (d *Debouncer) Close() {
	d.closeMu.Lock()
	d.closed = true
	d.closeMu.Unlock()

	for i := range d.shards {
		s := &d.shards[i]
		s.mu.Lock()
		for key, p := range s.pending {
			p.timer.Stop()
			delete(s.pending, key)
		}
		s.mu.Unlock()
	}
}
