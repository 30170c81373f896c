package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/replygrid/replygrid/internal/domain/message"
	"github.com/replygrid/replygrid/internal/domain/turn"
)

// collectFlushes records flushed turns behind a mutex.
type collectFlushes struct {
	mu    sync.Mutex
	turns []*turn.Turn
}

func (c *collectFlushes) flush(t *turn.Turn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, t)
	return true
}

func (c *collectFlushes) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

func TestDebouncerCeilingForcesFlush(t *testing.T) {
	col := &collectFlushes{}
	// 40ms window, 100ms ceiling: a steady drip every 25ms would extend
	// forever without the ceiling.
	d := NewDebouncer(40*time.Millisecond, 100*time.Millisecond, col.flush)
	defer d.Close()

	stop := time.Now().Add(200 * time.Millisecond)
	i := 0
	for time.Now().Before(stop) {
		d.Add(meta(), textRec("", "drip"))
		i++
		time.Sleep(25 * time.Millisecond)
	}

	waitFor(t, time.Second, func() bool { return col.count() >= 1 })

	col.mu.Lock()
	first := col.turns[0]
	col.mu.Unlock()
	span := first.LastArrival.Sub(first.FirstArrival)
	if span > 150*time.Millisecond {
		t.Errorf("coalesce span %v exceeds ceiling", span)
	}
}

func TestDebouncerPreservesReceiptOrder(t *testing.T) {
	col := &collectFlushes{}
	d := NewDebouncer(30*time.Millisecond, 300*time.Millisecond, col.flush)
	defer d.Close()

	d.Add(meta(), textRec("o1", "a"))
	d.Add(meta(), textRec("o2", "b"))
	d.Add(meta(), textRec("o3", "c"))

	waitFor(t, time.Second, func() bool { return col.count() == 1 })

	col.mu.Lock()
	got := col.turns[0]
	col.mu.Unlock()
	if got.MergedText != "a\nb\nc" {
		t.Errorf("merged text = %q, want a\\nb\\nc", got.MergedText)
	}
	if len(got.Records) != 3 || got.Records[0].ProviderMessageID != "o1" || got.Records[2].ProviderMessageID != "o3" {
		t.Errorf("records out of order: %+v", got.Records)
	}
}

func TestDebouncerAudioTaggedForTranscription(t *testing.T) {
	col := &collectFlushes{}
	d := NewDebouncer(20*time.Millisecond, 200*time.Millisecond, col.flush)
	defer d.Close()

	rec := turn.Inbound{
		ProviderMessageID: "v1",
		Type:              message.TypeAudio,
		MediaURL:          "https://media.example/v1.ogg",
		ReceivedAt:        time.Now(),
	}
	d.Add(meta(), rec)

	waitFor(t, time.Second, func() bool { return col.count() == 1 })

	col.mu.Lock()
	got := col.turns[0]
	col.mu.Unlock()
	if len(got.Attachments) != 1 || !got.Attachments[0].NeedsTranscription {
		t.Errorf("audio attachment not tagged: %+v", got.Attachments)
	}
}

func TestDebouncerSeparateConversations(t *testing.T) {
	col := &collectFlushes{}
	d := NewDebouncer(20*time.Millisecond, 200*time.Millisecond, col.flush)
	defer d.Close()

	m1 := meta()
	m2 := meta()
	m2.TenantID = 2
	m2.ContactID = 7 // same contact id, different tenant

	d.Add(m1, textRec("x1", "for tenant one"))
	d.Add(m2, textRec("x2", "for tenant two"))

	waitFor(t, time.Second, func() bool { return col.count() == 2 })

	col.mu.Lock()
	defer col.mu.Unlock()
	tenants := map[int64]string{}
	for _, tn := range col.turns {
		tenants[int64(tn.TenantID)] = tn.MergedText
	}
	if tenants[1] != "for tenant one" || tenants[2] != "for tenant two" {
		t.Errorf("coalescing crossed tenants: %v", tenants)
	}
}

func TestDebouncerCloseStopsPending(t *testing.T) {
	col := &collectFlushes{}
	d := NewDebouncer(50*time.Millisecond, 500*time.Millisecond, col.flush)

	d.Add(meta(), textRec("p1", "never flushed"))
	d.Close()

	time.Sleep(100 * time.Millisecond)
	if col.count() != 0 {
		t.Error("pending turn flushed after Close")
	}
	if d.PendingCount() != 0 {
		t.Error("pending state not cleared by Close")
	}
}
