// Package ristretto implements the in-process dedup cache used to
// short-circuit webhook redeliveries before they reach the database.
package ristretto

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Dedup remembers recently seen provider message ids. It is an optimization
// in front of the database unique index, not the source of truth: a miss
// here still dedupes on insert.
type Dedup struct {
	c   *ristretto.Cache[string, struct{}]
	ttl time.Duration
}

// NewDedup creates a dedup cache remembering up to maxEntries ids for ttl.
func NewDedup(maxEntries int64, ttl time.Duration) (*Dedup, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, struct{}]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Dedup{c: c, ttl: ttl}, nil
}

// Seen reports whether the id was marked within the TTL.
func (d *Dedup) Seen(providerMessageID string) bool {
	_, found := d.c.Get(providerMessageID)
	return found
}

// Mark records the id. Writes are asynchronous; a racing Seen may miss a
// just-marked id, which the database index tolerates.
func (d *Dedup) Mark(providerMessageID string) {
	d.c.SetWithTTL(providerMessageID, struct{}{}, 1, d.ttl)
}

// Close releases the cache's resources.
func (d *Dedup) Close() {
	d.c.Close()
}
