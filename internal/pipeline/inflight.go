package pipeline

import (
	"sync"

	"github.com/replygrid/replygrid/internal/domain/contact"
)

const inFlightShards = 16

// inFlight tracks conversations with a turn queued or being processed.
// Sharded by conversation key hash so the debouncer's flush path and the
// workers' release path do not contend on one mutex.
type inFlight struct {
	shards [inFlightShards]inFlightShard
}

type inFlightShard struct {
	mu   sync.Mutex
	keys map[contact.Key]struct{}
}

func newInFlight() *inFlight {
	f := &inFlight{}
	for i := range f.shards {
		f.shards[i].keys = make(map[contact.Key]struct{})
	}
	return f
}

func (f *inFlight) shard(key contact.Key) *inFlightShard {
	h := uint64(key.TenantID)*0x9e3779b97f4a7c15 ^ uint64(key.ContactID)
	return &f.shards[h%inFlightShards]
}

// TryAcquire marks the key in flight. Returns false if it already is.
func (f *inFlight) TryAcquire(key contact.Key) bool {
	s := f.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.keys[key]; busy {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

// Release clears the key. Safe to call on a key that is not held.
func (f *inFlight) Release(key contact.Key) {
	s := f.shard(key)
	s.mu.Lock()
	delete(s.keys, key)
	s.mu.Unlock()
}

// Len returns the number of in-flight conversations.
func (f *inFlight) Len() int {
	n := 0
	for i := range f.shards {
		f.shards[i].mu.Lock()
		n += len(f.shards[i].keys)
		f.shards[i].mu.Unlock()
	}
	return n
}
