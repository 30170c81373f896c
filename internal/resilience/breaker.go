// Package resilience provides retry and circuit-breaking for calls to the
// BSP messaging API.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker is rejecting calls because the
// BSP endpoint has been failing.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// Breaker trips after a run of consecutive send failures and rejects calls
// for a cooldown period. After the cooldown one probe call is let through;
// if it succeeds the breaker closes, if it fails the cooldown restarts.
// One Breaker guards one sender's HTTP client.
type Breaker struct {
	mu        sync.Mutex
	state     breakerState
	streak    int
	threshold int
	cooldown  time.Duration
	trippedAt time.Time
	clock     func() time.Time
}

// NewBreaker returns a breaker that opens after threshold consecutive
// failures and stays open for the given cooldown.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// Execute runs fn unless the breaker is open, in which case it returns
// ErrCircuitOpen without calling fn. The outcome of fn feeds the breaker.
func (b *Breaker) Execute(fn func() error) error {
	if !b.admit() {
		return ErrCircuitOpen
	}
	err := fn()
	b.record(err)
	return err
}

// Tripped reports whether the breaker is currently rejecting calls.
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == breakerOpen && b.clock().Sub(b.trippedAt) < b.cooldown
}

func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerOpen {
		if b.clock().Sub(b.trippedAt) < b.cooldown {
			return false
		}
		b.state = breakerHalfOpen
	}
	return true
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.streak = 0
		b.state = breakerClosed
		return
	}

	b.streak++
	// A half-open probe failure reopens immediately, whatever the streak.
	if b.state == breakerHalfOpen || b.streak >= b.threshold {
		b.state = breakerOpen
		b.trippedAt = b.clock()
	}
}
