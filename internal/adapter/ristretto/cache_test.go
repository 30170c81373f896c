package ristretto

import (
	"testing"
	"time"
)

func TestDedupMarksAndExpires(t *testing.T) {
	d, err := NewDedup(1000, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewDedup: %v", err)
	}
	defer d.Close()

	if d.Seen("wamid.1") {
		t.Error("unseen id reported seen")
	}

	d.Mark("wamid.1")
	// Ristretto applies writes asynchronously.
	deadline := time.Now().Add(time.Second)
	for !d.Seen("wamid.1") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !d.Seen("wamid.1") {
		t.Fatal("marked id never became visible")
	}

	time.Sleep(100 * time.Millisecond)
	if d.Seen("wamid.1") {
		t.Error("id still seen after ttl")
	}
}
