package natskv

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// fakeBucket is an in-memory bucket.
type fakeBucket struct {
	data   map[string][]byte
	getErr error
	putErr error
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{data: make(map[string][]byte)}
}

func (b *fakeBucket) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	if b.getErr != nil {
		return nil, b.getErr
	}
	v, ok := b.data[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return &fakeEntry{key: key, value: v}, nil
}

func (b *fakeBucket) Put(_ context.Context, key string, value []byte) (uint64, error) {
	if b.putErr != nil {
		return 0, b.putErr
	}
	b.data[key] = value
	return 1, nil
}

func (b *fakeBucket) Delete(_ context.Context, key string, _ ...jetstream.KVDeleteOpt) error {
	if _, ok := b.data[key]; !ok {
		return jetstream.ErrKeyNotFound
	}
	delete(b.data, key)
	return nil
}

type fakeEntry struct {
	key   string
	value []byte
}

func (e *fakeEntry) Bucket() string                  { return "test" }
func (e *fakeEntry) Key() string                     { return e.key }
func (e *fakeEntry) Value() []byte                   { return e.value }
func (e *fakeEntry) Revision() uint64                { return 1 }
func (e *fakeEntry) Created() time.Time              { return time.Time{} }
func (e *fakeEntry) Delta() uint64                   { return 0 }
func (e *fakeEntry) Operation() jetstream.KeyValueOp { return jetstream.KeyValuePut }

func TestGetMissingKeyIsNotAnError(t *testing.T) {
	c := &Cache{kv: newFakeBucket()}

	data, ok, err := c.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok || data != nil {
		t.Errorf("Get = %v, %v, want nil, false", data, ok)
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	c := &Cache{kv: newFakeBucket()}

	if err := c.Set(context.Background(), "idem-key", []byte(`{"status":200}`), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	data, ok, err := c.Get(context.Background(), "idem-key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || !bytes.Equal(data, []byte(`{"status":200}`)) {
		t.Errorf("Get = %q, %v", data, ok)
	}
}

func TestDeleteMissingKeyIsNoOp(t *testing.T) {
	b := newFakeBucket()
	c := &Cache{kv: b}

	if err := c.Delete(context.Background(), "absent"); err != nil {
		t.Errorf("Delete missing: %v", err)
	}

	b.data["k"] = []byte("v")
	if err := c.Delete(context.Background(), "k"); err != nil {
		t.Errorf("Delete: %v", err)
	}
	if _, ok := b.data["k"]; ok {
		t.Error("key survived Delete")
	}
}

func TestErrorsPropagate(t *testing.T) {
	b := newFakeBucket()
	b.getErr = errors.New("nats connection lost")
	b.putErr = errors.New("nats connection lost")
	c := &Cache{kv: b}

	if _, _, err := c.Get(context.Background(), "k"); err == nil {
		t.Error("Get must surface bucket errors")
	}
	if err := c.Set(context.Background(), "k", []byte("v"), time.Minute); err == nil {
		t.Error("Set must surface bucket errors")
	}
}
