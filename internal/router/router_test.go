package router

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/replygrid/replygrid/internal/config"
	"github.com/replygrid/replygrid/internal/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSenders() []config.Sender {
	return []config.Sender{
		{SenderMSISDN: "96179374241", TenantID: 1, ChatbotID: 10, AgentID: "ecla"},
		{SenderMSISDN: "+961 345 1652", TenantID: 2, ChatbotID: 20, AgentID: "astro"},
	}
}

func TestResolve(t *testing.T) {
	r := New(testSenders(), discard())

	route, err := r.Resolve("96179374241")
	if err != nil {
		t.Fatal(err)
	}
	if route.TenantID != 1 || route.ChatbotID != 10 || route.AgentID != "ecla" {
		t.Errorf("unexpected route %+v", route)
	}
}

func TestResolveNormalizesDestination(t *testing.T) {
	r := New(testSenders(), discard())

	// The second binding was configured with + and spaces; lookups with any
	// formatting variant must hit it.
	for _, dest := range []string{"9613451652", "+9613451652", "00961 345 1652", "961-345-1652"} {
		route, err := r.Resolve(dest)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", dest, err)
		}
		if route.AgentID != "astro" {
			t.Errorf("Resolve(%q) routed to %q, want astro", dest, route.AgentID)
		}
	}
}

func TestResolveUnroutable(t *testing.T) {
	r := New(testSenders(), discard())

	_, err := r.Resolve("15550001111")
	if !errors.Is(err, domain.ErrUnroutable) {
		t.Fatalf("expected ErrUnroutable, got %v", err)
	}
}

func TestResolveNeverByCustomerNumber(t *testing.T) {
	r := New(testSenders(), discard())

	// A customer number shared by both tenants must not resolve as a
	// destination.
	if _, err := r.Resolve("9999"); !errors.Is(err, domain.ErrUnroutable) {
		t.Fatalf("customer numbers must be unroutable, got %v", err)
	}
}

func TestReloadSwapsTable(t *testing.T) {
	r := New(testSenders(), discard())

	r.Reload([]config.Sender{
		{SenderMSISDN: "14155550100", TenantID: 3, ChatbotID: 30, AgentID: "nova"},
	})

	if _, err := r.Resolve("96179374241"); !errors.Is(err, domain.ErrUnroutable) {
		t.Error("old destination should be gone after reload")
	}
	route, err := r.Resolve("14155550100")
	if err != nil {
		t.Fatal(err)
	}
	if route.TenantID != 3 {
		t.Errorf("expected tenant 3, got %d", route.TenantID)
	}
	if r.Destinations() != 1 {
		t.Errorf("expected 1 destination, got %d", r.Destinations())
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"+96179374241", "96179374241"},
		{"0096179374241", "96179374241"},
		{" 961 793 742 41 ", "96179374241"},
		{"(961) 793-74241", "96179374241"},
		{"96179374241", "96179374241"},
		{"000", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
