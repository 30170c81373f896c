// Package router selects the owning tenant for an inbound event by the
// destination number the customer wrote to.
package router

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/replygrid/replygrid/internal/config"
	"github.com/replygrid/replygrid/internal/domain"
	"github.com/replygrid/replygrid/internal/domain/tenant"
)

// Route is the resolved binding for one destination number.
type Route struct {
	TenantID     tenant.ID
	ChatbotID    int64
	AgentID      string
	SenderMSISDN string
}

// Router maps normalized destination MSISDNs to routes. The table is
// read-mostly: built at startup, swapped atomically on reload (SIGHUP).
// Routing never looks at the sender: two tenants can both have the same
// customer number.
type Router struct {
	table atomic.Pointer[map[string]Route]
	log   *slog.Logger
}

// New builds a router from the configured sender bindings.
func New(senders []config.Sender, log *slog.Logger) *Router {
	r := &Router{log: log}
	r.Reload(senders)
	return r
}

// Reload swaps in a new routing table built from senders.
func (r *Router) Reload(senders []config.Sender) {
	table := make(map[string]Route, len(senders))
	for _, s := range senders {
		key := Normalize(s.SenderMSISDN)
		table[key] = Route{
			TenantID:     tenant.ID(s.TenantID),
			ChatbotID:    s.ChatbotID,
			AgentID:      s.AgentID,
			SenderMSISDN: key,
		}
	}
	r.table.Store(&table)
	r.log.Info("routing table loaded", "destinations", len(table))
}

// Resolve returns the route for a destination number. Unroutable events are
// logged to the dead-letter log and dropped by the caller.
func (r *Router) Resolve(destination string) (Route, error) {
	key := Normalize(destination)
	table := *r.table.Load()
	route, ok := table[key]
	if !ok {
		r.log.Warn("dead-letter: no chatbot for destination",
			"destination", key)
		return Route{}, fmt.Errorf("%w: destination %s", domain.ErrUnroutable, key)
	}
	return route, nil
}

// Destinations returns the number of configured destinations.
func (r *Router) Destinations() int {
	return len(*r.table.Load())
}

// Normalize strips the leading +, leading zeros and all whitespace from an
// MSISDN, leaving digits only.
func Normalize(msisdn string) string {
	var b strings.Builder
	b.Grow(len(msisdn))
	for _, c := range msisdn {
		switch {
		case c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == '+', c == ' ', c == '\t', c == '-', c == '(', c == ')':
			// dropped
		}
	}
	s := b.String()
	return strings.TrimLeft(s, "0")
}
