package infobip

import (
	"context"
	"fmt"

	"github.com/replygrid/replygrid/internal/config"
	"github.com/replygrid/replygrid/internal/port/transport"
	"github.com/replygrid/replygrid/internal/resilience"
)

// Registry holds one transport client per configured sender number.
type Registry struct {
	clients map[string]transport.MessagingTransport
}

// NewRegistry builds clients from the sender bindings. Senders without their
// own credentials inherit the shared BSP defaults.
func NewRegistry(cfg *config.Config) *Registry {
	clients := make(map[string]transport.MessagingTransport, len(cfg.Senders))
	for _, s := range cfg.Senders {
		baseURL := s.BSPBaseURL
		if baseURL == "" {
			baseURL = cfg.BSP.BaseURL
		}
		apiKey := s.BSPAPIKey
		if apiKey == "" {
			apiKey = cfg.BSP.APIKey
		}
		c := NewClient(baseURL, apiKey, s.SenderMSISDN, cfg.BSP.Timeout, cfg.BSP.MaxRetries)
		c.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
		clients[s.SenderMSISDN] = c
	}
	return &Registry{clients: clients}
}

// ForSender returns the transport bound to a sender MSISDN.
func (r *Registry) ForSender(senderMSISDN string) (transport.MessagingTransport, bool) {
	t, ok := r.clients[senderMSISDN]
	return t, ok
}

// Senders returns the configured sender numbers.
func (r *Registry) Senders() []string {
	out := make([]string, 0, len(r.clients))
	for s := range r.clients {
		out = append(out, s)
	}
	return out
}

// PingAll verifies every sender's transport is reachable. The first failure
// is returned so startup can refuse to serve traffic it cannot answer.
func (r *Registry) PingAll(ctx context.Context) error {
	for sender, t := range r.clients {
		if err := t.Ping(ctx); err != nil {
			return fmt.Errorf("sender %s: %w", sender, err)
		}
	}
	return nil
}
