// Package tenant defines the tenant and chatbot domain models.
package tenant

import "time"

// ID is a typed tenant identifier. Every Store and Transport call takes one
// so that a missing tenant is a compile-time error, not a runtime surprise.
type ID int64

// Tenant represents a business account. Created out-of-band; read-mostly at
// runtime.
type Tenant struct {
	ID           ID           `json:"id"`
	Name         string       `json:"name"`
	Subscription Subscription `json:"subscription"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Subscription holds the tenant's outbound message caps and feature flags.
// A cap of zero means unlimited.
type Subscription struct {
	DailyOutboundCap   int             `json:"daily_outbound_cap"`
	MonthlyOutboundCap int             `json:"monthly_outbound_cap"`
	Features           map[string]bool `json:"features,omitempty"`
}

// HasFeature reports whether the named feature flag is enabled.
func (s Subscription) HasFeature(name string) bool {
	return s.Features[name]
}

// Chatbot is a tenant-owned WhatsApp persona bound to one sender MSISDN.
// SenderMSISDN is unique across the whole system; the router depends on that.
type Chatbot struct {
	ID           int64     `json:"id"`
	TenantID     ID        `json:"tenant_id"`
	SenderMSISDN string    `json:"sender_msisdn"`
	Instructions string    `json:"instructions,omitempty"`
	AgentID      string    `json:"agent_id"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
