// Package usage defines per-tenant outbound throughput counters.
package usage

import (
	"time"

	"github.com/replygrid/replygrid/internal/domain/tenant"
)

// Counter is one per-tenant-per-day row tracking outbound throughput.
// The daily row is created lazily on first use.
type Counter struct {
	TenantID      tenant.ID `json:"tenant_id"`
	Date          time.Time `json:"date"`
	OutboundCount int       `json:"outbound_count"`
	CampaignCount int       `json:"campaign_count"`
}

// Snapshot is the aggregated view used for the quota pre-check: today's
// counter plus the calendar-month roll-up.
type Snapshot struct {
	TenantID      tenant.ID `json:"tenant_id"`
	Date          time.Time `json:"date"`
	DailyOutbound int       `json:"daily_outbound"`
	MonthOutbound int       `json:"month_outbound"`
}

// Exceeds reports whether the snapshot meets or exceeds either cap in the
// subscription. Caps of zero are treated as unlimited.
func (s Snapshot) Exceeds(sub tenant.Subscription) bool {
	if sub.DailyOutboundCap > 0 && s.DailyOutbound >= sub.DailyOutboundCap {
		return true
	}
	if sub.MonthlyOutboundCap > 0 && s.MonthOutbound >= sub.MonthlyOutboundCap {
		return true
	}
	return false
}
