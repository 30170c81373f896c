package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/replygrid/replygrid/internal/domain/knowledge"
	"github.com/replygrid/replygrid/internal/domain/tenant"
	"github.com/replygrid/replygrid/internal/domain/usage"
)

// UsageSnapshot returns today's counter plus the calendar-month roll-up.
// Missing rows read as zero; the daily row is created lazily on first send.
func (s *Store) UsageSnapshot(ctx context.Context, tenantID tenant.ID, day time.Time) (*usage.Snapshot, error) {
	date := day.UTC().Truncate(24 * time.Hour)
	row := s.pool.QueryRow(ctx,
		`SELECT
		   COALESCE((SELECT outbound_count FROM usage_counters
		             WHERE tenant_id = $1 AND date = $2::date), 0),
		   COALESCE((SELECT SUM(outbound_count) FROM usage_counters
		             WHERE tenant_id = $1
		               AND date_trunc('month', date) = date_trunc('month', $2::date)), 0)`,
		tenantID, date)

	snap := usage.Snapshot{TenantID: tenantID, Date: date}
	if err := row.Scan(&snap.DailyOutbound, &snap.MonthOutbound); err != nil {
		return nil, fmt.Errorf("usage snapshot tenant %d: %w", tenantID, err)
	}
	return &snap, nil
}

// IncrementOutbound atomically bumps the daily counter, creating the row on
// first use. The returned count is authoritative.
func (s *Store) IncrementOutbound(ctx context.Context, tenantID tenant.ID, day time.Time) (*usage.Counter, error) {
	date := day.UTC().Truncate(24 * time.Hour)
	row := s.pool.QueryRow(ctx,
		`INSERT INTO usage_counters (tenant_id, date, outbound_count)
		 VALUES ($1, $2::date, 1)
		 ON CONFLICT (tenant_id, date)
		 DO UPDATE SET outbound_count = usage_counters.outbound_count + 1
		 RETURNING outbound_count, campaign_count`,
		tenantID, date)

	c := usage.Counter{TenantID: tenantID, Date: date}
	if err := row.Scan(&c.OutboundCount, &c.CampaignCount); err != nil {
		return nil, fmt.Errorf("increment outbound tenant %d: %w", tenantID, err)
	}
	return &c, nil
}

// UpsertKnowledgeEntry writes a Q/A pair keyed by (chatbot_id, category, question).
func (s *Store) UpsertKnowledgeEntry(ctx context.Context, e *knowledge.Entry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO knowledge_entries (tenant_id, chatbot_id, category, question, answer, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (chatbot_id, category, question)
		 DO UPDATE SET answer = EXCLUDED.answer, is_active = EXCLUDED.is_active, updated_at = now()`,
		e.TenantID, e.ChatbotID, e.Category, e.Question, e.Answer, e.IsActive)
	if err != nil {
		return fmt.Errorf("upsert knowledge entry: %w", err)
	}
	return nil
}
