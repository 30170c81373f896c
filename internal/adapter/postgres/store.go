package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/replygrid/replygrid/internal/domain/contact"
	"github.com/replygrid/replygrid/internal/domain/tenant"
)

// Store implements database.Store using PostgreSQL. Every query carries the
// caller's tenant id in its WHERE clause; rows belonging to another tenant
// are indistinguishable from missing rows.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tenants ---

func (s *Store) GetTenant(ctx context.Context, id tenant.ID) (*tenant.Tenant, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, daily_outbound_cap, monthly_outbound_cap, features, created_at, updated_at
		 FROM tenants WHERE id = $1`, id)

	var t tenant.Tenant
	var features []byte
	err := row.Scan(&t.ID, &t.Name, &t.Subscription.DailyOutboundCap,
		&t.Subscription.MonthlyOutboundCap, &features, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get tenant %d", id)
	}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &t.Subscription.Features); err != nil {
			return nil, fmt.Errorf("get tenant %d: decode features: %w", id, err)
		}
	}
	return &t, nil
}

func (s *Store) GetChatbot(ctx context.Context, tenantID tenant.ID, chatbotID int64) (*tenant.Chatbot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, sender_msisdn, instructions, agent_id, active, created_at, updated_at
		 FROM chatbots WHERE id = $1 AND tenant_id = $2`, chatbotID, tenantID)

	var cb tenant.Chatbot
	err := row.Scan(&cb.ID, &cb.TenantID, &cb.SenderMSISDN, &cb.Instructions,
		&cb.AgentID, &cb.Active, &cb.CreatedAt, &cb.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get chatbot %d", chatbotID)
	}
	return &cb, nil
}

// --- Contacts ---

func scanContact(row scannable) (contact.Contact, error) {
	var c contact.Contact
	var pausedAt *time.Time
	var customFields []byte
	err := row.Scan(&c.ID, &c.TenantID, &c.ChatbotID, &c.PhoneNumber, &c.Name,
		&c.ThreadID, &c.Paused, &pausedAt, &c.PausedBy, &c.LastInteraction,
		&customFields, &c.CreatedAt)
	if err != nil {
		return contact.Contact{}, err
	}
	c.PausedAt = pausedAt
	c.CustomFields = customFields
	return c, nil
}

const contactColumns = `id, tenant_id, chatbot_id, phone_number, name, thread_id,
	paused, paused_at, paused_by, last_interaction, custom_fields, created_at`

// GetOrCreateContact upserts on (tenant_id, phone_number). An existing
// contact keeps its thread_id and display name; last_interaction refreshes.
func (s *Store) GetOrCreateContact(ctx context.Context, tenantID tenant.ID, chatbotID int64, phone, name, threadID string) (*contact.Contact, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO contacts (tenant_id, chatbot_id, phone_number, name, thread_id)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (tenant_id, phone_number) DO UPDATE SET
		   last_interaction = now(),
		   name = CASE WHEN contacts.name = '' THEN EXCLUDED.name ELSE contacts.name END
		 RETURNING `+contactColumns,
		tenantID, chatbotID, phone, name, threadID)

	c, err := scanContact(row)
	if err != nil {
		return nil, fmt.Errorf("upsert contact %s: %w", phone, err)
	}
	return &c, nil
}

func (s *Store) GetContact(ctx context.Context, tenantID tenant.ID, contactID int64) (*contact.Contact, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = $1 AND tenant_id = $2`,
		contactID, tenantID)

	c, err := scanContact(row)
	if err != nil {
		return nil, notFoundWrap(err, "get contact %d", contactID)
	}
	return &c, nil
}

func (s *Store) TouchContact(ctx context.Context, tenantID tenant.ID, contactID int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE contacts SET last_interaction = $3 WHERE id = $1 AND tenant_id = $2`,
		contactID, tenantID, at)
	return execExpectOne(tag, err, "touch contact %d", contactID)
}
