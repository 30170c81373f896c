package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/replygrid/replygrid/internal/domain/action"
	"github.com/replygrid/replygrid/internal/domain/message"
	"github.com/replygrid/replygrid/internal/domain/tenant"
)

const messageColumns = `id, COALESCE(provider_message_id, ''), contact_id, tenant_id, chatbot_id,
	direction, message_type, content_text, content_url, status, sent_at, metadata,
	user_sent, ai_processed, processing_duration_ms`

func scanMessage(row scannable) (message.Message, error) {
	var m message.Message
	var metadata []byte
	err := row.Scan(&m.ID, &m.ProviderMessageID, &m.ContactID, &m.TenantID,
		&m.ChatbotID, &m.Direction, &m.Type, &m.ContentText, &m.ContentURL,
		&m.Status, &m.SentAt, &metadata, &m.UserSent, &m.AIProcessed,
		&m.ProcessingDurationMS)
	if err != nil {
		return message.Message{}, err
	}
	m.Metadata = metadata
	return m, nil
}

// InsertMessage persists one transcript row. Incoming rows are idempotent on
// provider_message_id: a redelivered record returns id 0 with no error and
// writes nothing.
func (s *Store) InsertMessage(ctx context.Context, m *message.Message) (int64, error) {
	if err := m.Validate(); err != nil {
		return 0, err
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO messages (provider_message_id, contact_id, tenant_id, chatbot_id,
		   direction, message_type, content_text, content_url, status, sent_at, metadata,
		   user_sent, ai_processed, processing_duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (provider_message_id) WHERE direction = 'incoming' DO NOTHING
		 RETURNING id`,
		nullIfEmpty(m.ProviderMessageID), m.ContactID, m.TenantID, m.ChatbotID,
		m.Direction, m.Type, m.ContentText, m.ContentURL, m.Status, m.SentAt,
		nullJSON(m.Metadata), m.UserSent, m.AIProcessed, m.ProcessingDurationMS)

	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Conflict skip: the provider already delivered this record.
			return 0, nil
		}
		return 0, fmt.Errorf("insert message: %w", err)
	}
	m.ID = id
	return id, nil
}

func (s *Store) GetMessage(ctx context.Context, tenantID tenant.ID, messageID int64) (*message.Message, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1 AND tenant_id = $2`,
		messageID, tenantID)

	m, err := scanMessage(row)
	if err != nil {
		return nil, notFoundWrap(err, "get message %d", messageID)
	}
	return &m, nil
}

func (s *Store) UpdateMessageStatus(ctx context.Context, tenantID tenant.ID, messageID int64, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET status = $3 WHERE id = $1 AND tenant_id = $2`,
		messageID, tenantID, status)
	return execExpectOne(tag, err, "update message %d status", messageID)
}

// UpdateMessageStatusByProviderID applies a BSP delivery report. The tenant
// is unknown until the row is found; the updated row is returned so callers
// can broadcast under the right tenant.
func (s *Store) UpdateMessageStatusByProviderID(ctx context.Context, providerMessageID, status string) (*message.Message, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE messages SET status = $2
		 WHERE provider_message_id = $1 AND direction <> 'incoming'
		 RETURNING `+messageColumns,
		providerMessageID, status)

	m, err := scanMessage(row)
	if err != nil {
		return nil, notFoundWrap(err, "delivery report %s", providerMessageID)
	}
	return &m, nil
}

// UpdateActionIndicator rewrites the embedded status of the transcript's
// action_indicator row for the given action.
func (s *Store) UpdateActionIndicator(ctx context.Context, tenantID tenant.ID, actionID int64, status action.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages
		 SET metadata = jsonb_set(COALESCE(metadata, '{}'::jsonb), '{status}', to_jsonb($3::text))
		 WHERE tenant_id = $1
		   AND message_type = 'action_indicator'
		   AND (metadata->>'action_id')::bigint = $2`,
		tenantID, actionID, string(status))
	return execExpectOne(tag, err, "update action indicator %d", actionID)
}
