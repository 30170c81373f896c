package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/replygrid/replygrid/internal/domain"
	"github.com/replygrid/replygrid/internal/domain/action"
	"github.com/replygrid/replygrid/internal/domain/tenant"
)

const actionColumns = `id, tenant_id, chatbot_id, contact_id, request_type, request_details,
	request_data, priority, status, user_response, response_data, created_at, resolved_at, expires_at`

func scanAction(row scannable) (action.Action, error) {
	var a action.Action
	var requestData, responseData []byte
	var resolvedAt, expiresAt *time.Time
	err := row.Scan(&a.ID, &a.TenantID, &a.ChatbotID, &a.ContactID, &a.RequestType,
		&a.RequestDetails, &requestData, &a.Priority, &a.Status, &a.UserResponse,
		&responseData, &a.CreatedAt, &resolvedAt, &expiresAt)
	if err != nil {
		return action.Action{}, err
	}
	a.RequestData = requestData
	a.ResponseData = responseData
	a.ResolvedAt = resolvedAt
	a.ExpiresAt = expiresAt
	return a, nil
}

func (s *Store) CreateAction(ctx context.Context, a *action.Action) (int64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO actions (tenant_id, chatbot_id, contact_id, request_type,
		   request_details, request_data, priority, status, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8)
		 RETURNING id, created_at`,
		a.TenantID, a.ChatbotID, a.ContactID, a.RequestType, a.RequestDetails,
		nullJSON(a.RequestData), a.Priority, a.ExpiresAt)

	if err := row.Scan(&a.ID, &a.CreatedAt); err != nil {
		return 0, fmt.Errorf("create action: %w", err)
	}
	a.Status = action.StatusPending
	return a.ID, nil
}

// GetAction loads an action by id alone: operator endpoints carry no tenant
// until the action resolves it. The returned row names its owner.
func (s *Store) GetAction(ctx context.Context, actionID int64) (*action.Action, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE id = $1`, actionID)

	a, err := scanAction(row)
	if err != nil {
		return nil, notFoundWrap(err, "get action %d", actionID)
	}
	return &a, nil
}

// ResolveAction transitions a pending action to a terminal status. A row
// that is no longer pending yields domain.ErrConflict so callers can detect
// redelivered feedback.
func (s *Store) ResolveAction(ctx context.Context, tenantID tenant.ID, actionID int64, status action.Status, userResponse string) (*action.Action, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("%w: status %q is not terminal", domain.ErrValidation, status)
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE actions
		 SET status = $3, user_response = $4, resolved_at = now()
		 WHERE id = $1 AND tenant_id = $2 AND status = 'pending'
		 RETURNING `+actionColumns,
		actionID, tenantID, status, userResponse)

	a, err := scanAction(row)
	if err != nil {
		// Distinguish "missing" from "already resolved".
		if _, getErr := s.GetAction(ctx, actionID); getErr == nil {
			return nil, fmt.Errorf("resolve action %d: %w", actionID, domain.ErrConflict)
		}
		return nil, notFoundWrap(err, "resolve action %d", actionID)
	}
	return &a, nil
}
