// Package action defines human-in-the-loop action requests raised by agents.
package action

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/replygrid/replygrid/internal/domain"
	"github.com/replygrid/replygrid/internal/domain/tenant"
)

// Priority levels accepted on an action request.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Status is the action lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusDenied    Status = "denied"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a terminal state.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusDenied, StatusCancelled:
		return true
	}
	return false
}

// Field limits enforced before persistence.
const (
	MaxRequestTypeLen    = 100
	MaxRequestDetailsLen = 2000
	MaxRequestDataBytes  = 10240
)

// Action is a request created by an agent tool and resolved by an operator.
type Action struct {
	ID             int64           `json:"id"`
	TenantID       tenant.ID       `json:"tenant_id"`
	ChatbotID      int64           `json:"chatbot_id"`
	ContactID      int64           `json:"contact_id"`
	RequestType    string          `json:"request_type"`
	RequestDetails string          `json:"request_details"`
	RequestData    json.RawMessage `json:"request_data,omitempty"`
	Priority       Priority        `json:"priority"`
	Status         Status          `json:"status"`
	UserResponse   string          `json:"user_response,omitempty"`
	ResponseData   json.RawMessage `json:"response_data,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
}

// Validate enforces the field limits and priority whitelist.
func (a *Action) Validate() error {
	if a.RequestType == "" || len(a.RequestType) > MaxRequestTypeLen {
		return fmt.Errorf("%w: request_type must be 1-%d chars", domain.ErrValidation, MaxRequestTypeLen)
	}
	if len(a.RequestDetails) > MaxRequestDetailsLen {
		return fmt.Errorf("%w: request_details exceeds %d chars", domain.ErrValidation, MaxRequestDetailsLen)
	}
	if len(a.RequestData) > MaxRequestDataBytes {
		return fmt.Errorf("%w: request_data exceeds %d bytes", domain.ErrValidation, MaxRequestDataBytes)
	}
	if !a.Priority.Valid() {
		return fmt.Errorf("%w: priority %q", domain.ErrValidation, a.Priority)
	}
	return nil
}
