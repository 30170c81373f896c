// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates input that fails local validation.
var ErrValidation = errors.New("validation failed")

// ErrUnroutable indicates an inbound event whose destination number has no
// configured chatbot.
var ErrUnroutable = errors.New("unroutable destination")

// ErrQuotaExceeded indicates the tenant has hit its outbound message cap.
var ErrQuotaExceeded = errors.New("quota exceeded")

// ErrPaused indicates the contact's conversation is paused and agent
// processing was skipped.
var ErrPaused = errors.New("conversation paused")

// ErrTenantMismatch indicates an operation whose tenant does not own the
// entity it targets.
var ErrTenantMismatch = errors.New("tenant mismatch")
