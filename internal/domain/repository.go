package domain

import (
	"context"
	"time"
)

// AuditFilter holds filter parameters for querying audit entries.
// Nil fields are unconstrained.
type AuditFilter struct {
	Status    *ExecutionStatus
	RootCause *RootCause
	Since     *time.Time // inclusive
	Until     *time.Time // exclusive
	Page      PageRequest
}

// AuditRepository is the single source of truth for applied remediations.
type AuditRepository interface {
	Insert(ctx context.Context, e *AuditEntry) error
	Get(ctx context.Context, id string) (*AuditEntry, error)
	List(ctx context.Context, filter AuditFilter) ([]AuditEntry, int64, error)
	// SetStatus is the only status mutation path. Setting the current
	// status again is a no-op.
	SetStatus(ctx context.Context, id string, status ExecutionStatus, actor string) error
	SetFeedback(ctx context.Context, id string, feedback Feedback) error
	ListStatusEvents(ctx context.Context, id string) ([]StatusEvent, error)
}
