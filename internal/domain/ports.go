package domain

import (
	"context"
	"time"
)

// RollbackPlanner asks the external planner for the inverse of an applied
// remediation. Implemented by planner.Client.
type RollbackPlanner interface {
	PreviewRollbackPlan(ctx context.Context, auditID string) (*RollbackPlan, error)
}

// RemediationExecutor applies a rollback plan against the live database.
// Implemented by planner.Client. Steps must be applied last-first.
type RemediationExecutor interface {
	ExecuteRemediationPlan(ctx context.Context, auditID string, plan RollbackPlan) error
}

// Clock supplies the current time to code that must stay deterministic in tests.
type Clock interface {
	Now() time.Time
}
