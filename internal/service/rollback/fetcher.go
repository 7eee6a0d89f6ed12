package rollback

import (
	"context"
	"errors"
	"log/slog"

	"remedy-audit/internal/domain"
)

// PlanFetcher retrieves rollback plans from the planner. Every call goes to
// the planner: plans depend on live database state and are never cached.
type PlanFetcher struct {
	planner domain.RollbackPlanner
	metrics *Metrics
	logger  *slog.Logger
}

// NewPlanFetcher creates a PlanFetcher.
func NewPlanFetcher(planner domain.RollbackPlanner, metrics *Metrics, logger *slog.Logger) *PlanFetcher {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &PlanFetcher{planner: planner, metrics: metrics, logger: logger}
}

// FetchPlan returns the plan for auditID, or a PlannerUnavailableError or
// PlanGenerationFailedError. It never returns a plan alongside an error.
func (f *PlanFetcher) FetchPlan(ctx context.Context, auditID string) (*domain.RollbackPlan, error) {
	plan, err := f.planner.PreviewRollbackPlan(ctx, auditID)
	if err == nil && plan == nil {
		err = &domain.PlanGenerationFailedError{AuditID: auditID, Reason: "planner returned no plan"}
	}
	if err == nil && plan.AuditID != "" && plan.AuditID != auditID {
		err = &domain.PlanGenerationFailedError{AuditID: auditID, Reason: "planner returned a plan for " + plan.AuditID}
	}
	if err != nil {
		err = classifyPlannerError(auditID, err)
		f.metrics.PlanFetches.WithLabelValues(outcome(err)).Inc()
		f.logger.Warn("rollback plan unavailable", "audit_id", auditID, "error", err, "retryable", domain.IsRetryable(err))
		return nil, err
	}

	plan.AuditID = auditID
	f.metrics.PlanFetches.WithLabelValues(outcome(nil)).Inc()
	f.logger.Debug("rollback plan fetched", "audit_id", auditID, "steps", len(plan.Steps), "total_steps", plan.TotalSteps)
	return plan, nil
}

// classifyPlannerError makes sure every fetch failure is one of the two
// planner categories so callers never mistake it for an empty plan.
func classifyPlannerError(auditID string, err error) error {
	var unavailable *domain.PlannerUnavailableError
	var failed *domain.PlanGenerationFailedError
	switch {
	case errors.As(err, &unavailable), errors.As(err, &failed):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &domain.PlannerUnavailableError{Message: "request ended before the planner answered", Cause: err}
	default:
		return &domain.PlanGenerationFailedError{AuditID: auditID, Reason: err.Error()}
	}
}
