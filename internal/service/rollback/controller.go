// Package rollback implements the preview, confirm and execute workflow for
// reversing an applied remediation.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"remedy-audit/internal/domain"
)

// ClockFunc adapts a function to domain.Clock.
type ClockFunc func() time.Time

// Now returns f().
func (f ClockFunc) Now() time.Time { return f() }

// Preview is the read-only result of previewing a rollback.
type Preview struct {
	Entry   *domain.AuditEntry
	Plan    *domain.RollbackPlan
	Summary domain.ImpactSummary
	// Eligible is false when the entry's status can never be rolled back
	// (FAILURE or ROLLED_BACK); Reason then explains why.
	Eligible bool
	Reason   string
}

// Controller orchestrates preview, confirmation and execution.
type Controller struct {
	repo     domain.AuditRepository
	fetcher  *PlanFetcher
	executor domain.RemediationExecutor
	clock    domain.Clock
	locks    *keyedLock
	metrics  *Metrics
	logger   *slog.Logger

	execTimeout time.Duration
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the wall clock used for window checks.
func WithClock(c domain.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(ctl *Controller) { ctl.metrics = m }
}

// WithExecuteTimeout bounds the executor call. It runs detached from caller
// cancellation, so this is the only limit on it.
func WithExecuteTimeout(d time.Duration) Option {
	return func(ctl *Controller) { ctl.execTimeout = d }
}

// NewController creates a Controller.
func NewController(
	repo domain.AuditRepository,
	fetcher *PlanFetcher,
	executor domain.RemediationExecutor,
	logger *slog.Logger,
	opts ...Option,
) *Controller {
	c := &Controller{
		repo:        repo,
		fetcher:     fetcher,
		executor:    executor,
		clock:       ClockFunc(time.Now),
		locks:       newKeyedLock(),
		logger:      logger,
		execTimeout: 30 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = fetcher.metrics
	}
	return c
}

// Preview fetches the plan for id and analyzes it. Nothing is modified.
func (c *Controller) Preview(ctx context.Context, id string) (*Preview, error) {
	entry, err := c.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	plan, err := c.fetcher.FetchPlan(ctx, id)
	if err != nil {
		return nil, err
	}

	p := &Preview{
		Entry:    entry,
		Plan:     plan,
		Summary:  Analyze(*entry, *plan, c.clock.Now()),
		Eligible: domain.CanTransition(entry.Status, domain.StatusRolledBack),
	}
	if !p.Eligible {
		p.Reason = fmt.Sprintf("entry status %s cannot be rolled back", entry.Status)
	} else if p.Summary.WindowExpired {
		p.Reason = "rollback window has expired"
	}
	return p, nil
}

// ConfirmAndExecute applies the plan for entry id after the operator
// confirmed the previewed summary. Eligibility, the rollback window and the
// risk acknowledgement are re-checked here; nothing from the preview is
// trusted. The plan is fetched again from the planner and must match the
// confirmed one step for step, otherwise a ConflictError is returned.
//
// On success the entry becomes ROLLED_BACK. On any failure the entry is left
// unchanged.
func (c *Controller) ConfirmAndExecute(ctx context.Context, id string, plan *domain.RollbackPlan, conf domain.Confirmation) (result *domain.RollbackResult, err error) {
	start := time.Now()
	defer func() {
		c.metrics.RollbackAttempts.WithLabelValues(outcome(err)).Inc()
		if err != nil {
			c.logger.Warn("rollback rejected or failed", "audit_id", id, "code", domain.ErrorCode(err), "error", err)
		}
	}()

	if plan == nil {
		return nil, domain.ErrValidation("a previewed rollback plan is required")
	}
	if plan.AuditID != "" && plan.AuditID != id {
		return nil, domain.ErrValidation("plan belongs to audit entry %q, not %q", plan.AuditID, id)
	}

	release, lockErr := c.locks.TryAcquire(id)
	if lockErr != nil {
		return nil, domain.ErrConflict("rollback already in progress for audit entry %q", id)
	}
	defer release()

	entry, err := c.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(entry.Status, domain.StatusRolledBack) {
		return nil, domain.ErrInvalidTransition(id, entry.Status, domain.StatusRolledBack)
	}

	// Only a plan the planner still stands behind is executed.
	current, err := c.fetcher.FetchPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if drift := planDrift(*plan, *current); drift != "" {
		c.logger.Warn("confirmed plan differs from planner", "audit_id", id, "drift", drift)
		return nil, domain.ErrConflict("rollback plan for audit entry %q changed since preview: %s", id, drift)
	}
	plan = current

	summary := Analyze(*entry, *plan, c.clock.Now())
	if summary.WindowExpired {
		return nil, &domain.RollbackWindowExpiredError{AuditID: id, AppliedAt: entry.Timestamp, ClosedAt: summary.WindowClosesAt}
	}
	if summary.HighestRisk == domain.RiskHigh && !conf.AcknowledgeHighRisk {
		return nil, &domain.RiskAcknowledgementRequiredError{AuditID: id, Risk: summary.HighestRisk}
	}

	operator := strings.TrimSpace(conf.Operator)
	if operator == "" {
		operator, _ = domain.OperatorFromContext(ctx)
	}
	if operator == "" {
		operator = "unknown"
	}

	// Once issued, the executor call runs to completion even if the caller
	// goes away.
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.execTimeout)
	defer cancel()

	c.logger.Info("executing rollback", "audit_id", id, "operator", operator,
		"steps", len(plan.Steps), "highest_risk", summary.HighestRisk, "feature_id", entry.FeatureID)

	execStart := time.Now()
	execErr := c.executor.ExecuteRemediationPlan(execCtx, id, *plan)
	c.metrics.RollbackDuration.Observe(time.Since(execStart).Seconds())
	if execErr != nil {
		return nil, asExecutorFailure(id, execErr)
	}

	if err := c.repo.SetStatus(execCtx, id, domain.StatusRolledBack, operator); err != nil {
		c.logger.Error("rollback executed but status update failed; record it manually",
			"audit_id", id, "operator", operator, "error", err)
		return nil, fmt.Errorf("record rollback of %s: %w", id, err)
	}

	updated, err := c.repo.Get(execCtx, id)
	if err != nil {
		return nil, err
	}
	c.logger.Info("rollback completed", "audit_id", id, "operator", operator, "duration", time.Since(start))
	return &domain.RollbackResult{Entry: updated, Summary: summary}, nil
}

// InProgress reports whether a rollback of id is currently executing in
// this process.
func (c *Controller) InProgress(id string) bool {
	return c.locks.IsLocked(id)
}

func asExecutorFailure(id string, err error) error {
	var ef *domain.ExecutorFailureError
	var unavailable *domain.PlannerUnavailableError
	if errors.As(err, &ef) || errors.As(err, &unavailable) {
		return err
	}
	return &domain.ExecutorFailureError{AuditID: id, Detail: "executor call failed", Cause: err}
}

// planDrift describes the first difference between the confirmed plan and
// the planner's current one, or returns "" when they agree. AuditID is not
// compared; ownership is checked separately.
func planDrift(confirmed, current domain.RollbackPlan) string {
	if confirmed.TotalSteps != current.TotalSteps {
		return fmt.Sprintf("total_steps %d -> %d", confirmed.TotalSteps, current.TotalSteps)
	}
	if len(confirmed.Steps) != len(current.Steps) {
		return fmt.Sprintf("%d steps -> %d", len(confirmed.Steps), len(current.Steps))
	}
	byIndex := make(map[int]domain.RollbackStep, len(current.Steps))
	for _, s := range current.Steps {
		byIndex[s.StepIndex] = s
	}
	seen := make(map[int]bool, len(confirmed.Steps))
	for _, want := range confirmed.Steps {
		if seen[want.StepIndex] {
			return fmt.Sprintf("step %d listed twice", want.StepIndex)
		}
		seen[want.StepIndex] = true
		got, ok := byIndex[want.StepIndex]
		switch {
		case !ok:
			return fmt.Sprintf("step %d not in current plan", want.StepIndex)
		case want.Description != got.Description:
			return fmt.Sprintf("step %d description changed", want.StepIndex)
		case inverseSQL(want) != inverseSQL(got):
			return fmt.Sprintf("step %d inverse_sql changed", want.StepIndex)
		case domain.NormalizeRisk(string(want.Risk)) != domain.NormalizeRisk(string(got.Risk)):
			return fmt.Sprintf("step %d risk %s -> %s", want.StepIndex,
				domain.NormalizeRisk(string(want.Risk)), domain.NormalizeRisk(string(got.Risk)))
		}
	}
	return ""
}

func inverseSQL(s domain.RollbackStep) string {
	if s.InverseSQL == nil {
		return ""
	}
	return *s.InverseSQL
}
