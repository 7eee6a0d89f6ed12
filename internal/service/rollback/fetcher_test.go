package rollback

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remedy-audit/internal/domain"
	"remedy-audit/internal/testutil"
)

func newFetcher(p domain.RollbackPlanner) (*PlanFetcher, *Metrics) {
	m := NewMetrics(prometheus.NewRegistry())
	return NewPlanFetcher(p, m, slog.New(slog.DiscardHandler)), m
}

func TestFetchPlan_CallsPlannerEveryTime(t *testing.T) {
	planner := &testutil.MockPlanner{PreviewFn: func(_ context.Context, id string) (*domain.RollbackPlan, error) {
		return &domain.RollbackPlan{Steps: []domain.RollbackStep{step(1, domain.RiskLow, "DROP TABLE t")}, TotalSteps: 1}, nil
	}}
	f, m := newFetcher(planner)

	for i := 0; i < 3; i++ {
		plan, err := f.FetchPlan(context.Background(), "a1")
		require.NoError(t, err)
		assert.Equal(t, "a1", plan.AuditID)
	}
	assert.Equal(t, 3, planner.CallCount())
	assert.Equal(t, float64(3), promtest.ToFloat64(m.PlanFetches.WithLabelValues("success")))
}

func TestFetchPlan_ErrorsNeverCarryAPlan(t *testing.T) {
	tests := []struct {
		name     string
		plan     *domain.RollbackPlan
		err      error
		wantCode string
	}{
		{"unavailable passes through", nil, &domain.PlannerUnavailableError{Message: "dial"}, domain.CodePlannerUnavailable},
		{"generation failure passes through", nil, &domain.PlanGenerationFailedError{AuditID: "a1", Reason: "x"}, domain.CodePlanGenerationFailed},
		{"partial plan with error is dropped", &domain.RollbackPlan{TotalSteps: 3}, &domain.PlanGenerationFailedError{AuditID: "a1"}, domain.CodePlanGenerationFailed},
		{"nil plan without error", nil, nil, domain.CodePlanGenerationFailed},
		{"plan for another entry", &domain.RollbackPlan{AuditID: "other"}, nil, domain.CodePlanGenerationFailed},
		{"context deadline", nil, context.DeadlineExceeded, domain.CodePlannerUnavailable},
		{"untyped error", nil, errors.New("boom"), domain.CodePlanGenerationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _ := newFetcher(&testutil.MockPlanner{PreviewFn: func(context.Context, string) (*domain.RollbackPlan, error) {
				return tt.plan, tt.err
			}})

			plan, err := f.FetchPlan(context.Background(), "a1")
			assert.Nil(t, plan)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, domain.ErrorCode(err))
			assert.True(t, domain.IsRetryable(err))
		})
	}
}
