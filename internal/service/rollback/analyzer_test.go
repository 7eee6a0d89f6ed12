package rollback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"remedy-audit/internal/domain"
	"remedy-audit/internal/testutil"
)

var applied = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func step(idx int, risk domain.RiskLevel, sql string) domain.RollbackStep {
	s := domain.RollbackStep{StepIndex: idx, Description: "step", Risk: risk}
	if sql != "" {
		s.InverseSQL = testutil.StrPtr(sql)
	}
	return s
}

func TestHighestRisk(t *testing.T) {
	tests := []struct {
		name  string
		risks []domain.RiskLevel
		want  domain.RiskLevel
	}{
		{"empty plan is low", nil, domain.RiskLow},
		{"single unknown", []domain.RiskLevel{domain.RiskUnknown}, domain.RiskUnknown},
		{"high wins", []domain.RiskLevel{domain.RiskLow, domain.RiskHigh, domain.RiskMedium}, domain.RiskHigh},
		{"medium over low and unknown", []domain.RiskLevel{domain.RiskUnknown, domain.RiskMedium, domain.RiskLow}, domain.RiskMedium},
		{"low over unknown", []domain.RiskLevel{domain.RiskUnknown, domain.RiskLow}, domain.RiskLow},
		{"unrecognised labels rank as unknown", []domain.RiskLevel{"SEVERE"}, domain.RiskUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var steps []domain.RollbackStep
			for i, r := range tt.risks {
				steps = append(steps, step(i+1, r, "SELECT 1"))
			}
			assert.Equal(t, tt.want, HighestRisk(steps))
		})
	}
}

func TestHighestRisk_IsMaximumOverAllOrderings(t *testing.T) {
	levels := []domain.RiskLevel{domain.RiskUnknown, domain.RiskLow, domain.RiskMedium, domain.RiskHigh}
	// Every multiset of up to three labels, in every position.
	for _, a := range levels {
		for _, b := range levels {
			for _, c := range levels {
				steps := []domain.RollbackStep{step(1, a, ""), step(2, b, ""), step(3, c, "")}
				want := a
				for _, r := range []domain.RiskLevel{b, c} {
					if r.Rank() > want.Rank() {
						want = r
					}
				}
				assert.Equal(t, want, HighestRisk(steps), "%s %s %s", a, b, c)
			}
		}
	}
}

func TestAnalyze_WindowBoundary(t *testing.T) {
	entry := domain.AuditEntry{ID: "a1", Timestamp: applied}
	plan := domain.RollbackPlan{TotalSteps: 0}

	tests := []struct {
		name    string
		elapsed time.Duration
		expired bool
	}{
		{"just applied", 0, false},
		{"two hours", 2 * time.Hour, false},
		{"one nanosecond before close", 24*time.Hour - time.Nanosecond, false},
		{"exactly 24h", 24 * time.Hour, true},
		{"thirty hours", 30 * time.Hour, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Analyze(entry, plan, applied.Add(tt.elapsed))
			assert.Equal(t, tt.expired, s.WindowExpired)
			assert.Equal(t, !tt.expired, s.Allowed)
			assert.Equal(t, applied.Add(24*time.Hour), s.WindowClosesAt)
		})
	}
}

func TestAnalyze_ScenarioAllStepsInvertible(t *testing.T) {
	entry := domain.AuditEntry{ID: "a1", Timestamp: applied, Status: domain.StatusSuccess}
	plan := domain.RollbackPlan{
		AuditID:    "a1",
		TotalSteps: 3,
		Steps: []domain.RollbackStep{
			step(1, domain.RiskLow, "DROP POLICY tenant_read ON invoices"),
			step(2, domain.RiskHigh, "ALTER TABLE invoices DROP COLUMN tenant_id"),
			step(3, domain.RiskMedium, "DELETE FROM audit.invoice_backfill"),
		},
	}

	s := Analyze(entry, plan, applied.Add(2*time.Hour))

	assert.Equal(t, domain.RiskHigh, s.HighestRisk)
	assert.Equal(t, 0, s.StepsSkipped)
	assert.Equal(t, domain.PlanComplete, s.Quality)
	assert.False(t, s.WindowExpired)
	assert.True(t, s.Allowed)
	assert.Equal(t, []string{"audit.invoice_backfill", "invoices"}, s.AffectedResources)
}

func TestAnalyze_ScenarioStepWithoutInverse(t *testing.T) {
	entry := domain.AuditEntry{ID: "a1", Timestamp: applied}
	plan := domain.RollbackPlan{
		TotalSteps: 3,
		Steps: []domain.RollbackStep{
			step(1, domain.RiskLow, "DROP INDEX idx_a"),
			step(3, domain.RiskLow, "DROP INDEX idx_c"),
		},
	}

	s := Analyze(entry, plan, applied.Add(time.Hour))

	assert.Equal(t, 1, s.StepsSkipped)
	assert.Equal(t, domain.PlanWarning, s.Quality)
	assert.True(t, s.Allowed)
}

func TestAnalyze_ReturnedStepWithoutInverseCountsAsSkipped(t *testing.T) {
	plan := domain.RollbackPlan{
		TotalSteps: 2,
		Steps:      []domain.RollbackStep{step(1, domain.RiskLow, "DROP TABLE t"), step(2, domain.RiskLow, "")},
	}

	s := Analyze(domain.AuditEntry{Timestamp: applied}, plan, applied)
	assert.Equal(t, 1, s.StepsSkipped)
	assert.Equal(t, []string{"t"}, s.AffectedResources)
}

func TestAnalyze_EmptyPlan(t *testing.T) {
	s := Analyze(domain.AuditEntry{Timestamp: applied}, domain.RollbackPlan{}, applied)

	assert.Equal(t, domain.RiskLow, s.HighestRisk)
	assert.Equal(t, 0, s.StepsSkipped)
	assert.Equal(t, domain.PlanComplete, s.Quality)
	assert.NotNil(t, s.AffectedResources)
	assert.Empty(t, s.AffectedResources)
}

func TestAnalyze_IsDeterministic(t *testing.T) {
	entry := domain.AuditEntry{ID: "a1", Timestamp: applied}
	plan := domain.RollbackPlan{
		TotalSteps: 4,
		Steps: []domain.RollbackStep{
			step(2, domain.RiskMedium, "UPDATE b SET x = 1"),
			step(1, domain.RiskLow, "DELETE FROM a"),
			step(4, domain.RiskUnknown, `DROP TABLE "C"`),
		},
	}
	now := applied.Add(5 * time.Hour)

	first := Analyze(entry, plan, now)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Analyze(entry, plan, now))
	}
}
