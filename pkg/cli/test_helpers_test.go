package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	internaldb "remedy-audit/internal/db"
	"remedy-audit/internal/db/repository"
	"remedy-audit/internal/domain"
	"remedy-audit/internal/service/governance"
	"remedy-audit/internal/service/migration"
	"remedy-audit/internal/service/rollback"
	"remedy-audit/internal/testutil"
)

var applied = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// testEnv is an in-process backend for CLI tests: a temporary store, a
// fake planner and executor, and a fixed clock one hour after applied.
type testEnv struct {
	repo     *repository.AuditRepo
	planner  *testutil.MockPlanner
	executor *testutil.MockExecutor
	clock    *testutil.FixedClock
	storage  migration.StorageConfig
	opened   []*globals
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	writeDB, readDB := internaldb.OpenTestSQLite(t)
	return &testEnv{
		repo: repository.NewAuditRepo(writeDB, readDB),
		planner: &testutil.MockPlanner{PreviewFn: func(_ context.Context, id string) (*domain.RollbackPlan, error) {
			return lowPlan(id), nil
		}},
		executor: &testutil.MockExecutor{},
		clock:    &testutil.FixedClock{T: applied.Add(time.Hour)},
	}
}

func (e *testEnv) open(_ context.Context, g *globals) (*session, error) {
	e.opened = append(e.opened, g)
	logger := slog.New(slog.DiscardHandler)
	fetcher := rollback.NewPlanFetcher(e.planner, rollback.NewMetrics(nil), logger)
	return &session{
		audit:            governance.NewAuditService(e.repo, logger),
		rollbacks:        rollback.NewController(e.repo, fetcher, e.executor, logger, rollback.WithClock(e.clock)),
		storage:          e.storage,
		misfireThreshold: 0.8,
		close:            func() error { return nil },
	}, nil
}

// run executes the CLI with args and returns what it wrote to stdout.
func (e *testEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(e.open)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func (e *testEnv) insert(t *testing.T, feature string, status domain.ExecutionStatus, diag string) string {
	t.Helper()
	entry := &domain.AuditEntry{
		FeatureID:   feature,
		Environment: "production",
		Timestamp:   applied,
		RootCause:   domain.RootCauseSchemaDrift,
		Status:      status,
	}
	if diag != "" {
		entry.Diagnosis = domain.Diagnosis{Raw: json.RawMessage(diag)}
	}
	require.NoError(t, e.repo.Insert(context.Background(), entry))
	return entry.ID
}

func lowPlan(id string) *domain.RollbackPlan {
	return &domain.RollbackPlan{
		AuditID:    id,
		TotalSteps: 2,
		Steps: []domain.RollbackStep{
			{StepIndex: 1, Description: "add policy", InverseSQL: testutil.StrPtr("DROP POLICY p ON orders"), Risk: domain.RiskLow},
			{StepIndex: 2, Description: "add column", InverseSQL: testutil.StrPtr("ALTER TABLE orders DROP COLUMN region"), Risk: domain.RiskMedium},
		},
	}
}

func highPlan(id string) *domain.RollbackPlan {
	p := lowPlan(id)
	p.Steps[1].Risk = domain.RiskHigh
	return p
}

// interactive makes prompts readable from the command's stdin.
func interactive(t *testing.T, on bool) {
	t.Helper()
	prev := stdinIsTerminal
	stdinIsTerminal = func() bool { return on }
	t.Cleanup(func() { stdinIsTerminal = prev })
}

func decodeJSON[T any](t *testing.T, s string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}
