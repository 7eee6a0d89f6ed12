package planner

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"remedy-audit/internal/domain"
)

type fakePlanner struct {
	token     string
	previewFn func(context.Context, *PreviewRollbackPlanRequest) (*PreviewRollbackPlanResponse, error)
	executeFn func(context.Context, *ExecuteRemediationPlanRequest) (*ExecuteRemediationPlanResponse, error)

	mu        sync.Mutex
	executed  []*ExecuteRemediationPlanRequest
	requestID string
}

func (f *fakePlanner) PreviewRollbackPlan(ctx context.Context, req *PreviewRollbackPlanRequest) (*PreviewRollbackPlanResponse, error) {
	if err := Authorize(ctx, f.token); err != nil {
		return nil, err
	}
	return f.previewFn(ctx, req)
}

func (f *fakePlanner) ExecuteRemediationPlan(ctx context.Context, req *ExecuteRemediationPlanRequest) (*ExecuteRemediationPlanResponse, error) {
	if err := Authorize(ctx, f.token); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.executed = append(f.executed, req)
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(RequestIDMetadataKey); len(v) > 0 {
			f.requestID = v[0]
		}
	}
	f.mu.Unlock()
	if f.executeFn == nil {
		return &ExecuteRemediationPlanResponse{Success: true}, nil
	}
	return f.executeFn(ctx, req)
}

func startPlanner(t *testing.T, srv Server) string {
	t.Helper()
	grpcServer := grpc.NewServer()
	RegisterServer(grpcServer, srv)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		grpcServer.Stop()
		_ = ln.Close()
	})
	go func() { _ = grpcServer.Serve(ln) }()
	return "grpc://" + ln.Addr().String()
}

func newTestClient(t *testing.T, endpoint string, opts Options) *Client {
	t.Helper()
	opts.Endpoint = endpoint
	opts.Logger = slog.New(slog.DiscardHandler)
	c, err := NewClient(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func deadEndpoint(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return "grpc://" + addr
}

func strPtr(s string) *string { return &s }

func TestClient_PreviewNormalizesPlan(t *testing.T) {
	fake := &fakePlanner{token: "tok", previewFn: func(_ context.Context, req *PreviewRollbackPlanRequest) (*PreviewRollbackPlanResponse, error) {
		assert.Equal(t, "a1", req.AuditID)
		return &PreviewRollbackPlanResponse{
			Success:    true,
			TotalSteps: 2,
			RollbackSteps: []WireStep{
				{StepIndex: 3, InverseSQL: strPtr("  DROP INDEX idx  "), RollbackRisk: "low", OriginalSQLDescription: "create index"},
				{StepIndex: 1, InverseSQL: strPtr("   "), RollbackRisk: "catastrophic", OriginalSQLDescription: "drop policy"},
				{StepIndex: 2, RollbackRisk: "HIGH"},
			},
		}, nil
	}}
	c := newTestClient(t, startPlanner(t, fake), Options{Token: "tok"})

	plan, err := c.PreviewRollbackPlan(context.Background(), "a1")
	require.NoError(t, err)

	require.Len(t, plan.Steps, 3)
	assert.Equal(t, "a1", plan.AuditID)
	assert.Equal(t, 3, plan.TotalSteps, "raised to the number of returned steps")
	assert.Equal(t, []int{1, 2, 3}, []int{plan.Steps[0].StepIndex, plan.Steps[1].StepIndex, plan.Steps[2].StepIndex})
	assert.Nil(t, plan.Steps[0].InverseSQL)
	assert.Equal(t, domain.RiskUnknown, plan.Steps[0].Risk)
	assert.Equal(t, domain.RiskHigh, plan.Steps[1].Risk)
	require.NotNil(t, plan.Steps[2].InverseSQL)
	assert.Equal(t, "DROP INDEX idx", *plan.Steps[2].InverseSQL)
	assert.Equal(t, domain.RiskLow, plan.Steps[2].Risk)
}

func TestClient_PreviewPlannerErrors(t *testing.T) {
	tests := []struct {
		name       string
		resp       *PreviewRollbackPlanResponse
		err        error
		wantReason string
	}{
		{"explicit failure", &PreviewRollbackPlanResponse{Success: false, Error: "fix plan has no forward SQL"}, nil, "fix plan has no forward SQL"},
		{"failure without detail", &PreviewRollbackPlanResponse{}, nil, "without detail"},
		{"internal status", nil, status.Error(codes.Internal, "planner crashed"), "planner crashed"},
		{"negative index", &PreviewRollbackPlanResponse{Success: true, RollbackSteps: []WireStep{{StepIndex: -1}}}, nil, "malformed plan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakePlanner{previewFn: func(context.Context, *PreviewRollbackPlanRequest) (*PreviewRollbackPlanResponse, error) {
				return tt.resp, tt.err
			}}
			c := newTestClient(t, startPlanner(t, fake), Options{})

			plan, err := c.PreviewRollbackPlan(context.Background(), "a1")
			assert.Nil(t, plan)
			var failed *domain.PlanGenerationFailedError
			require.ErrorAs(t, err, &failed)
			assert.Contains(t, failed.Reason, tt.wantReason)
			assert.True(t, domain.IsRetryable(err))
		})
	}
}

func TestClient_PreviewUnreachable(t *testing.T) {
	c := newTestClient(t, deadEndpoint(t), Options{Timeout: 2 * time.Second})

	plan, err := c.PreviewRollbackPlan(context.Background(), "a1")
	assert.Nil(t, plan)
	var unavailable *domain.PlannerUnavailableError
	require.ErrorAs(t, err, &unavailable)
}

func TestClient_WrongTokenIsUnavailable(t *testing.T) {
	fake := &fakePlanner{token: "right", previewFn: func(context.Context, *PreviewRollbackPlanRequest) (*PreviewRollbackPlanResponse, error) {
		return &PreviewRollbackPlanResponse{Success: true}, nil
	}}
	c := newTestClient(t, startPlanner(t, fake), Options{Token: "wrong"})

	_, err := c.PreviewRollbackPlan(context.Background(), "a1")
	var unavailable *domain.PlannerUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestClient_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	c := newTestClient(t, deadEndpoint(t), Options{Timeout: 2 * time.Second, BreakerFailures: 2, BreakerCooldown: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.PreviewRollbackPlan(ctx, "a1")
		require.Error(t, err)
	}

	_, err := c.PreviewRollbackPlan(ctx, "a1")
	var unavailable *domain.PlannerUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Contains(t, err.Error(), "circuit open")
}

func TestClient_PlanFailuresDoNotTripBreaker(t *testing.T) {
	fake := &fakePlanner{previewFn: func(context.Context, *PreviewRollbackPlanRequest) (*PreviewRollbackPlanResponse, error) {
		return &PreviewRollbackPlanResponse{Success: false, Error: "nope"}, nil
	}}
	c := newTestClient(t, startPlanner(t, fake), Options{BreakerFailures: 1})

	for i := 0; i < 3; i++ {
		_, err := c.PreviewRollbackPlan(context.Background(), "a1")
		var failed *domain.PlanGenerationFailedError
		require.ErrorAs(t, err, &failed, "call %d", i)
	}
}

func TestClient_ExecuteSendsStepsLastFirst(t *testing.T) {
	fake := &fakePlanner{token: "tok"}
	c := newTestClient(t, startPlanner(t, fake), Options{Token: "tok"})

	plan := domain.RollbackPlan{
		AuditID:    "a1",
		TotalSteps: 3,
		Steps: []domain.RollbackStep{
			{StepIndex: 1, Description: "first", InverseSQL: strPtr("DROP TABLE a"), Risk: domain.RiskLow},
			{StepIndex: 2, Description: "second", InverseSQL: strPtr("DROP TABLE b"), Risk: domain.RiskHigh},
			{StepIndex: 3, Description: "third", InverseSQL: strPtr("DROP TABLE c"), Risk: domain.RiskMedium},
		},
	}
	ctx := domain.WithRequestID(context.Background(), "req-123")
	require.NoError(t, c.ExecuteRemediationPlan(ctx, "a1", plan))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.executed, 1)
	req := fake.executed[0]
	assert.Equal(t, "a1", req.AuditID)
	assert.Equal(t, OrderLIFO, req.Order)
	assert.Equal(t, 3, req.Plan.TotalSteps)
	require.Len(t, req.Plan.Steps, 3)
	assert.Equal(t, []int{3, 2, 1}, []int{req.Plan.Steps[0].StepIndex, req.Plan.Steps[1].StepIndex, req.Plan.Steps[2].StepIndex})
	assert.Equal(t, "DROP TABLE c", *req.Plan.Steps[0].InverseSQL)
	assert.Equal(t, "HIGH", req.Plan.Steps[1].RollbackRisk)
	assert.Equal(t, "req-123", fake.requestID)
}

func TestClient_ExecuteFailures(t *testing.T) {
	t.Run("executor reports failure", func(t *testing.T) {
		fake := &fakePlanner{executeFn: func(context.Context, *ExecuteRemediationPlanRequest) (*ExecuteRemediationPlanResponse, error) {
			return &ExecuteRemediationPlanResponse{Success: false, Error: "permission denied for table orders"}, nil
		}}
		c := newTestClient(t, startPlanner(t, fake), Options{})

		err := c.ExecuteRemediationPlan(context.Background(), "a1", domain.RollbackPlan{})
		var ef *domain.ExecutorFailureError
		require.ErrorAs(t, err, &ef)
		assert.Equal(t, "permission denied for table orders", ef.Detail)
		assert.False(t, domain.IsRetryable(err))
	})

	t.Run("executor exceeds deadline", func(t *testing.T) {
		fake := &fakePlanner{executeFn: func(ctx context.Context, _ *ExecuteRemediationPlanRequest) (*ExecuteRemediationPlanResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}
		c := newTestClient(t, startPlanner(t, fake), Options{Timeout: 100 * time.Millisecond})

		err := c.ExecuteRemediationPlan(context.Background(), "a1", domain.RollbackPlan{})
		var ef *domain.ExecutorFailureError
		require.ErrorAs(t, err, &ef)
		assert.Contains(t, ef.Detail, "verify the database state manually")
	})

	t.Run("executor unreachable", func(t *testing.T) {
		c := newTestClient(t, deadEndpoint(t), Options{Timeout: 2 * time.Second})

		err := c.ExecuteRemediationPlan(context.Background(), "a1", domain.RollbackPlan{})
		var unavailable *domain.PlannerUnavailableError
		require.ErrorAs(t, err, &unavailable)
	})
}

func TestDialTarget(t *testing.T) {
	tests := []struct {
		in      string
		target  string
		secure  bool
		wantErr bool
	}{
		{"grpc://planner:7443", "planner:7443", false, false},
		{"grpcs://planner.internal:443", "planner.internal:443", true, false},
		{"GRPC://x:1", "x:1", false, false},
		{"http://planner:80", "", false, true},
		{"grpc://", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			target, secure, err := dialTarget(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.target, target)
			assert.Equal(t, tt.secure, secure)
		})
	}
}
