// Package testutil provides function-field mocks of the domain ports.
package testutil

import (
	"context"
	"sync"
	"time"

	"remedy-audit/internal/domain"
)

// MockAuditRepo implements domain.AuditRepository for testing. Unset
// functions panic so unexpected calls fail loudly.
type MockAuditRepo struct {
	InsertFn           func(ctx context.Context, e *domain.AuditEntry) error
	GetFn              func(ctx context.Context, id string) (*domain.AuditEntry, error)
	ListFn             func(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, int64, error)
	SetStatusFn        func(ctx context.Context, id string, status domain.ExecutionStatus, actor string) error
	SetFeedbackFn      func(ctx context.Context, id string, feedback domain.Feedback) error
	ListStatusEventsFn func(ctx context.Context, id string) ([]domain.StatusEvent, error)

	mu      sync.Mutex
	Filters []domain.AuditFilter // filters passed to List, for assertions
}

// Insert implements the interface method for testing.
func (m *MockAuditRepo) Insert(ctx context.Context, e *domain.AuditEntry) error {
	if m.InsertFn != nil {
		return m.InsertFn(ctx, e)
	}
	panic("unexpected call to MockAuditRepo.Insert")
}

// Get implements the interface method for testing.
func (m *MockAuditRepo) Get(ctx context.Context, id string) (*domain.AuditEntry, error) {
	if m.GetFn != nil {
		return m.GetFn(ctx, id)
	}
	panic("unexpected call to MockAuditRepo.Get")
}

// List implements the interface method for testing.
func (m *MockAuditRepo) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, int64, error) {
	m.mu.Lock()
	m.Filters = append(m.Filters, filter)
	m.mu.Unlock()
	if m.ListFn != nil {
		return m.ListFn(ctx, filter)
	}
	panic("unexpected call to MockAuditRepo.List")
}

// SetStatus implements the interface method for testing.
func (m *MockAuditRepo) SetStatus(ctx context.Context, id string, status domain.ExecutionStatus, actor string) error {
	if m.SetStatusFn != nil {
		return m.SetStatusFn(ctx, id, status, actor)
	}
	panic("unexpected call to MockAuditRepo.SetStatus")
}

// SetFeedback implements the interface method for testing.
func (m *MockAuditRepo) SetFeedback(ctx context.Context, id string, feedback domain.Feedback) error {
	if m.SetFeedbackFn != nil {
		return m.SetFeedbackFn(ctx, id, feedback)
	}
	panic("unexpected call to MockAuditRepo.SetFeedback")
}

// ListStatusEvents implements the interface method for testing.
func (m *MockAuditRepo) ListStatusEvents(ctx context.Context, id string) ([]domain.StatusEvent, error) {
	if m.ListStatusEventsFn != nil {
		return m.ListStatusEventsFn(ctx, id)
	}
	panic("unexpected call to MockAuditRepo.ListStatusEvents")
}

// LastFilter returns the most recent List filter, or the zero filter.
func (m *MockAuditRepo) LastFilter() domain.AuditFilter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Filters) == 0 {
		return domain.AuditFilter{}
	}
	return m.Filters[len(m.Filters)-1]
}

var _ domain.AuditRepository = (*MockAuditRepo)(nil)

// MockPlanner implements domain.RollbackPlanner for testing.
type MockPlanner struct {
	PreviewFn func(ctx context.Context, auditID string) (*domain.RollbackPlan, error)

	mu    sync.Mutex
	Calls int
}

// PreviewRollbackPlan implements the interface method for testing.
func (m *MockPlanner) PreviewRollbackPlan(ctx context.Context, auditID string) (*domain.RollbackPlan, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.PreviewFn != nil {
		return m.PreviewFn(ctx, auditID)
	}
	panic("unexpected call to MockPlanner.PreviewRollbackPlan")
}

// CallCount returns how many times the planner was called.
func (m *MockPlanner) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

var _ domain.RollbackPlanner = (*MockPlanner)(nil)

// MockExecutor implements domain.RemediationExecutor for testing. With no
// ExecuteFn every call succeeds.
type MockExecutor struct {
	ExecuteFn func(ctx context.Context, auditID string, plan domain.RollbackPlan) error

	mu    sync.Mutex
	Plans []domain.RollbackPlan // plans received, for assertions
}

// ExecuteRemediationPlan implements the interface method for testing.
func (m *MockExecutor) ExecuteRemediationPlan(ctx context.Context, auditID string, plan domain.RollbackPlan) error {
	m.mu.Lock()
	m.Plans = append(m.Plans, plan)
	m.mu.Unlock()
	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, auditID, plan)
	}
	return nil
}

// CallCount returns how many times the executor was called.
func (m *MockExecutor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Plans)
}

var _ domain.RemediationExecutor = (*MockExecutor)(nil)

// FixedClock is a domain.Clock frozen at T.
type FixedClock struct {
	mu sync.Mutex
	T  time.Time
}

// Now returns the frozen time.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.T
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.T = c.T.Add(d)
	c.mu.Unlock()
}

// StrPtr returns a pointer to s.
func StrPtr(s string) *string { return &s }
