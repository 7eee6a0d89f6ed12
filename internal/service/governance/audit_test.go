package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remedy-audit/internal/db"
	"remedy-audit/internal/db/repository"
	"remedy-audit/internal/domain"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func entry(id, feature string, status domain.ExecutionStatus, rc domain.RootCause, at time.Time) domain.AuditEntry {
	return domain.AuditEntry{ID: id, FeatureID: feature, Environment: "prod", Timestamp: at, RootCause: rc, Status: status}
}

func TestAuditService_Query(t *testing.T) {
	t.Run("pushes_indexed_filters_down", func(t *testing.T) {
		status := domain.StatusSuccess
		rc := domain.RootCauseTimeout
		since, until := t0.Add(-time.Hour), t0
		repo := &mockAuditRepo{
			ListFn: func(_ context.Context, f domain.AuditFilter) ([]domain.AuditEntry, int64, error) {
				return []domain.AuditEntry{entry("ae-1", "orders", status, rc, t0.Add(-time.Minute))}, 1, nil
			},
		}
		svc := NewAuditService(repo, discardLogger())

		got, err := svc.Query(context.Background(), AuditQuery{Status: &status, RootCause: &rc, Since: &since, Until: &until, Limit: 10})
		require.NoError(t, err)
		require.Len(t, got, 1)

		f := repo.LastFilter()
		assert.Equal(t, &status, f.Status)
		assert.Equal(t, &rc, f.RootCause)
		assert.Equal(t, &since, f.Since)
		assert.Equal(t, &until, f.Until)
		assert.Equal(t, 10, f.Page.MaxResults)
	})

	t.Run("default_limit", func(t *testing.T) {
		repo := &mockAuditRepo{
			ListFn: func(_ context.Context, _ domain.AuditFilter) ([]domain.AuditEntry, int64, error) {
				return nil, 0, nil
			},
		}
		svc := NewAuditService(repo, discardLogger())

		_, err := svc.Query(context.Background(), AuditQuery{})
		require.NoError(t, err)
		assert.Equal(t, domain.DefaultAuditPage, repo.LastFilter().Page.MaxResults)
	})

	t.Run("inverted_range", func(t *testing.T) {
		svc := NewAuditService(&mockAuditRepo{}, discardLogger())
		since, until := t0, t0.Add(-time.Hour)

		_, err := svc.Query(context.Background(), AuditQuery{Since: &since, Until: &until})
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("repo_error", func(t *testing.T) {
		repo := &mockAuditRepo{
			ListFn: func(_ context.Context, _ domain.AuditFilter) ([]domain.AuditEntry, int64, error) {
				return nil, 0, errTest
			},
		}
		svc := NewAuditService(repo, discardLogger())

		_, err := svc.Query(context.Background(), AuditQuery{FeatureSearch: "x"})
		require.ErrorIs(t, err, errTest)
	})
}

func TestAuditService_QueryFeatureSearch(t *testing.T) {
	ctx := context.Background()
	writeDB, readDB := db.OpenTestSQLite(t)
	repo := repository.NewAuditRepo(writeDB, readDB)
	svc := NewAuditService(repo, discardLogger())

	seed := []domain.AuditEntry{
		entry("ae-1", "Orders-Daily", domain.StatusSuccess, domain.RootCauseTimeout, t0.Add(-4*time.Hour)),
		entry("ae-2", "customers", domain.StatusSuccess, domain.RootCauseTimeout, t0.Add(-3*time.Hour)),
		entry("ae-3", "orders_weekly", domain.StatusFailure, domain.RootCauseTimeout, t0.Add(-2*time.Hour)),
		entry("ae-4", "ORDERS_MONTHLY", domain.StatusSuccess, domain.RootCauseLogicError, t0.Add(-1*time.Hour)),
	}
	for i := range seed {
		require.NoError(t, repo.Insert(ctx, &seed[i]))
	}

	ids := func(es []domain.AuditEntry) []string {
		out := make([]string, 0, len(es))
		for _, e := range es {
			out = append(out, e.ID)
		}
		return out
	}

	t.Run("case_insensitive_substring", func(t *testing.T) {
		got, err := svc.Query(ctx, AuditQuery{FeatureSearch: "orders"})
		require.NoError(t, err)
		assert.Equal(t, []string{"ae-4", "ae-3", "ae-1"}, ids(got))
	})

	t.Run("and_with_store_filters", func(t *testing.T) {
		status := domain.StatusSuccess
		rc := domain.RootCauseTimeout
		got, err := svc.Query(ctx, AuditQuery{FeatureSearch: "ORDERS", Status: &status, RootCause: &rc})
		require.NoError(t, err)
		assert.Equal(t, []string{"ae-1"}, ids(got))
	})

	t.Run("limit_applies_after_search", func(t *testing.T) {
		got, err := svc.Query(ctx, AuditQuery{FeatureSearch: "orders", Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"ae-4", "ae-3"}, ids(got))
	})

	t.Run("no_match", func(t *testing.T) {
		got, err := svc.Query(ctx, AuditQuery{FeatureSearch: "inventory"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestAuditService_ScanPagesThroughStore(t *testing.T) {
	total := domain.MaxAuditPage + 5
	repo := &mockAuditRepo{
		ListFn: func(_ context.Context, f domain.AuditFilter) ([]domain.AuditEntry, int64, error) {
			offset := f.Page.Offset()
			var out []domain.AuditEntry
			for i := offset; i < total && len(out) < f.Page.Limit(); i++ {
				out = append(out, entry(fmt.Sprintf("ae-%d", i), "feature", domain.StatusSuccess, domain.RootCauseUnknown, t0))
			}
			return out, int64(total), nil
		},
	}
	svc := NewAuditService(repo, discardLogger())

	got, err := svc.Query(context.Background(), AuditQuery{FeatureSearch: "feat", Limit: domain.MaxAuditPage})
	require.NoError(t, err)
	assert.Len(t, got, domain.MaxAuditPage)
	assert.Len(t, repo.Filters, 1)

	misfires, err := svc.ConfidenceMisfires(context.Background(), 0.5)
	require.NoError(t, err)
	assert.Empty(t, misfires)
	assert.Len(t, repo.Filters, 3)
}

func TestAuditService_ConfidenceMisfires(t *testing.T) {
	withDiag := func(e domain.AuditEntry, confidence float64, fb *domain.Feedback) domain.AuditEntry {
		raw, _ := json.Marshal(map[string]any{"confidence": confidence, "reasoning": "r"})
		e.Diagnosis = domain.Diagnosis{Raw: raw}
		e.Feedback = fb
		return e
	}
	fb := func(f domain.Feedback) *domain.Feedback { return &f }

	entries := []domain.AuditEntry{
		withDiag(entry("hi-neg", "f", domain.StatusSuccess, domain.RootCauseTimeout, t0), 0.95, fb(domain.FeedbackNegative)),
		withDiag(entry("hi-worse", "f", domain.StatusSuccess, domain.RootCauseTimeout, t0), 0.9, fb(domain.FeedbackWorse)),
		withDiag(entry("at-threshold", "f", domain.StatusSuccess, domain.RootCauseTimeout, t0), 0.8, fb(domain.FeedbackNegative)),
		withDiag(entry("hi-pos", "f", domain.StatusSuccess, domain.RootCauseTimeout, t0), 0.99, fb(domain.FeedbackPositive)),
		withDiag(entry("lo-neg", "f", domain.StatusSuccess, domain.RootCauseTimeout, t0), 0.4, fb(domain.FeedbackNegative)),
		withDiag(entry("hi-none", "f", domain.StatusSuccess, domain.RootCauseTimeout, t0), 0.99, nil),
		{ID: "no-diag", Feedback: fb(domain.FeedbackWorse)},
	}
	repo := &mockAuditRepo{
		ListFn: func(_ context.Context, _ domain.AuditFilter) ([]domain.AuditEntry, int64, error) {
			return entries, int64(len(entries)), nil
		},
	}
	svc := NewAuditService(repo, discardLogger())

	got, err := svc.ConfidenceMisfires(context.Background(), 0.8)
	require.NoError(t, err)
	var ids []string
	for _, e := range got {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"hi-neg", "hi-worse", "at-threshold"}, ids)

	_, err = svc.ConfidenceMisfires(context.Background(), 1.5)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestAuditService_HistoryAndFeedback(t *testing.T) {
	ctx := context.Background()
	writeDB, readDB := db.OpenTestSQLite(t)
	repo := repository.NewAuditRepo(writeDB, readDB)
	svc := NewAuditService(repo, discardLogger())

	e := entry("ae-1", "orders", domain.StatusSuccess, domain.RootCauseTimeout, t0)
	require.NoError(t, repo.Insert(ctx, &e))
	require.NoError(t, repo.SetStatus(ctx, "ae-1", domain.StatusRolledBack, "alice"))

	events, err := svc.History(ctx, "ae-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.StatusSuccess, events[0].FromStatus)
	assert.Equal(t, domain.StatusRolledBack, events[0].ToStatus)
	assert.Equal(t, "alice", events[0].Actor)

	_, err = svc.History(ctx, "missing")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)

	got, err := svc.RecordFeedback(ctx, "ae-1", "worse")
	require.NoError(t, err)
	require.NotNil(t, got.Feedback)
	assert.Equal(t, domain.FeedbackWorse, *got.Feedback)
	assert.Equal(t, domain.StatusRolledBack, got.Status, "feedback never changes status")

	_, err = svc.RecordFeedback(ctx, "ae-1", "meh")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = svc.RecordFeedback(ctx, "missing", "POSITIVE")
	require.ErrorAs(t, err, &nf)
}
