// Package governance implements the read side of the remediation audit log:
// querying, history and quality analysis.
package governance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"remedy-audit/internal/domain"
)

// AuditQuery selects audit entries. Nil and empty fields are unconstrained;
// all set fields must match.
type AuditQuery struct {
	Status    *domain.ExecutionStatus
	RootCause *domain.RootCause
	Since     *time.Time
	Until     *time.Time

	// FeatureSearch is a case-insensitive substring of the feature id. It is
	// applied after the store has filtered by the indexed fields.
	FeatureSearch string

	Limit int
}

// ParseDate accepts an RFC 3339 timestamp or a bare UTC date.
func ParseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, v)
}

// AuditService provides audit log operations.
type AuditService struct {
	repo   domain.AuditRepository
	logger *slog.Logger
}

// NewAuditService creates a new AuditService.
func NewAuditService(repo domain.AuditRepository, logger *slog.Logger) *AuditService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditService{repo: repo, logger: logger}
}

// Query returns entries matching q, newest first, at most q.Limit of them.
func (s *AuditService) Query(ctx context.Context, q AuditQuery) ([]domain.AuditEntry, error) {
	if q.Since != nil && q.Until != nil && !q.Since.Before(*q.Until) {
		return nil, domain.ErrValidation("start date must be before end date")
	}
	limit := domain.PageRequest{MaxResults: q.Limit}.Limit()
	filter := domain.AuditFilter{
		Status:    q.Status,
		RootCause: q.RootCause,
		Since:     q.Since,
		Until:     q.Until,
	}

	search := strings.ToLower(strings.TrimSpace(q.FeatureSearch))
	if search == "" {
		filter.Page = domain.PageRequest{MaxResults: limit}
		entries, _, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("list audit entries: %w", err)
		}
		return entries, nil
	}

	out := []domain.AuditEntry{}
	err := s.scan(ctx, filter, func(e domain.AuditEntry) bool {
		if strings.Contains(strings.ToLower(e.FeatureID), search) {
			out = append(out, e)
		}
		return len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ConfidenceMisfires returns entries whose diagnosis confidence was at least
// threshold but whose operator feedback was NEGATIVE or WORSE.
func (s *AuditService) ConfidenceMisfires(ctx context.Context, threshold float64) ([]domain.AuditEntry, error) {
	if threshold < 0 || threshold > 1 {
		return nil, domain.ErrValidation("confidence threshold must be between 0 and 1, got %g", threshold)
	}
	out := []domain.AuditEntry{}
	err := s.scan(ctx, domain.AuditFilter{}, func(e domain.AuditEntry) bool {
		if e.Feedback == nil || (*e.Feedback != domain.FeedbackNegative && *e.Feedback != domain.FeedbackWorse) {
			return true
		}
		if c, ok := e.Diagnosis.Confidence(); ok && c >= threshold {
			out = append(out, e)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns a single audit entry.
func (s *AuditService) Get(ctx context.Context, id string) (*domain.AuditEntry, error) {
	return s.repo.Get(ctx, id)
}

// History returns the status trail of an entry, oldest first.
func (s *AuditService) History(ctx context.Context, id string) ([]domain.StatusEvent, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListStatusEvents(ctx, id)
}

// RecordFeedback stores the operator's feedback on an entry.
func (s *AuditService) RecordFeedback(ctx context.Context, id, value string) (*domain.AuditEntry, error) {
	fb, err := domain.ParseFeedback(value)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetFeedback(ctx, id, fb); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "feedback recorded", "audit_id", id, "feedback", fb)
	return s.repo.Get(ctx, id)
}

// scan pages through every entry matching filter until visit returns false.
func (s *AuditService) scan(ctx context.Context, filter domain.AuditFilter, visit func(domain.AuditEntry) bool) error {
	page := domain.PageRequest{MaxResults: domain.MaxAuditPage}
	for {
		filter.Page = page
		entries, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return fmt.Errorf("list audit entries: %w", err)
		}
		for _, e := range entries {
			if !visit(e) {
				return nil
			}
		}
		next, more := page.Next(total)
		if len(entries) == 0 || !more {
			return nil
		}
		page = next
	}
}
