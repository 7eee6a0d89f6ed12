package api

import (
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"remedy-audit/internal/domain"
	"remedy-audit/internal/service/governance"
	"remedy-audit/internal/service/migration"
	"remedy-audit/internal/service/rollback"
)

// === Mapping helpers ===

type auditEntryJSON struct {
	ID               string          `json:"id"`
	FeatureID        string          `json:"feature_id"`
	Environment      string          `json:"environment"`
	Timestamp        time.Time       `json:"timestamp"`
	RootCause        string          `json:"root_cause_type"`
	Confidence       *float64        `json:"confidence,omitempty"`
	Diagnosis        json.RawMessage `json:"diagnosis,omitempty"`
	SafeMode         bool            `json:"safe_mode"`
	DestructiveSteps int             `json:"destructive_steps"`
	Destructive      bool            `json:"destructive"`
	Status           string          `json:"execution_status"`
	Feedback         *string         `json:"feedback"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func auditEntryToAPI(e domain.AuditEntry) auditEntryJSON {
	out := auditEntryJSON{
		ID:               e.ID,
		FeatureID:        e.FeatureID,
		Environment:      e.Environment,
		Timestamp:        e.Timestamp.UTC(),
		RootCause:        string(e.RootCause),
		SafeMode:         e.SafeMode,
		DestructiveSteps: e.DestructiveSteps,
		Destructive:      e.Destructive,
		Status:           string(e.Status),
		UpdatedAt:        e.UpdatedAt.UTC(),
	}
	if json.Valid(e.Diagnosis.Raw) {
		out.Diagnosis = e.Diagnosis.Raw
	}
	if c, ok := e.Diagnosis.Confidence(); ok {
		out.Confidence = &c
	}
	if e.Feedback != nil {
		fb := string(*e.Feedback)
		out.Feedback = &fb
	}
	return out
}

func auditEntriesToAPI(es []domain.AuditEntry) []auditEntryJSON {
	out := make([]auditEntryJSON, 0, len(es))
	for _, e := range es {
		out = append(out, auditEntryToAPI(e))
	}
	return out
}

type statusEventJSON struct {
	From      string    `json:"from_status"`
	To        string    `json:"to_status"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}

func statusEventsToAPI(events []domain.StatusEvent) []statusEventJSON {
	out := make([]statusEventJSON, 0, len(events))
	for _, ev := range events {
		out = append(out, statusEventJSON{
			From:      string(ev.FromStatus),
			To:        string(ev.ToStatus),
			Actor:     ev.Actor,
			CreatedAt: ev.CreatedAt.UTC(),
		})
	}
	return out
}

type impactSummaryJSON struct {
	HighestRisk       string    `json:"highest_risk"`
	AffectedResources []string  `json:"affected_resources"`
	StepsSkipped      int       `json:"steps_skipped"`
	Quality           string    `json:"plan_quality"`
	WindowExpired     bool      `json:"window_expired"`
	Allowed           bool      `json:"allowed"`
	EvaluatedAt       time.Time `json:"evaluated_at"`
	WindowClosesAt    time.Time `json:"window_closes_at"`
}

func impactSummaryToAPI(s domain.ImpactSummary) impactSummaryJSON {
	return impactSummaryJSON{
		HighestRisk:       string(s.HighestRisk),
		AffectedResources: s.AffectedResources,
		StepsSkipped:      s.StepsSkipped,
		Quality:           string(s.Quality),
		WindowExpired:     s.WindowExpired,
		Allowed:           s.Allowed,
		EvaluatedAt:       s.EvaluatedAt.UTC(),
		WindowClosesAt:    s.WindowClosesAt.UTC(),
	}
}

type previewJSON struct {
	Entry    auditEntryJSON    `json:"entry"`
	Plan     json.RawMessage   `json:"plan"`
	Summary  impactSummaryJSON `json:"summary"`
	Eligible bool              `json:"eligible"`
	Reason   string            `json:"reason,omitempty"`
}

func previewToAPI(p *rollback.Preview) (previewJSON, error) {
	plan, err := migration.EncodePlan(*p.Plan)
	if err != nil {
		return previewJSON{}, err
	}
	return previewJSON{
		Entry:    auditEntryToAPI(*p.Entry),
		Plan:     plan,
		Summary:  impactSummaryToAPI(p.Summary),
		Eligible: p.Eligible && p.Summary.Allowed,
		Reason:   p.Reason,
	}, nil
}

// auditQueryFromParams parses the audit log query parameters.
func auditQueryFromParams(q url.Values) (governance.AuditQuery, error) {
	var out governance.AuditQuery
	if v := q.Get("status"); v != "" {
		s, err := domain.ParseExecutionStatus(v)
		if err != nil {
			return out, err
		}
		out.Status = &s
	}
	if v := q.Get("root_cause_type"); v != "" {
		rc, err := domain.ParseRootCause(v)
		if err != nil {
			return out, err
		}
		out.RootCause = &rc
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"start_date", &out.Since}, {"end_date", &out.Until}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := governance.ParseDate(v)
		if err != nil {
			return out, domain.ErrValidation("invalid %s %q: use RFC 3339 or YYYY-MM-DD", p.name, v)
		}
		*p.dst = &t
	}
	out.FeatureSearch = q.Get("feature")
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return out, domain.ErrValidation("invalid limit %q", v)
		}
		out.Limit = n
	}
	return out, nil
}
