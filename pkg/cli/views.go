package cli

import (
	"encoding/json"
	"strconv"
	"time"

	"remedy-audit/internal/domain"
	"remedy-audit/internal/service/migration"
	"remedy-audit/internal/service/rollback"
)

// JSON views match the field names of the HTTP API so scripts can consume
// either surface.

type entryView struct {
	ID               string          `json:"id"`
	FeatureID        string          `json:"feature_id"`
	Environment      string          `json:"environment"`
	Timestamp        time.Time       `json:"timestamp"`
	RootCause        string          `json:"root_cause_type"`
	Confidence       *float64        `json:"confidence,omitempty"`
	Diagnosis        json.RawMessage `json:"diagnosis,omitempty"`
	SafeMode         bool            `json:"safe_mode"`
	DestructiveSteps int             `json:"destructive_steps"`
	Status           string          `json:"execution_status"`
	Feedback         *string         `json:"feedback"`
}

func newEntryView(e domain.AuditEntry) entryView {
	v := entryView{
		ID:               e.ID,
		FeatureID:        e.FeatureID,
		Environment:      e.Environment,
		Timestamp:        e.Timestamp.UTC(),
		RootCause:        string(e.RootCause),
		SafeMode:         e.SafeMode,
		DestructiveSteps: e.DestructiveSteps,
		Status:           string(e.Status),
	}
	if json.Valid(e.Diagnosis.Raw) {
		v.Diagnosis = e.Diagnosis.Raw
	}
	if c, ok := e.Diagnosis.Confidence(); ok {
		v.Confidence = &c
	}
	if e.Feedback != nil {
		fb := string(*e.Feedback)
		v.Feedback = &fb
	}
	return v
}

type summaryView struct {
	HighestRisk       string    `json:"highest_risk"`
	AffectedResources []string  `json:"affected_resources"`
	StepsSkipped      int       `json:"steps_skipped"`
	Quality           string    `json:"plan_quality"`
	WindowExpired     bool      `json:"window_expired"`
	Allowed           bool      `json:"allowed"`
	WindowClosesAt    time.Time `json:"window_closes_at"`
}

func newSummaryView(s domain.ImpactSummary) summaryView {
	return summaryView{
		HighestRisk:       string(s.HighestRisk),
		AffectedResources: s.AffectedResources,
		StepsSkipped:      s.StepsSkipped,
		Quality:           string(s.Quality),
		WindowExpired:     s.WindowExpired,
		Allowed:           s.Allowed,
		WindowClosesAt:    s.WindowClosesAt.UTC(),
	}
}

type previewView struct {
	Entry    entryView       `json:"entry"`
	Plan     json.RawMessage `json:"plan"`
	Summary  summaryView     `json:"summary"`
	Eligible bool            `json:"eligible"`
	Reason   string          `json:"reason,omitempty"`
}

func newPreviewView(p *rollback.Preview) (previewView, error) {
	plan, err := migration.EncodePlan(*p.Plan)
	if err != nil {
		return previewView{}, err
	}
	return previewView{
		Entry:    newEntryView(*p.Entry),
		Plan:     plan,
		Summary:  newSummaryView(p.Summary),
		Eligible: p.Eligible && p.Summary.Allowed,
		Reason:   p.Reason,
	}, nil
}

var entryColumns = []string{"id", "timestamp", "feature", "environment", "root_cause", "confidence", "status", "feedback"}

func entryRow(e domain.AuditEntry) []string {
	confidence := "-"
	if c, ok := e.Diagnosis.Confidence(); ok {
		confidence = strconv.FormatFloat(c, 'f', 2, 64)
	}
	feedback := "-"
	if e.Feedback != nil {
		feedback = string(*e.Feedback)
	}
	return []string{
		e.ID,
		e.Timestamp.UTC().Format(time.RFC3339),
		e.FeatureID,
		e.Environment,
		string(e.RootCause),
		confidence,
		string(e.Status),
		feedback,
	}
}

func entryRows(es []domain.AuditEntry) [][]string {
	rows := make([][]string, 0, len(es))
	for _, e := range es {
		rows = append(rows, entryRow(e))
	}
	return rows
}
