package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// ExecutionStatus is the outcome recorded for an applied remediation.
type ExecutionStatus string

// Remediation outcome statuses. ROLLED_BACK is terminal.
const (
	StatusSuccess        ExecutionStatus = "SUCCESS"
	StatusFailure        ExecutionStatus = "FAILURE"
	StatusPartialSuccess ExecutionStatus = "PARTIAL_SUCCESS"
	StatusRolledBack     ExecutionStatus = "ROLLED_BACK"
)

// Valid reports whether s is a known execution status.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusPartialSuccess, StatusRolledBack:
		return true
	}
	return false
}

// ParseExecutionStatus normalizes user input ("rolled-back", "success") into a status.
func ParseExecutionStatus(v string) (ExecutionStatus, error) {
	s := ExecutionStatus(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(v), "-", "_")))
	if !s.Valid() {
		return "", ErrValidation("unknown execution status %q", v)
	}
	return s, nil
}

// CanTransition reports whether the status state machine permits from -> to.
// Only SUCCESS and PARTIAL_SUCCESS may become ROLLED_BACK; a same-status
// "transition" is handled as a no-op by the store and is not listed here.
func CanTransition(from, to ExecutionStatus) bool {
	if to != StatusRolledBack {
		return false
	}
	return from == StatusSuccess || from == StatusPartialSuccess
}

// RootCause classifies why the original problem occurred.
type RootCause string

// Known root-cause categories.
const (
	RootCauseLogicError          RootCause = "LOGIC_ERROR"
	RootCausePermissionRecursion RootCause = "PERMISSION_RECURSION"
	RootCauseSyntaxError         RootCause = "SYNTAX_ERROR"
	RootCauseTimeout             RootCause = "TIMEOUT"
	RootCauseSchemaDrift         RootCause = "SCHEMA_DRIFT"
	RootCauseUnknown             RootCause = "UNKNOWN"
)

// ParseRootCause normalizes user input ("logic-error") into a root cause.
func ParseRootCause(v string) (RootCause, error) {
	rc := RootCause(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(v), "-", "_")))
	switch rc {
	case RootCauseLogicError, RootCausePermissionRecursion, RootCauseSyntaxError,
		RootCauseTimeout, RootCauseSchemaDrift, RootCauseUnknown:
		return rc, nil
	}
	return "", ErrValidation("unknown root cause %q", v)
}

// Feedback is the operator's post-hoc sentiment about a remediation outcome.
type Feedback string

// Feedback values. Feedback is used for quality analysis only.
const (
	FeedbackPositive Feedback = "POSITIVE"
	FeedbackNegative Feedback = "NEGATIVE"
	FeedbackWorse    Feedback = "WORSE"
)

// ParseFeedback normalizes user input into a Feedback value.
func ParseFeedback(v string) (Feedback, error) {
	f := Feedback(strings.ToUpper(strings.TrimSpace(v)))
	switch f {
	case FeedbackPositive, FeedbackNegative, FeedbackWorse:
		return f, nil
	}
	return "", ErrValidation("unknown feedback %q: use POSITIVE, NEGATIVE or WORSE", v)
}

// AuditEntry is the permanent record of one applied remediation attempt.
type AuditEntry struct {
	ID          string
	FeatureID   string
	Environment string
	Timestamp   time.Time // when the fix was applied, UTC

	RootCause RootCause
	Diagnosis Diagnosis

	// SafeMode is captured when the remediation ran; it is never re-read
	// from live settings.
	SafeMode         bool
	DestructiveSteps int
	Destructive      bool

	Status   ExecutionStatus
	Feedback *Feedback

	UpdatedAt time.Time
}

// FixStep is one forward step of the originally proposed fix plan.
type FixStep struct {
	StepIndex   int    `json:"step_index"`
	SQL         string `json:"sql,omitempty"`
	Description string `json:"description,omitempty"`
}

// Diagnosis wraps the Doctor's free-form diagnosis payload. Only the stable
// fields are decoded; the raw document is kept verbatim.
type Diagnosis struct {
	Raw json.RawMessage
}

type diagnosisFields struct {
	Confidence *float64  `json:"confidence"`
	Reasoning  string    `json:"reasoning"`
	FixPlan    []FixStep `json:"fix_plan"`
}

func (d Diagnosis) fields() diagnosisFields {
	var f diagnosisFields
	if len(d.Raw) == 0 {
		return f
	}
	_ = json.Unmarshal(d.Raw, &f)
	return f
}

// Confidence returns the diagnosis confidence score, if present.
func (d Diagnosis) Confidence() (float64, bool) {
	c := d.fields().Confidence
	if c == nil {
		return 0, false
	}
	return *c, true
}

// Reasoning returns the textual reasoning of the diagnosis.
func (d Diagnosis) Reasoning() string { return d.fields().Reasoning }

// FixPlan returns the originally proposed forward steps.
func (d Diagnosis) FixPlan() []FixStep { return d.fields().FixPlan }

// StatusEvent is one row of the append-only status trail of an audit entry.
type StatusEvent struct {
	ID         int64
	AuditID    string
	FromStatus ExecutionStatus
	ToStatus   ExecutionStatus
	Actor      string
	CreatedAt  time.Time
}
