package domain

import (
	"sort"
	"strings"
	"time"
)

// RollbackWindow is how long after a remediation was applied it may still be
// rolled back automatically.
const RollbackWindow = 24 * time.Hour

// RiskLevel classifies how risky it is to reverse a single step.
type RiskLevel string

// Risk labels, ordered HIGH > MEDIUM > LOW > UNKNOWN.
const (
	RiskUnknown RiskLevel = "UNKNOWN"
	RiskLow     RiskLevel = "LOW"
	RiskMedium  RiskLevel = "MEDIUM"
	RiskHigh    RiskLevel = "HIGH"
)

// Rank returns the position of r in the risk ordering. Unrecognised labels
// rank with UNKNOWN.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	default:
		return 0
	}
}

// NormalizeRisk maps a planner-supplied label onto a known RiskLevel.
func NormalizeRisk(v string) RiskLevel {
	switch r := RiskLevel(strings.ToUpper(strings.TrimSpace(v))); r {
	case RiskLow, RiskMedium, RiskHigh:
		return r
	default:
		return RiskUnknown
	}
}

// RollbackStep undoes one forward step of the original fix plan.
type RollbackStep struct {
	StepIndex   int
	Description string
	InverseSQL  *string // nil when the planner had no inverse text for the step
	Risk        RiskLevel
}

// HasInverse reports whether the step carries an executable inverse operation.
func (s RollbackStep) HasInverse() bool {
	return s.InverseSQL != nil && strings.TrimSpace(*s.InverseSQL) != ""
}

// RollbackPlan is the ordered set of inverse operations for an audit entry.
// It is fetched from the planner on demand and never persisted.
type RollbackPlan struct {
	AuditID    string
	Steps      []RollbackStep
	TotalSteps int // steps in the original forward plan
}

// ExecutionOrder returns the steps in the order the executor must apply
// them: last forward step first.
func (p RollbackPlan) ExecutionOrder() []RollbackStep {
	out := make([]RollbackStep, len(p.Steps))
	copy(out, p.Steps)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StepIndex > out[j].StepIndex
	})
	return out
}

// PlanQuality summarises whether every forward step has an inverse.
type PlanQuality string

// Plan quality values.
const (
	PlanComplete PlanQuality = "Complete"
	PlanWarning  PlanQuality = "Warning"
)

// ImpactSummary is derived from a plan each time it is analyzed.
type ImpactSummary struct {
	HighestRisk       RiskLevel
	AffectedResources []string
	StepsSkipped      int
	Quality           PlanQuality
	WindowExpired     bool
	Allowed           bool
	EvaluatedAt       time.Time
	WindowClosesAt    time.Time
}

// Confirmation is the operator's explicit approval of a previewed rollback.
type Confirmation struct {
	Operator            string
	AcknowledgeHighRisk bool
}

// RollbackResult reports a completed rollback.
type RollbackResult struct {
	Entry   *AuditEntry
	Summary ImpactSummary
}
