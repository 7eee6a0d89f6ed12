package migration

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"remedy-audit/internal/domain"
)

// ChangeKind describes how a step differs between two plans.
type ChangeKind string

// Change kinds.
const (
	StepAdded   ChangeKind = "ADDED"
	StepRemoved ChangeKind = "REMOVED"
	StepChanged ChangeKind = "CHANGED"
)

// StepChange is one difference between two plans for the same entry. Field
// is empty for added and removed steps. StepIndex is -1 for plan-level
// fields.
type StepChange struct {
	StepIndex int        `json:"step_index"`
	Kind      ChangeKind `json:"kind"`
	Field     string     `json:"field,omitempty"`
	Old       string     `json:"old,omitempty"`
	New       string     `json:"new,omitempty"`
}

// Diff compares a previously exported plan with a freshly fetched one.
// Changes are ordered by step index, plan-level changes first.
func Diff(previous, current domain.RollbackPlan) []StepChange {
	var changes []StepChange
	if previous.TotalSteps != current.TotalSteps {
		changes = append(changes, StepChange{
			StepIndex: -1,
			Kind:      StepChanged,
			Field:     "total_steps",
			Old:       strconv.Itoa(previous.TotalSteps),
			New:       strconv.Itoa(current.TotalSteps),
		})
	}

	prev := indexSteps(previous.Steps)
	curr := indexSteps(current.Steps)

	for idx, c := range curr {
		p, ok := prev[idx]
		if !ok {
			changes = append(changes, StepChange{StepIndex: idx, Kind: StepAdded, New: inverseText(c)})
			continue
		}
		changes = append(changes, compareSteps(p, c)...)
	}
	for idx, p := range prev {
		if _, ok := curr[idx]; !ok {
			changes = append(changes, StepChange{StepIndex: idx, Kind: StepRemoved, Old: inverseText(p)})
		}
	}

	sort.SliceStable(changes, func(i, j int) bool {
		if changes[i].StepIndex != changes[j].StepIndex {
			return changes[i].StepIndex < changes[j].StepIndex
		}
		return changes[i].Field < changes[j].Field
	})
	return changes
}

func indexSteps(steps []domain.RollbackStep) map[int]domain.RollbackStep {
	m := make(map[int]domain.RollbackStep, len(steps))
	for _, s := range steps {
		m[s.StepIndex] = s
	}
	return m
}

func compareSteps(p, c domain.RollbackStep) []StepChange {
	var out []StepChange
	add := func(field, before, after string) {
		if before != after {
			out = append(out, StepChange{StepIndex: c.StepIndex, Kind: StepChanged, Field: field, Old: before, New: after})
		}
	}
	add("description", p.Description, c.Description)
	add("inverse_sql", inverseText(p), inverseText(c))
	add("risk", string(domain.NormalizeRisk(string(p.Risk))), string(domain.NormalizeRisk(string(c.Risk))))
	return out
}

func inverseText(s domain.RollbackStep) string {
	if s.InverseSQL == nil {
		return ""
	}
	return *s.InverseSQL
}

// planDocument is the JSON form of a plan written by `audit export --format json`.
type planDocument struct {
	AuditID    string         `json:"audit_id"`
	TotalSteps int            `json:"total_steps"`
	Steps      []stepDocument `json:"rollback_steps"`
}

type stepDocument struct {
	StepIndex   int     `json:"step_index"`
	Description string  `json:"original_sql_description"`
	InverseSQL  *string `json:"inverse_sql,omitempty"`
	Risk        string  `json:"rollback_risk"`
}

// EncodePlan serializes plan as indented JSON, steps in ascending order.
func EncodePlan(plan domain.RollbackPlan) ([]byte, error) {
	doc := planDocument{AuditID: plan.AuditID, TotalSteps: plan.TotalSteps, Steps: make([]stepDocument, 0, len(plan.Steps))}
	for _, s := range plan.Steps {
		doc.Steps = append(doc.Steps, stepDocument{
			StepIndex:   s.StepIndex,
			Description: s.Description,
			InverseSQL:  s.InverseSQL,
			Risk:        string(s.Risk),
		})
	}
	sort.Slice(doc.Steps, func(i, j int) bool { return doc.Steps[i].StepIndex < doc.Steps[j].StepIndex })
	return json.MarshalIndent(doc, "", "  ")
}

// DecodePlan parses a plan written by EncodePlan.
func DecodePlan(data []byte) (*domain.RollbackPlan, error) {
	var doc planDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, domain.ErrValidation("invalid plan document: %v", err)
	}
	if doc.AuditID == "" {
		return nil, domain.ErrValidation("plan document has no audit_id")
	}
	plan := &domain.RollbackPlan{AuditID: doc.AuditID, TotalSteps: doc.TotalSteps}
	for _, s := range doc.Steps {
		if s.StepIndex < 0 {
			return nil, domain.ErrValidation("plan document step index %d is negative", s.StepIndex)
		}
		plan.Steps = append(plan.Steps, domain.RollbackStep{
			StepIndex:   s.StepIndex,
			Description: s.Description,
			InverseSQL:  s.InverseSQL,
			Risk:        domain.NormalizeRisk(s.Risk),
		})
	}
	return plan, nil
}

// String renders c for table output.
func (c StepChange) String() string {
	if c.Field == "" {
		return fmt.Sprintf("step %d %s", c.StepIndex, c.Kind)
	}
	if c.StepIndex < 0 {
		return fmt.Sprintf("%s: %q -> %q", c.Field, c.Old, c.New)
	}
	return fmt.Sprintf("step %d %s: %q -> %q", c.StepIndex, c.Field, c.Old, c.New)
}
