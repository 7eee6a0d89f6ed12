package planner

import (
	"sort"
	"strings"

	"remedy-audit/internal/domain"
)

// ServiceName is the fully-qualified planner service.
const ServiceName = "remediation.v1.RemediationPlanner"

// Full method names on the planner service.
const (
	MethodPreviewRollbackPlan    = "/" + ServiceName + "/PreviewRollbackPlan"
	MethodExecuteRemediationPlan = "/" + ServiceName + "/ExecuteRemediationPlan"
)

// OrderLIFO marks an execute request whose steps are already in reverse order.
const OrderLIFO = "LIFO"

// PreviewRollbackPlanRequest asks for the inverse of an applied remediation.
type PreviewRollbackPlanRequest struct {
	AuditID string `json:"audit_id"`
}

// PreviewRollbackPlanResponse is the planner's answer. Success=false with
// Error set means the planner could not build a plan.
type PreviewRollbackPlanResponse struct {
	Success       bool       `json:"success"`
	RollbackSteps []WireStep `json:"rollback_steps,omitempty"`
	TotalSteps    int        `json:"total_steps"`
	Error         string     `json:"error,omitempty"`
}

// WireStep is one rollback step as exchanged with the planner.
type WireStep struct {
	StepIndex              int     `json:"step_index"`
	InverseSQL             *string `json:"inverse_sql,omitempty"`
	RollbackRisk           string  `json:"rollback_risk,omitempty"`
	OriginalSQLDescription string  `json:"original_sql_description,omitempty"`
}

// WirePlan is the plan payload of an execute request.
type WirePlan struct {
	Steps      []WireStep `json:"rollback_steps"`
	TotalSteps int        `json:"total_steps"`
}

// ExecuteRemediationPlanRequest asks the executor to apply a rollback plan.
// Steps are sent last-first and Order is always OrderLIFO.
type ExecuteRemediationPlanRequest struct {
	AuditID string   `json:"audit_id"`
	Order   string   `json:"order"`
	Plan    WirePlan `json:"plan"`
}

// ExecuteRemediationPlanResponse reports the executor outcome.
type ExecuteRemediationPlanResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// PlanFromWire normalizes a successful planner response: steps sorted by
// index, blank inverse SQL dropped, unknown risks mapped to UNKNOWN and
// TotalSteps raised to at least the number of returned steps.
func PlanFromWire(auditID string, resp *PreviewRollbackPlanResponse) *domain.RollbackPlan {
	plan := &domain.RollbackPlan{AuditID: auditID, TotalSteps: resp.TotalSteps}
	for _, ws := range resp.RollbackSteps {
		step := domain.RollbackStep{
			StepIndex:   ws.StepIndex,
			Description: strings.TrimSpace(ws.OriginalSQLDescription),
			Risk:        domain.NormalizeRisk(ws.RollbackRisk),
		}
		if ws.InverseSQL != nil && strings.TrimSpace(*ws.InverseSQL) != "" {
			sql := strings.TrimSpace(*ws.InverseSQL)
			step.InverseSQL = &sql
		}
		plan.Steps = append(plan.Steps, step)
	}
	sort.SliceStable(plan.Steps, func(i, j int) bool {
		return plan.Steps[i].StepIndex < plan.Steps[j].StepIndex
	})
	if plan.TotalSteps < len(plan.Steps) {
		plan.TotalSteps = len(plan.Steps)
	}
	return plan
}

// PlanToWire converts a plan to the execute payload in executor order.
func PlanToWire(plan domain.RollbackPlan) WirePlan {
	ordered := plan.ExecutionOrder()
	out := WirePlan{Steps: make([]WireStep, len(ordered)), TotalSteps: plan.TotalSteps}
	for i, s := range ordered {
		out.Steps[i] = WireStep{
			StepIndex:              s.StepIndex,
			InverseSQL:             s.InverseSQL,
			RollbackRisk:           string(s.Risk),
			OriginalSQLDescription: s.Description,
		}
	}
	return out
}
