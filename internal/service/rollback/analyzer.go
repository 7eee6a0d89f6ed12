package rollback

import (
	"time"

	"remedy-audit/internal/domain"
	"remedy-audit/internal/sqlscan"
)

// Analyze derives the impact summary of rolling back entry with plan at now.
// It is a pure function of its arguments.
//
// The window closes exactly RollbackWindow after the entry was applied; an
// evaluation at the closing instant is already expired.
func Analyze(entry domain.AuditEntry, plan domain.RollbackPlan, now time.Time) domain.ImpactSummary {
	closes := entry.Timestamp.Add(domain.RollbackWindow)
	expired := !now.Before(closes)

	var inverses []string
	for _, s := range plan.Steps {
		if s.HasInverse() {
			inverses = append(inverses, *s.InverseSQL)
		}
	}

	skipped := plan.TotalSteps - len(inverses)
	if skipped < 0 {
		skipped = 0
	}
	quality := domain.PlanComplete
	if skipped > 0 {
		quality = domain.PlanWarning
	}

	resources := sqlscan.ExtractAll(inverses...)
	if resources == nil {
		resources = []string{}
	}

	return domain.ImpactSummary{
		HighestRisk:       HighestRisk(plan.Steps),
		AffectedResources: resources,
		StepsSkipped:      skipped,
		Quality:           quality,
		WindowExpired:     expired,
		Allowed:           !expired,
		EvaluatedAt:       now,
		WindowClosesAt:    closes,
	}
}

// HighestRisk folds step risks with HIGH > MEDIUM > LOW > UNKNOWN. An empty
// plan is LOW: there is nothing to undo.
func HighestRisk(steps []domain.RollbackStep) domain.RiskLevel {
	if len(steps) == 0 {
		return domain.RiskLow
	}
	highest := domain.RiskUnknown
	for _, s := range steps {
		r := domain.NormalizeRisk(string(s.Risk))
		if r.Rank() > highest.Rank() {
			highest = r
		}
	}
	return highest
}
