package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"remedy-audit/internal/domain"
	"remedy-audit/internal/sqlscan"
)

type demoEntry struct {
	feature    string
	env        string
	age        time.Duration
	rootCause  domain.RootCause
	status     domain.ExecutionStatus
	safeMode   bool
	confidence float64
	reasoning  string
	fixPlan    []domain.FixStep
	feedback   domain.Feedback
}

var demoEntries = []demoEntry{
	{
		feature: "billing/invoice_rollup", env: "staging", age: 2 * time.Hour,
		rootCause: domain.RootCausePermissionRecursion, status: domain.StatusSuccess, safeMode: true,
		confidence: 0.91, reasoning: "row-level policy references itself through a view",
		fixPlan: []domain.FixStep{
			{StepIndex: 0, SQL: "CREATE FUNCTION billing.tenant_of(uuid) RETURNS uuid SECURITY DEFINER AS $$ SELECT tenant_id FROM billing.accounts WHERE id = $1 $$ LANGUAGE sql", Description: "add security definer helper"},
			{StepIndex: 1, SQL: "DROP POLICY tenant_isolation ON billing.invoices", Description: "drop recursive policy"},
			{StepIndex: 2, SQL: "CREATE POLICY tenant_isolation ON billing.invoices USING (billing.tenant_of(account_id) = current_tenant())", Description: "recreate policy via helper"},
		},
	},
	{
		feature: "orders/daily_summary", env: "production", age: 6 * time.Hour,
		rootCause: domain.RootCauseSchemaDrift, status: domain.StatusPartialSuccess,
		confidence: 0.72, reasoning: "upstream column renamed from region to region_code",
		fixPlan: []domain.FixStep{
			{StepIndex: 0, SQL: "ALTER TABLE orders.daily ADD COLUMN region_code text", Description: "add renamed column"},
			{StepIndex: 1, SQL: "UPDATE orders.daily SET region_code = region", Description: "backfill"},
		},
	},
	{
		feature: "search/index_refresh", env: "production", age: 30 * time.Hour,
		rootCause: domain.RootCauseTimeout, status: domain.StatusSuccess,
		confidence: 0.95, reasoning: "refresh exceeded statement timeout on large partitions",
		fixPlan: []domain.FixStep{
			{StepIndex: 0, SQL: "CREATE INDEX CONCURRENTLY idx_docs_updated ON search.docs (updated_at)", Description: "add index"},
		},
		feedback: domain.FeedbackWorse,
	},
	{
		feature: "reports/monthly", env: "staging", age: 3 * time.Hour,
		rootCause: domain.RootCauseSyntaxError, status: domain.StatusFailure,
		confidence: 0.4, reasoning: "generated SQL had an unbalanced parenthesis",
	},
}

// SeedDemo inserts a handful of representative audit entries for local
// development. It does nothing when the store already has entries.
func SeedDemo(ctx context.Context, repo domain.AuditRepository, now time.Time) (int, error) {
	_, total, err := repo.List(ctx, domain.AuditFilter{Page: domain.PageRequest{MaxResults: 1}})
	if err != nil {
		return 0, fmt.Errorf("check existing entries: %w", err)
	}
	if total > 0 {
		return 0, nil
	}

	for _, d := range demoEntries {
		raw, err := json.Marshal(map[string]any{
			"confidence": d.confidence,
			"reasoning":  d.reasoning,
			"fix_plan":   d.fixPlan,
		})
		if err != nil {
			return 0, fmt.Errorf("encode diagnosis for %s: %w", d.feature, err)
		}
		e := &domain.AuditEntry{
			FeatureID:        d.feature,
			Environment:      d.env,
			Timestamp:        now.Add(-d.age),
			RootCause:        d.rootCause,
			Diagnosis:        domain.Diagnosis{Raw: raw},
			SafeMode:         d.safeMode,
			DestructiveSteps: countDestructive(d.fixPlan),
			Status:           d.status,
		}
		e.Destructive = e.DestructiveSteps > 0
		if err := repo.Insert(ctx, e); err != nil {
			return 0, fmt.Errorf("insert demo entry %s: %w", d.feature, err)
		}
		if d.feedback != "" {
			if err := repo.SetFeedback(ctx, e.ID, d.feedback); err != nil {
				return 0, fmt.Errorf("set demo feedback %s: %w", d.feature, err)
			}
		}
	}
	return len(demoEntries), nil
}

func countDestructive(steps []domain.FixStep) int {
	n := 0
	for _, s := range steps {
		if sqlscan.IsDestructive(s.SQL) {
			n++
		}
	}
	return n
}
