// Package migration renders rollback plans as standalone SQL scripts for
// operators who apply reversals by hand, and archives them.
package migration

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"remedy-audit/internal/domain"
	"remedy-audit/internal/service/rollback"
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// ExportFileName returns the script file name for entry. The feature id is
// reduced to characters that are safe in any file system.
func ExportFileName(entry domain.AuditEntry) string {
	feature := unsafeFileChars.ReplaceAllString(entry.FeatureID, "_")
	if feature == "" {
		feature = "unknown"
	}
	return fmt.Sprintf("rollback_%s_%s.sql", unsafeFileChars.ReplaceAllString(entry.ID, "_"), feature)
}

// Export renders plan as a transactional SQL script. Steps are written
// last-first, the order the executor applies them. Steps without an inverse
// are left out of the body and counted in the header. Export never touches
// a database.
func Export(entry domain.AuditEntry, plan domain.RollbackPlan, generatedAt time.Time) string {
	var body []domain.RollbackStep
	for _, s := range plan.ExecutionOrder() {
		if s.HasInverse() {
			body = append(body, s)
		}
	}
	omitted := plan.TotalSteps - len(body)
	if omitted < 0 {
		omitted = 0
	}

	var b strings.Builder
	fmt.Fprintf(&b, "-- Rollback script for audit entry %s\n", entry.ID)
	fmt.Fprintf(&b, "-- Generated:   %s\n", generatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "-- Feature:     %s\n", entry.FeatureID)
	fmt.Fprintf(&b, "-- Root cause:  %s\n", entry.RootCause)
	fmt.Fprintf(&b, "-- Environment: %s\n", entry.Environment)
	fmt.Fprintf(&b, "-- Safe mode:   %t\n", entry.SafeMode)
	fmt.Fprintf(&b, "-- Risk:        %s\n", rollback.HighestRisk(plan.Steps))
	if omitted > 0 {
		fmt.Fprintf(&b, "-- WARNING: %s omitted (no inverse available)\n", plural(omitted, "step"))
	}
	b.WriteString("\nBEGIN;\n")
	for _, s := range body {
		fmt.Fprintf(&b, "\n-- Step %d: %s\n", s.StepIndex, oneLine(s.Description))
		b.WriteString(terminate(*s.InverseSQL))
		b.WriteString("\n")
	}
	b.WriteString("\nCOMMIT;\n")
	return b.String()
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

// oneLine keeps a description from breaking out of its comment line.
func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "(no description)"
	}
	return s
}

func terminate(sql string) string {
	sql = strings.TrimSpace(sql)
	if strings.HasSuffix(sql, ";") {
		return sql
	}
	return sql + ";"
}
