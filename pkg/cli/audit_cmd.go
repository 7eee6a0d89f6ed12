package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"remedy-audit/internal/domain"
	"remedy-audit/internal/service/governance"
	"remedy-audit/internal/service/migration"
)

func newAuditCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and roll back applied remediations",
	}
	cmd.AddCommand(newAuditListCmd(g))
	cmd.AddCommand(newAuditShowCmd(g))
	cmd.AddCommand(newAuditPreviewCmd(g))
	cmd.AddCommand(newAuditRollbackCmd(g))
	cmd.AddCommand(newAuditExportCmd(g))
	cmd.AddCommand(newAuditDiffCmd(g))
	cmd.AddCommand(newAuditFeedbackCmd(g))
	cmd.AddCommand(newAuditMisfiresCmd(g))
	return cmd
}

// withSession opens a session for the duration of fn.
func withSession(cmd *cobra.Command, g *globals, fn func(s *session) error) error {
	s, err := g.open(cmd.Context(), g)
	if err != nil {
		return err
	}
	defer func() { _ = s.close() }()
	return fn(s)
}

func newAuditListCmd(g *globals) *cobra.Command {
	var (
		status, rootCause, since, until, feature string
		limit                                    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := governance.AuditQuery{FeatureSearch: feature, Limit: limit}
			if status != "" {
				st, err := domain.ParseExecutionStatus(status)
				if err != nil {
					return err
				}
				q.Status = &st
			}
			if rootCause != "" {
				rc, err := domain.ParseRootCause(rootCause)
				if err != nil {
					return err
				}
				q.RootCause = &rc
			}
			var err error
			if q.Since, err = dateFlag("since", since); err != nil {
				return err
			}
			if q.Until, err = dateFlag("until", until); err != nil {
				return err
			}

			return withSession(cmd, g, func(s *session) error {
				entries, err := s.audit.Query(cmd.Context(), q)
				if err != nil {
					return err
				}
				return printEntries(cmd, entries)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by execution status (success, failure, partial-success, rolled-back)")
	cmd.Flags().StringVar(&rootCause, "root-cause", "", "Filter by root cause type")
	cmd.Flags().StringVar(&since, "since", "", "Only entries at or after this time (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&until, "until", "", "Only entries before this time (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&feature, "feature", "", "Case-insensitive feature id search")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of entries")
	return cmd
}

func dateFlag(name, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := governance.ParseDate(v)
	if err != nil {
		return nil, domain.ErrValidation("invalid --%s %q: use RFC 3339 or YYYY-MM-DD", name, v)
	}
	return &t, nil
}

func printEntries(cmd *cobra.Command, entries []domain.AuditEntry) error {
	out := cmd.OutOrStdout()
	if getOutputFormat(cmd) == "json" {
		views := make([]entryView, 0, len(entries))
		for _, e := range entries {
			views = append(views, newEntryView(e))
		}
		return PrintJSON(out, views)
	}
	PrintTable(out, entryColumns, entryRows(entries))
	return nil
}

func newAuditShowCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show <audit-id>",
		Short: "Show one audit entry and its status history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, g, func(s *session) error {
				entry, err := s.audit.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				history, err := s.audit.History(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if getOutputFormat(cmd) == "json" {
					type eventView struct {
						From      string    `json:"from_status"`
						To        string    `json:"to_status"`
						Actor     string    `json:"actor"`
						CreatedAt time.Time `json:"created_at"`
					}
					events := make([]eventView, 0, len(history))
					for _, ev := range history {
						events = append(events, eventView{string(ev.FromStatus), string(ev.ToStatus), ev.Actor, ev.CreatedAt.UTC()})
					}
					return PrintJSON(out, map[string]interface{}{
						"entry":   newEntryView(*entry),
						"history": events,
					})
				}

				fields := map[string]interface{}{
					"id":                entry.ID,
					"feature":           entry.FeatureID,
					"environment":       entry.Environment,
					"timestamp":         entry.Timestamp.UTC().Format(time.RFC3339),
					"root_cause":        string(entry.RootCause),
					"status":            string(entry.Status),
					"safe_mode":         entry.SafeMode,
					"destructive_steps": entry.DestructiveSteps,
					"reasoning":         entry.Diagnosis.Reasoning(),
				}
				if c, ok := entry.Diagnosis.Confidence(); ok {
					fields["confidence"] = strconv.FormatFloat(c, 'f', 2, 64)
				}
				if entry.Feedback != nil {
					fields["feedback"] = string(*entry.Feedback)
				}
				PrintDetail(out, fields)
				if len(history) > 0 {
					_, _ = fmt.Fprintln(out)
					rows := make([][]string, 0, len(history))
					for _, ev := range history {
						rows = append(rows, []string{
							ev.CreatedAt.UTC().Format(time.RFC3339),
							string(ev.FromStatus),
							string(ev.ToStatus),
							ev.Actor,
						})
					}
					PrintTable(out, []string{"changed_at", "from", "to", "actor"}, rows)
				}
				return nil
			})
		},
	}
}

func newAuditPreviewCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "preview <audit-id>",
		Short: "Fetch and analyze the rollback plan without changing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, g, func(s *session) error {
				p, err := s.rollbacks.Preview(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if getOutputFormat(cmd) == "json" {
					view, err := newPreviewView(p)
					if err != nil {
						return err
					}
					return PrintJSON(cmd.OutOrStdout(), view)
				}
				printPreview(cmd.OutOrStdout(), p.Entry, p.Plan, p.Summary, p.Reason)
				return nil
			})
		},
	}
}

func printPreview(out io.Writer, entry *domain.AuditEntry, plan *domain.RollbackPlan, sum domain.ImpactSummary, reason string) {
	resources := "-"
	if len(sum.AffectedResources) > 0 {
		resources = strings.Join(sum.AffectedResources, ", ")
	}
	PrintDetail(out, map[string]interface{}{
		"audit_id":           entry.ID,
		"feature":            entry.FeatureID,
		"status":             string(entry.Status),
		"highest_risk":       string(sum.HighestRisk),
		"affected_resources": resources,
		"plan_quality":       string(sum.Quality),
		"steps_skipped":      sum.StepsSkipped,
		"window_closes_at":   sum.WindowClosesAt.UTC().Format(time.RFC3339),
		"allowed":            sum.Allowed,
	})
	if reason != "" {
		_, _ = fmt.Fprintf(out, "\nNot eligible: %s\n", reason)
	}

	_, _ = fmt.Fprintln(out)
	rows := make([][]string, 0, len(plan.Steps))
	for _, st := range plan.ExecutionOrder() {
		inverse := "(no inverse)"
		if st.HasInverse() {
			inverse = strings.Join(strings.Fields(*st.InverseSQL), " ")
		}
		rows = append(rows, []string{strconv.Itoa(st.StepIndex), string(domain.NormalizeRisk(string(st.Risk))), st.Description, inverse})
	}
	PrintTable(out, []string{"step", "risk", "description", "inverse_sql"}, rows)
}

func newAuditRollbackCmd(g *globals) *cobra.Command {
	var (
		operator string
		opts     confirmOptions
	)
	cmd := &cobra.Command{
		Use:   "rollback <audit-id>",
		Short: "Preview, confirm and execute the rollback of a remediation",
		Long: "Fetches the current rollback plan, shows its impact and asks for confirmation " +
			"before the executor applies it. HIGH risk plans require retyping the audit id, " +
			"or --accept-high-risk when not running interactively.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if operator == "" {
				operator = os.Getenv("USER")
			}
			return withSession(cmd, g, func(s *session) error {
				p, err := s.rollbacks.Preview(cmd.Context(), id)
				if err != nil {
					return err
				}

				jsonOut := getOutputFormat(cmd) == "json"
				promptOut := cmd.OutOrStdout()
				if jsonOut {
					promptOut = cmd.ErrOrStderr()
				} else {
					printPreview(promptOut, p.Entry, p.Plan, p.Summary, p.Reason)
				}

				conf := domain.Confirmation{Operator: operator}
				// Ineligible entries skip the prompt; the controller reports why.
				if p.Eligible && p.Summary.Allowed {
					ack, err := confirmRollback(cmd.InOrStdin(), promptOut, id, p.Summary.HighestRisk, opts)
					if err != nil {
						return err
					}
					conf.AcknowledgeHighRisk = ack
				}

				res, err := s.rollbacks.ConfirmAndExecute(cmd.Context(), id, p.Plan, conf)
				if err != nil {
					return err
				}
				if jsonOut {
					return PrintJSON(cmd.OutOrStdout(), map[string]interface{}{
						"entry":   newEntryView(*res.Entry),
						"summary": newSummaryView(res.Summary),
					})
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\nRolled back %s (status %s)\n", res.Entry.ID, res.Entry.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "Operator recorded in the status history (default $USER)")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Confirm without prompting (not enough for HIGH risk)")
	cmd.Flags().BoolVar(&opts.acceptHighRisk, "accept-high-risk", false, "Acknowledge a HIGH risk rollback without prompting")
	return cmd
}

func newAuditExportCmd(g *globals) *cobra.Command {
	var (
		format string
		dests  []string
	)
	cmd := &cobra.Command{
		Use:   "export <audit-id>",
		Short: "Export the rollback plan as a SQL migration script",
		Long: "Writes the rollback script to stdout, or uploads it to each --dest. " +
			"Destinations may be local paths, file://, s3://, az:// or gs:// URIs; " +
			"a trailing slash appends the generated file name.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "sql" && format != "json" {
				return domain.ErrValidation("unsupported export format %q: use 'sql' or 'json'", format)
			}
			return withSession(cmd, g, func(s *session) error {
				p, err := s.rollbacks.Preview(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				var body, name string
				if format == "json" {
					data, err := migration.EncodePlan(*p.Plan)
					if err != nil {
						return err
					}
					body = string(data) + "\n"
					name = strings.TrimSuffix(migration.ExportFileName(*p.Entry), ".sql") + ".json"
				} else {
					body = migration.Export(*p.Entry, *p.Plan, time.Now().UTC())
					name = migration.ExportFileName(*p.Entry)
				}

				out := cmd.OutOrStdout()
				if len(dests) == 0 {
					_, err := io.WriteString(out, body)
					return err
				}
				locations, err := migration.Archive(cmd.Context(), body, name, dests, s.storage)
				if err != nil {
					return err
				}
				if getOutputFormat(cmd) == "json" {
					return PrintJSON(out, map[string]interface{}{"file": name, "locations": locations})
				}
				for _, loc := range locations {
					_, _ = fmt.Fprintf(out, "wrote %s\n", loc)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "sql", "Export format (sql, json)")
	cmd.Flags().StringArrayVar(&dests, "dest", nil, "Upload destination (repeatable)")
	return cmd
}

func newAuditDiffCmd(g *globals) *cobra.Command {
	var planFile string
	cmd := &cobra.Command{
		Use:   "diff <audit-id>",
		Short: "Compare a previously exported plan with the planner's current plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if planFile == "" {
				return domain.ErrValidation("--plan is required")
			}
			data, err := os.ReadFile(planFile)
			if err != nil {
				return fmt.Errorf("read plan: %w", err)
			}
			previous, err := migration.DecodePlan(data)
			if err != nil {
				return err
			}
			if previous.AuditID != args[0] {
				return domain.ErrValidation("plan file is for audit entry %s, not %s", previous.AuditID, args[0])
			}

			return withSession(cmd, g, func(s *session) error {
				p, err := s.rollbacks.Preview(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				changes := migration.Diff(*previous, *p.Plan)

				out := cmd.OutOrStdout()
				if getOutputFormat(cmd) == "json" {
					if changes == nil {
						changes = []migration.StepChange{}
					}
					return PrintJSON(out, changes)
				}
				if len(changes) == 0 {
					_, _ = fmt.Fprintln(out, "plan unchanged")
					return nil
				}
				for _, c := range changes {
					_, _ = fmt.Fprintln(out, c.String())
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&planFile, "plan", "", "Plan JSON from 'audit export --format json'")
	return cmd
}

func newAuditFeedbackCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "feedback <audit-id> <positive|negative|worse>",
		Short: "Record operator feedback on a remediation outcome",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, g, func(s *session) error {
				entry, err := s.audit.RecordFeedback(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if getOutputFormat(cmd) == "json" {
					return PrintJSON(cmd.OutOrStdout(), newEntryView(*entry))
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "recorded %s feedback for %s\n", *entry.Feedback, entry.ID)
				return nil
			})
		},
	}
}

func newAuditMisfiresCmd(g *globals) *cobra.Command {
	var threshold float64
	cmd := &cobra.Command{
		Use:   "misfires",
		Short: "List confident diagnoses that operators reported as wrong",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, g, func(s *session) error {
				t := s.misfireThreshold
				if cmd.Flags().Changed("threshold") {
					t = threshold
				}
				entries, err := s.audit.ConfidenceMisfires(cmd.Context(), t)
				if err != nil {
					return err
				}
				return printEntries(cmd, entries)
			})
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 0.8, "Minimum diagnosis confidence (default MISFIRE_THRESHOLD)")
	return cmd
}
