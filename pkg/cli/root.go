// Package cli implements the remedy command-line tool for inspecting the
// remediation audit log and rolling back applied fixes.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"remedy-audit/internal/domain"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd(openSession)
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			_ = PrintJSON(os.Stdout, map[string]interface{}{
				"error":     err.Error(),
				"code":      domain.ErrorCode(err),
				"retryable": domain.IsRetryable(err),
			})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// globals are the resolved persistent flags shared by every subcommand.
type globals struct {
	db           string
	planner      string
	plannerToken string
	output       string
	profile      string
	verbose      bool

	open opener
}

func newRootCmd(open opener) *cobra.Command {
	g := &globals{open: open}

	rootCmd := &cobra.Command{
		Use:           "remedy",
		Short:         "Remediation audit and rollback CLI",
		Long:          "Inspect applied remediations, preview their rollback plans and roll them back.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				// Config file is optional
				cfg = &UserConfig{
					CurrentProfile: "default",
					Profiles:       map[string]Profile{},
				}
			}
			p, err := cfg.ActiveProfile(g.profile)
			if err != nil {
				return err
			}

			// Apply precedence: flag > env > profile > default
			resolve(cmd, "db", "REMEDY_DB", p.DB, &g.db)
			resolve(cmd, "planner", "REMEDY_PLANNER", p.Planner, &g.planner)
			resolve(cmd, "planner-token", "REMEDY_PLANNER_TOKEN", p.PlannerToken, &g.plannerToken)
			resolve(cmd, "output", "REMEDY_OUTPUT", p.Output, &g.output)

			return validateOutputFormat(g.output)
		},
	}

	rootCmd.PersistentFlags().StringVar(&g.db, "db", "", "Path to the audit store (default META_DB_PATH or remedy_audit.sqlite)")
	rootCmd.PersistentFlags().StringVar(&g.planner, "planner", "", "Planner address, grpc:// or grpcs:// (default PLANNER_ADDR)")
	rootCmd.PersistentFlags().StringVar(&g.plannerToken, "planner-token", "", "Shared secret for the planner (default PLANNER_TOKEN)")
	rootCmd.PersistentFlags().StringVarP(&g.output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVarP(&g.profile, "profile", "p", "", "Config profile to use")
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Log service activity to stderr")

	rootCmd.AddCommand(newAuditCmd(g))
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

// resolve fills dst from env or the profile unless the flag was given.
func resolve(cmd *cobra.Command, flag, env, profileValue string, dst *string) {
	if cmd.Flags().Changed(flag) {
		return
	}
	if v := os.Getenv(env); v != "" {
		*dst = v
	} else if profileValue != "" {
		*dst = profileValue
	}
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
	return cmd
}
