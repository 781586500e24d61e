package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bondtrace/bondtrace/internal/audit"
	"github.com/bondtrace/bondtrace/internal/config"
	"github.com/bondtrace/bondtrace/internal/ledger"
	"github.com/bondtrace/bondtrace/internal/report"
)

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	*RootOptions
	Database    string
	Config      string
	GuaranteeID int64
	JSON        bool
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Measure legacy snapshot semantics against change records",
		Long: `Read-only pass over the ledger. For every event with change records
on a tracked field, compare the event's snapshot value against the
change's old and new values and tally before/after match ratios per
(event_type, event_subtype) bucket. The report is used to decide
whether historical snapshot semantics need reinterpretation; the audit
itself never mutates data and never infers intent.

Exit codes:
  0 - Audit completed
  1 - Internal error
  2 - Command error (database not found, bad flags)

Examples:
  bondtrace audit --db ./guarantees.db
  bondtrace audit --db ./guarantees.db --json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Config, "config", "", "path to settings YAML")
	cmd.Flags().Int64Var(&opts.GuaranteeID, "guarantee-id", 0, "restrict the audit to one guarantee")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "shorthand for --format json")

	return cmd
}

func runAudit(opts *AuditOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	startedAt := time.Now()

	settings, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	st, err := ledger.Open(opts.Database, ledger.WithSettings(settings))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	result, runErr := audit.Run(ctx, st, audit.Options{GuaranteeID: opts.GuaranteeID})

	envelope := report.New("audit", startedAt, result, runErr)
	reportPath, reportErr := report.Write(settings.ReportsDir, envelope)
	if reportErr != nil && runErr == nil {
		runErr = reportErr
	}

	asJSON := opts.JSON || opts.Format == "json"
	if asJSON {
		resp := CLIResponse{Status: "ok", Data: envelope, Report: reportPath}
		if runErr != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: "E_AUDIT", Message: runErr.Error()}
		}
		if err := writeJSON(cmd, resp); err != nil {
			return err
		}
	} else {
		printAuditText(cmd, result, reportPath)
	}

	if runErr != nil {
		return NewExitError(ExitFailure, "audit failed")
	}
	return nil
}

func printAuditText(cmd *cobra.Command, result audit.Result, reportPath string) {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Audit: %d row(s) scanned, %d audited, %d comparison(s)\n",
		result.Scanned, result.Audited, result.Comparisons)
	for _, b := range result.Buckets {
		label := b.EventType
		if b.EventSubtype != "" {
			label += "/" + b.EventSubtype
		}
		fmt.Fprintf(w, "  %-32s n=%-5d before=%.2f after=%.2f neither=%d\n",
			label, b.Comparisons, b.BeforeRatio(), b.AfterRatio(), b.Neither)
	}
	if reportPath != "" {
		fmt.Fprintf(w, "Report: %s\n", reportPath)
	}
}
