package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bondtrace/bondtrace/internal/backfill"
	"github.com/bondtrace/bondtrace/internal/config"
	"github.com/bondtrace/bondtrace/internal/ledger"
	"github.com/bondtrace/bondtrace/internal/report"
)

// BackfillOptions holds flags for the backfill command.
type BackfillOptions struct {
	*RootOptions
	Database     string
	Config       string
	Apply        bool
	GuaranteeID  int64
	Limit        int
	JSON         bool
	NoStripSnaps bool
}

// NewBackfillCommand creates the backfill command.
func NewBackfillCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackfillOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Migrate legacy history rows to the hybrid format",
		Long: `Walk every legacy history row per guarantee in creation order,
reconstruct consistent BEFORE/AFTER states from the ambiguous legacy
fields, and rewrite each row into the hybrid anchor+patch format.

The default is a dry run that only tallies. --apply wraps the whole
migration in one transaction and rolls back entirely on any error.
Running the migration twice with no intervening writes produces zero
additional changes, so an aborted run is resumed by re-invoking.

A JSON report is written to the configured reports directory either way.

Exit codes:
  0 - Run completed (dry-run or apply)
  1 - Migration failed and was rolled back
  2 - Command error (database not found, bad flags)

Examples:
  bondtrace backfill --db ./guarantees.db
  bondtrace backfill --db ./guarantees.db --apply
  bondtrace backfill --db ./guarantees.db --guarantee-id 42 --limit 100 --json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Config, "config", "", "path to settings YAML")
	cmd.Flags().BoolVar(&opts.Apply, "apply", false, "write changes (default is dry-run)")
	cmd.Flags().Int64Var(&opts.GuaranteeID, "guarantee-id", 0, "restrict the run to one guarantee")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "cap the number of rows scanned")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "shorthand for --format json")
	cmd.Flags().BoolVar(&opts.NoStripSnaps, "no-strip-snapshot", false, "keep legacy snapshot_data blobs")

	return cmd
}

func runBackfill(opts *BackfillOptions, cmd *cobra.Command) error {
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

	result, runErr := backfill.Run(ctx, st, backfill.Options{
		Apply:         opts.Apply,
		GuaranteeID:   opts.GuaranteeID,
		Limit:         opts.Limit,
		KeepSnapshots: opts.NoStripSnaps,
	})

	envelope := report.New("backfill", startedAt, result, runErr)
	reportPath, reportErr := report.Write(settings.ReportsDir, envelope)
	if reportErr != nil && runErr == nil {
		runErr = reportErr
	}

	asJSON := opts.JSON || opts.Format == "json"
	if asJSON {
		resp := CLIResponse{Status: "ok", Data: envelope, Report: reportPath}
		if runErr != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: "E_BACKFILL", Message: runErr.Error()}
		}
		if err := writeJSON(cmd, resp); err != nil {
			return err
		}
	} else {
		printBackfillText(cmd, result, reportPath, opts.Verbose)
	}

	if runErr != nil {
		return NewExitError(ExitFailure, "backfill failed")
	}
	return nil
}

func printBackfillText(cmd *cobra.Command, result backfill.Result, reportPath string, verbose bool) {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Backfill (%s): %d row(s) in %d stream(s)\n", result.Mode, result.Scanned, result.Streams)
	fmt.Fprintf(w, "  Rewritten: %d\n", result.Rewritten)
	fmt.Fprintf(w, "  Unchanged: %d\n", result.Unchanged)
	if verbose {
		fmt.Fprintf(w, "  Anchors: %d\n", result.Anchors)
		fmt.Fprintf(w, "  Patches: %d\n", result.Patches)
		fmt.Fprintf(w, "  Snapshots stripped: %d\n", result.SnapshotsStripped)
	}
	if result.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n", result.Error)
	}
	if reportPath != "" {
		fmt.Fprintf(w, "Report: %s\n", reportPath)
	}
}
