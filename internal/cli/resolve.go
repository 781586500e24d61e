package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bondtrace/bondtrace/internal/ledger"
	"github.com/bondtrace/bondtrace/internal/state"
)

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	Database string
	EventID  int64
}

// NewResolveCommand creates the resolve command: the time-travel read.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Reconstruct guarantee state as of one event",
		Long: `Reconstruct the exact guarantee state as of a given event id by
replaying patches on top of the nearest preceding anchor.

Examples:
  bondtrace resolve --db ./guarantees.db --event 1042
  bondtrace resolve --db ./guarantees.db --event 1042 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().Int64Var(&opts.EventID, "event", 0, "event id to resolve (required)")
	_ = cmd.MarkFlagRequired("event")

	return cmd
}

func runResolve(opts *ResolveOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := ledger.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	resolved, err := st.ResolveAsOf(ctx, opts.EventID)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to resolve event %d", opts.EventID), err)
	}

	if opts.Format == "json" {
		return writeJSON(cmd, CLIResponse{Status: "ok", Data: resolved})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "State as of event %d:\n", opts.EventID)
	for _, field := range resolved.SortedKeys() {
		encoded, err := state.Encode(resolved[field])
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %s = %s\n", field, encoded)
	}
	return nil
}
