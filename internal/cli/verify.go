package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bondtrace/bondtrace/internal/ledger"
	"github.com/bondtrace/bondtrace/internal/patch"
	"github.com/bondtrace/bondtrace/internal/state"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Database    string
	GuaranteeID int64
}

// VerifyStreamResult holds the verification result for a single stream.
type VerifyStreamResult struct {
	GuaranteeID   int64 `json:"guarantee_id"`
	Events        int   `json:"events"`
	Anchors       int   `json:"anchors"`
	Deterministic bool  `json:"deterministic"`
	RoundTripOK   bool  `json:"round_trip_ok"`
}

// VerifyResult holds the overall verification result.
type VerifyResult struct {
	Streams      []VerifyStreamResult `json:"streams"`
	TotalStreams int                  `json:"total_streams"`
	AllOK        bool                 `json:"all_ok"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Replay streams and verify determinism and round-trip laws",
		Long: `Replay every event in every stream twice and verify that
reconstruction is deterministic and that each patch-only row's state
equals its patch applied to the previous row's state.

Exit codes:
  0 - All streams verified
  1 - Verification failed (divergence detected)
  2 - Command error (database not found, etc.)

Examples:
  bondtrace verify --db ./guarantees.db
  bondtrace verify --db ./guarantees.db --guarantee-id 42 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().Int64Var(&opts.GuaranteeID, "guarantee-id", 0, "verify a single stream only")

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := ledger.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	var ids []int64
	if opts.GuaranteeID != 0 {
		ids = []int64{opts.GuaranteeID}
	} else {
		ids, err = st.ListGuaranteeIDs(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list guarantees", err)
		}
	}

	result := VerifyResult{
		Streams:      make([]VerifyStreamResult, 0, len(ids)),
		TotalStreams: len(ids),
		AllOK:        true,
	}

	for _, id := range ids {
		streamResult, err := verifyStream(ctx, st, id)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to verify guarantee %d", id), err)
		}
		result.Streams = append(result.Streams, streamResult)
		if !streamResult.Deterministic || !streamResult.RoundTripOK {
			result.AllOK = false
		}
	}

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.AllOK {
			resp.Status = "error"
			resp.Error = &CLIError{Code: "E_VERIFY", Message: "stream verification failed"}
		}
		if err := writeJSON(cmd, resp); err != nil {
			return err
		}
	} else {
		printVerifyText(cmd, result)
	}

	if !result.AllOK {
		return NewExitError(ExitFailure, "stream verification failed")
	}
	return nil
}

// verifyStream resolves every event twice (determinism) and checks the
// round-trip law row by row: a patch row's resolved state must equal its
// patch applied onto the previous row's resolved state, and an anchor
// row's resolved state must equal its stored snapshot.
func verifyStream(ctx context.Context, st *ledger.Store, guaranteeID int64) (VerifyStreamResult, error) {
	events, err := st.ReadStream(ctx, guaranteeID)
	if err != nil {
		return VerifyStreamResult{}, err
	}

	res := VerifyStreamResult{
		GuaranteeID:   guaranteeID,
		Events:        len(events),
		Deterministic: true,
		RoundTripOK:   true,
	}

	previous := state.Map{}
	for _, ev := range events {
		first, err := st.ResolveAsOf(ctx, ev.ID)
		if err != nil {
			return VerifyStreamResult{}, err
		}
		second, err := st.ResolveAsOf(ctx, ev.ID)
		if err != nil {
			return VerifyStreamResult{}, err
		}
		if !state.Equal(first, second) {
			res.Deterministic = false
		}

		if ev.IsAnchor {
			res.Anchors++
			if !state.Equal(first, ev.AnchorSnapshot) {
				res.RoundTripOK = false
			}
		} else if len(ev.Patch) > 0 {
			if !state.Equal(first, patch.Apply(previous, ev.Patch)) {
				res.RoundTripOK = false
			}
		}

		previous = first
	}

	return res, nil
}

func printVerifyText(cmd *cobra.Command, result VerifyResult) {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Verify: %d stream(s)\n", result.TotalStreams)
	for _, s := range result.Streams {
		status := "ok"
		if !s.Deterministic || !s.RoundTripOK {
			status = "FAILED"
		}
		fmt.Fprintf(w, "  guarantee %d: %d event(s), %d anchor(s) ... %s\n",
			s.GuaranteeID, s.Events, s.Anchors, status)
	}
	if result.AllOK {
		fmt.Fprintln(w, "All streams verified.")
	} else {
		fmt.Fprintln(w, "Verification failed.")
	}
}
