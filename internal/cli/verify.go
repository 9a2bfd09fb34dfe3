package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyadlab/duet/internal/catalog"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Catalog string
	RunID   string
}

// VerifySummary is the success payload of the verify command.
type VerifySummary struct {
	RunID     string   `json:"run_id"`
	Artifacts int      `json:"artifacts"`
	Drift     []string `json:"drift,omitempty"`
}

func (s VerifySummary) String() string {
	if len(s.Drift) == 0 {
		return fmt.Sprintf("run %s: %d artifacts verified, no drift", s.RunID, s.Artifacts)
	}
	return fmt.Sprintf("run %s: %d artifacts drifted:\n  %s",
		s.RunID, len(s.Drift), strings.Join(s.Drift, "\n  "))
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify recorded artifacts against their checksums",
		Long: `Recompute the SHA-256 of every artifact recorded for a run and
compare against the catalog baseline. Exits non-zero when any artifact
drifted or went missing; a rerun over unchanged inputs must reproduce
its artifacts byte for byte.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "catalog database path (required)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run to verify (defaults to the most recent)")
	_ = cmd.MarkFlagRequired("catalog")

	return cmd
}

func runVerify(cmd *cobra.Command, opts *VerifyOptions) error {
	setupLogging(opts.RootOptions)
	ctx := context.Background()

	cat, err := catalog.Open(opts.Catalog)
	if err != nil {
		return WrapExitError(ExitCommandError, "opening catalog", err)
	}
	defer cat.Close()

	run, err := cat.RunByID(ctx, opts.RunID)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading run", err)
	}
	drift, err := cat.Verify(ctx, run.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "verifying artifacts", err)
	}

	summary := VerifySummary{RunID: run.ID, Artifacts: len(run.Artifacts)}
	for _, d := range drift {
		summary.Drift = append(summary.Drift, d.String())
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if len(drift) > 0 {
		_ = formatter.Failure(summary.String())
		return NewExitError(ExitFailure, fmt.Sprintf("%d artifacts drifted", len(drift)))
	}
	slog.Info("artifacts verified", "run_id", run.ID, "artifacts", len(run.Artifacts))
	return formatter.Success(summary)
}
