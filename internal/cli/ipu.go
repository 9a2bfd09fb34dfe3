package cli

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dyadlab/duet/internal/config"
	"github.com/dyadlab/duet/internal/ipu"
)

// IPUOptions holds flags for the ipu command.
type IPUOptions struct {
	*RootOptions
	ConfigPath string
	TokensPath string
	OutPath    string

	MinSilence         float64
	MinIPU             float64
	IncludeLaughter    bool
	IncludeNoise       bool
	IncludeFilledPause bool
	TierStart          float64
	TierEnd            float64
}

// IPUSummary is the success payload of the ipu command.
type IPUSummary struct {
	Segments  int `json:"segments"`
	Intervals int `json:"intervals"`
}

func (s IPUSummary) String() string {
	return fmt.Sprintf("derived %d IPU segments (%d tier intervals)", s.Segments, s.Intervals)
}

// NewIPUCommand creates the ipu command.
func NewIPUCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IPUOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ipu",
		Short: "Derive an IPU tier from a token-level alignment tier",
		Long: `Classify aligner tokens as speech or silence, merge speech runs
separated by sub-threshold silence, drop sub-minimum IPUs, and write a
full-coverage tier with alternating silence/IPU labels.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIPU(cmd, opts)
		},
	}

	defaults := ipu.DefaultOptions()
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to YAML project config")
	cmd.Flags().StringVar(&opts.TokensPath, "tokens", "", "token tier table (required)")
	cmd.Flags().StringVar(&opts.OutPath, "out", "", "output tier path (required)")
	cmd.Flags().Float64Var(&opts.MinSilence, "min-silence", defaults.MinSilence, "merge IPUs separated by silence shorter than this (seconds)")
	cmd.Flags().Float64Var(&opts.MinIPU, "min-ipu", defaults.MinIPU, "drop IPUs shorter than this (seconds)")
	cmd.Flags().BoolVar(&opts.IncludeLaughter, "include-laughter", defaults.IncludeLaughter, `treat "@" tokens as speech`)
	cmd.Flags().BoolVar(&opts.IncludeNoise, "include-noise", defaults.IncludeNoise, `treat "*" tokens as speech`)
	cmd.Flags().BoolVar(&opts.IncludeFilledPause, "include-filled-pause", defaults.IncludeFilledPause, `treat "fp" tokens as speech`)
	cmd.Flags().Float64Var(&opts.TierStart, "tier-start", 0, "tier start time (defaults to first token start)")
	cmd.Flags().Float64Var(&opts.TierEnd, "tier-end", 0, "tier end time (defaults to last token end)")
	_ = cmd.MarkFlagRequired("tokens")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func runIPU(cmd *cobra.Command, opts *IPUOptions) error {
	setupLogging(opts.RootOptions)

	if err := applyIPUConfig(cmd, opts); err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	tokens, err := ipu.ReadTokens(opts.TokensPath)
	if err != nil {
		return WrapExitError(ExitFailure, "loading token tier", err)
	}

	ipuOpts := ipu.Options{
		IncludeLaughter:    opts.IncludeLaughter,
		IncludeNoise:       opts.IncludeNoise,
		IncludeFilledPause: opts.IncludeFilledPause,
		MinSilence:         opts.MinSilence,
		MinIPU:             opts.MinIPU,
	}
	segments, err := ipu.BuildSegments(tokens, ipuOpts)
	if err != nil {
		return WrapExitError(ExitFailure, "deriving IPU segments", err)
	}

	t0, t1 := opts.TierStart, opts.TierEnd
	if !cmd.Flags().Changed("tier-start") && len(tokens) > 0 {
		t0 = tokens[0].Start
	}
	if !cmd.Flags().Changed("tier-end") && len(tokens) > 0 {
		t1 = tokens[len(tokens)-1].End
	}
	tier, err := ipu.RenderTier(t0, t1, segments, ipuOpts)
	if err != nil {
		return WrapExitError(ExitFailure, "rendering tier", err)
	}

	var buf bytes.Buffer
	if err := ipu.WriteTier(&buf, tier); err != nil {
		return WrapExitError(ExitFailure, "serializing tier", err)
	}
	if err := os.WriteFile(opts.OutPath, buf.Bytes(), 0o644); err != nil {
		return WrapExitError(ExitCommandError, "writing tier", err)
	}
	slog.Info("tier written", "out", opts.OutPath, "segments", len(segments))

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(IPUSummary{Segments: len(segments), Intervals: len(tier)})
}

// applyIPUConfig fills derivation options from the project config file,
// keeping explicit command-line values.
func applyIPUConfig(cmd *cobra.Command, opts *IPUOptions) error {
	if opts.ConfigPath == "" {
		return nil
	}
	proj, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if !flags.Changed("min-silence") && proj.IPU.MinSilence != nil {
		opts.MinSilence = *proj.IPU.MinSilence
	}
	if !flags.Changed("min-ipu") && proj.IPU.MinIPU != nil {
		opts.MinIPU = *proj.IPU.MinIPU
	}
	if !flags.Changed("include-laughter") {
		opts.IncludeLaughter = proj.IPU.IncludeLaughter
	}
	if !flags.Changed("include-noise") {
		opts.IncludeNoise = proj.IPU.IncludeNoise
	}
	if !flags.Changed("include-filled-pause") && proj.IPU.IncludeFilledPause != nil {
		opts.IncludeFilledPause = *proj.IPU.IncludeFilledPause
	}
	return nil
}
