package cli

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dyadlab/duet/internal/align"
	"github.com/dyadlab/duet/internal/annot"
	"github.com/dyadlab/duet/internal/catalog"
	"github.com/dyadlab/duet/internal/config"
	"github.com/dyadlab/duet/internal/events"
	"github.com/dyadlab/duet/internal/metadata"
)

// AlignOptions holds flags for the align command.
type AlignOptions struct {
	*RootOptions
	ConfigPath  string
	SelfPath    string
	PartnerPath string

	TimeLock     string
	Anchor       string
	Margin       float64
	SamplingRate float64
	FirstSamp    int64

	OutTSV    string
	OutEvents string
	Catalog   string
}

// AlignSummary is the success payload of the align command.
type AlignSummary struct {
	Rows    int    `json:"rows"`
	Matched int    `json:"matched"`
	RunID   string `json:"run_id,omitempty"`
}

func (s AlignSummary) String() string {
	if s.RunID != "" {
		return fmt.Sprintf("aligned %d rows (%d matched), recorded as run %s", s.Rows, s.Matched, s.RunID)
	}
	return fmt.Sprintf("aligned %d rows (%d matched)", s.Rows, s.Matched)
}

// NewAlignCommand creates the align command.
func NewAlignCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AlignOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "align",
		Short: "Align two IPU streams into a metadata table and event array",
		Long: `Align the anchor speaker's IPU annotations against the partner's
within a symmetric time window, then write the trial metadata table (TSV)
and the sample-indexed event array (.npy) for epoch extraction.

Flags override values from --config. Example:
  duet align --self sub-001_ipu.csv --partner sub-002_ipu.csv \
    --margin 1.0 --time-lock onset --sfreq 500 \
    --out-tsv metadata.tsv --out-events events.npy`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAlign(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to YAML project config")
	cmd.Flags().StringVar(&opts.SelfPath, "self", "", "self speaker IPU table (required)")
	cmd.Flags().StringVar(&opts.PartnerPath, "partner", "", "partner speaker IPU table (required)")
	cmd.Flags().StringVar(&opts.TimeLock, "time-lock", config.DefaultTimeLock, "reference instant (onset|offset)")
	cmd.Flags().StringVar(&opts.Anchor, "anchor", config.DefaultAnchor, "which speaker drives the rows (self|partner)")
	cmd.Flags().Float64Var(&opts.Margin, "margin", config.DefaultMargin, "matching half-window in seconds")
	cmd.Flags().Float64Var(&opts.SamplingRate, "sfreq", 0, "recording sampling rate in Hz (required unless in config)")
	cmd.Flags().Int64Var(&opts.FirstSamp, "first-samp", 0, "recording start-sample offset")
	cmd.Flags().StringVar(&opts.OutTSV, "out-tsv", "", "output metadata TSV path (required)")
	cmd.Flags().StringVar(&opts.OutEvents, "out-events", "", "output events .npy path (required)")
	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "record artifacts in this catalog database")
	_ = cmd.MarkFlagRequired("self")
	_ = cmd.MarkFlagRequired("partner")
	_ = cmd.MarkFlagRequired("out-tsv")
	_ = cmd.MarkFlagRequired("out-events")

	return cmd
}

func runAlign(cmd *cobra.Command, opts *AlignOptions) error {
	setupLogging(opts.RootOptions)

	if err := applyConfig(cmd, opts); err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	cfg := align.Config{
		TimeLock: annot.TimeLock(opts.TimeLock),
		Anchor:   align.Anchor(opts.Anchor),
		Margin:   opts.Margin,
	}
	// Fail before touching any input file.
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid alignment settings", err)
	}

	summary, err := alignStreams(opts, cfg)
	if err != nil {
		return err
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(summary)
}

// applyConfig fills options from the project config file, keeping any value
// the user set explicitly on the command line.
func applyConfig(cmd *cobra.Command, opts *AlignOptions) error {
	if opts.ConfigPath == "" {
		return nil
	}
	proj, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if !flags.Changed("time-lock") {
		opts.TimeLock = proj.TimeLock
	}
	if !flags.Changed("anchor") {
		opts.Anchor = proj.Anchor
	}
	if !flags.Changed("margin") {
		opts.Margin = proj.Margin
	}
	if !flags.Changed("sfreq") && proj.SamplingRate > 0 {
		opts.SamplingRate = proj.SamplingRate
	}
	if !flags.Changed("first-samp") {
		opts.FirstSamp = proj.FirstSamp
	}
	if !flags.Changed("catalog") && proj.Catalog != "" {
		opts.Catalog = proj.Catalog
	}
	return nil
}

// alignStreams runs the whole pipeline: load, normalize, align, build rows,
// emit events, write artifacts, record the run.
//
// Both artifacts are fully computed in memory before anything is written, so
// a validation failure never leaves partial output behind.
func alignStreams(opts *AlignOptions, cfg align.Config) (AlignSummary, error) {
	selfStream, err := loadStream(opts.SelfPath, "self")
	if err != nil {
		return AlignSummary{}, err
	}
	partnerStream, err := loadStream(opts.PartnerPath, "partner")
	if err != nil {
		return AlignSummary{}, err
	}

	anchorStream, otherStream := selfStream, partnerStream
	if cfg.Anchor == align.AnchorPartner {
		anchorStream, otherStream = partnerStream, selfStream
	}
	slog.Debug("streams loaded",
		"anchor", anchorStream.Role, "anchor_ipus", anchorStream.Len(),
		"partner", otherStream.Role, "partner_ipus", otherStream.Len())

	matches, err := align.Align(anchorStream, otherStream, cfg)
	if err != nil {
		return AlignSummary{}, WrapExitError(ExitFailure, "alignment failed", err)
	}
	rows, err := metadata.BuildRows(anchorStream, matches, cfg.TimeLock)
	if err != nil {
		return AlignSummary{}, WrapExitError(ExitFailure, "building metadata failed", err)
	}
	evts, err := events.FromRows(rows, opts.SamplingRate, opts.FirstSamp)
	if err != nil {
		return AlignSummary{}, WrapExitError(ExitFailure, "building events failed", err)
	}

	var tsvBuf, npyBuf bytes.Buffer
	if err := metadata.WriteTSV(&tsvBuf, rows); err != nil {
		return AlignSummary{}, WrapExitError(ExitFailure, "serializing metadata failed", err)
	}
	if err := events.WriteNPY(&npyBuf, evts); err != nil {
		return AlignSummary{}, WrapExitError(ExitFailure, "serializing events failed", err)
	}

	if err := os.WriteFile(opts.OutTSV, tsvBuf.Bytes(), 0o644); err != nil {
		return AlignSummary{}, WrapExitError(ExitCommandError, "writing metadata table", err)
	}
	if err := os.WriteFile(opts.OutEvents, npyBuf.Bytes(), 0o644); err != nil {
		// Keep the artifact pair atomic: without the events file the table
		// must not survive either.
		os.Remove(opts.OutTSV)
		return AlignSummary{}, WrapExitError(ExitCommandError, "writing event array", err)
	}
	slog.Info("artifacts written", "tsv", opts.OutTSV, "events", opts.OutEvents, "rows", len(rows))

	summary := AlignSummary{Rows: len(rows)}
	for _, m := range matches {
		if m.Matched {
			summary.Matched++
		}
	}

	if opts.Catalog != "" {
		runID, err := recordRun(opts, int64(len(rows)))
		if err != nil {
			return AlignSummary{}, WrapExitError(ExitCommandError, "recording run in catalog", err)
		}
		summary.RunID = runID
	}
	return summary, nil
}

func loadStream(path, role string) (annot.Stream, error) {
	s, err := annot.ReadTable(path, role)
	if err != nil {
		return annot.Stream{}, WrapExitError(ExitFailure, "loading annotations", err)
	}
	s, err = annot.Normalize(s)
	if err != nil {
		return annot.Stream{}, WrapExitError(ExitFailure, "validating annotations", err)
	}
	return s, nil
}

func recordRun(opts *AlignOptions, rowCount int64) (string, error) {
	cat, err := catalog.Open(opts.Catalog)
	if err != nil {
		return "", err
	}
	defer cat.Close()

	run := catalog.Run{ID: catalog.NewRunID(), Command: "align"}
	for _, path := range []string{opts.OutTSV, opts.OutEvents} {
		sum, err := catalog.Checksum(path)
		if err != nil {
			return "", err
		}
		run.Artifacts = append(run.Artifacts, catalog.Artifact{
			Path:     path,
			SHA256:   sum,
			RowCount: rowCount,
		})
	}
	if err := cat.Record(context.Background(), run); err != nil {
		return "", err
	}
	slog.Info("run recorded", "run_id", run.ID, "catalog", opts.Catalog)
	return run.ID, nil
}
