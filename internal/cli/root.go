// Package cli implements the duet command-line interface.
//
// Commands are thin dispatchers: they parse flags, load configuration, and
// call one library entry point each. Alignment logic lives in the internal
// pipeline packages, never here.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the duet CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "duet",
		Short: "duet - dyadic IPU alignment toolkit",
		Long: `Derive trial-aligned metadata and event markers from two speakers'
IPU annotation streams, for downstream epoch extraction.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewAlignCommand(opts))
	cmd.AddCommand(NewIPUCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))

	return cmd
}

// setupLogging configures the process-wide slog default from the global
// flags. Logs go to stderr so JSON output on stdout stays parseable.
func setupLogging(opts *RootOptions) {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
