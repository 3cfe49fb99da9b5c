package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/recruitflow/internal/archive"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Database string
	Out      string

	// now overrides the export timestamp (for testing).
	now func() time.Time
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the audit log to a compressed archive",
		Long: `Export every event in the audit log to a zstd-compressed CBOR archive.

The archive carries the event count and the last hash in its header and
can be checked offline with "recruitflow verify --archive".

Example:
  recruitflow export --db ./recruitflow.db --out ./audit.rfa`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "archive path (required)")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	log, _, closer, err := openExistingLog(ctx, opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer closer()

	f, err := os.Create(opts.Out)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create archive", err)
	}

	now := time.Now
	if opts.now != nil {
		now = opts.now
	}
	header, err := archive.Export(ctx, log, f, now())
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(opts.Out)
		return WrapExitError(ExitCommandError, "failed to export audit log", err)
	}

	formatter := opts.formatter(cmd)
	if opts.Format == "json" {
		return formatter.Success(map[string]any{
			"path":     opts.Out,
			"count":    header.Count,
			"lastHash": header.LastHash,
		})
	}
	return formatter.Success(fmt.Sprintf("✓ exported %d events to %s", header.Count, opts.Out))
}
