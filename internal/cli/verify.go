package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/recruitflow/internal/archive"
	"github.com/roach88/recruitflow/internal/audit"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Database string
	Archive  string
}

// VerifyOutput is the JSON payload of the verify command.
type VerifyOutput struct {
	Source string             `json:"source"`
	Result audit.VerifyResult `json:"result"`
	Header *archive.Header    `json:"header,omitempty"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the audit hash chain",
		Long: `Recompute every hash of the audit chain and report the first break.

Checks the log in the database, or an exported archive with --archive.
The signing secret comes from the config (RECRUITFLOW_SIGNING_SECRET).

Exit codes:
  0 - Chain intact
  1 - Chain broken
  2 - Command error (missing database, unreadable archive, etc.)

Examples:
  recruitflow verify --db ./recruitflow.db
  recruitflow verify --archive ./audit-2025-08-29.rfa --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVar(&opts.Archive, "archive", "", "verify an exported archive instead of the database")

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var out VerifyOutput
	if opts.Archive != "" {
		cfg, err := loadConfig(opts.RootOptions, "")
		if err != nil {
			return err
		}
		f, err := os.Open(opts.Archive)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open archive", err)
		}
		defer f.Close()

		report, err := archive.Verify(f, cfg.SigningSecret)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read archive", err)
		}
		out = VerifyOutput{Source: opts.Archive, Result: report.Result, Header: &report.Header}
	} else {
		log, cfg, closer, err := openExistingLog(ctx, opts.RootOptions, opts.Database)
		if err != nil {
			return err
		}
		defer closer()

		result, err := log.Verify(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to verify audit log", err)
		}
		out = VerifyOutput{Source: cfg.Storage.Path, Result: result}
	}

	return outputVerify(cmd, opts, out)
}

func outputVerify(cmd *cobra.Command, opts *VerifyOptions, out VerifyOutput) error {
	broken := !out.Result.OK
	brokenAt := -1
	if out.Result.BrokenAtIndex != nil {
		brokenAt = *out.Result.BrokenAtIndex
	}

	if opts.Format == "json" {
		response := CLIResponse{Status: "ok", Data: out}
		if broken {
			response.Status = "error"
			response.Error = &CLIError{
				Code:    ErrCodeChain,
				Message: fmt.Sprintf("chain broken at index %d", brokenAt),
			}
		}
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		if broken {
			fmt.Fprintf(w, "✗ %s: chain broken at index %d (%d events)\n", out.Source, brokenAt, out.Result.Count)
		} else {
			fmt.Fprintf(w, "✓ %s: chain intact (%d events)\n", out.Source, out.Result.Count)
		}
		if opts.Verbose && out.Header != nil {
			fmt.Fprintf(w, "  exported at %d, last hash %s\n", out.Header.ExportedAt, out.Header.LastHash)
		}
	}

	if broken {
		return NewExitError(ExitFailure, fmt.Sprintf("chain broken at index %d", brokenAt))
	}
	return nil
}
