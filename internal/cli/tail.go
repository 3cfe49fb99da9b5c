package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/spf13/cobra"

	"github.com/roach88/recruitflow/internal/audit"
)

// TailOptions holds flags for the tail command.
type TailOptions struct {
	*RootOptions
	Database string
	From     int
	Follow   bool
}

// NewTailCommand creates the tail command.
func NewTailCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TailOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print audit events in order",
		Long: `Print audit events starting at index --from, oldest first.

With --follow the command keeps running and prints events appended by a
server sharing the same database. With --format json each event is one
JSON line carrying its index, so a consumer can resume with --from.

Examples:
  recruitflow tail --db ./recruitflow.db
  recruitflow tail --db ./recruitflow.db --from 120 --follow --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTail(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().IntVar(&opts.From, "from", 0, "first event index")
	cmd.Flags().BoolVarP(&opts.Follow, "follow", "f", false, "wait for new events")

	return cmd
}

func runTail(opts *TailOptions, cmd *cobra.Command) error {
	if opts.From < 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--from must be >= 0, got %d", opts.From))
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	log, _, closer, err := openExistingLog(ctx, opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer closer()

	var entries iter.Seq2[audit.Entry, error]
	if opts.Follow {
		entries = log.Tail(ctx, opts.From)
	} else {
		entries = log.Scan(ctx, opts.From)
	}

	w := cmd.OutOrStdout()
	enc := json.NewEncoder(w)
	for entry, err := range entries {
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read audit log", err)
		}
		if opts.Format == "json" {
			if err := enc.Encode(entry); err != nil {
				return err
			}
			continue
		}
		ev := entry.Event
		fmt.Fprintf(w, "%6d  %-8s %-22s %s\n", entry.Index, ev.Actor, ev.Action, payloadText(ev.Payload))
	}
	return nil
}
