package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/recruitflow/internal/audit"
	"github.com/roach88/recruitflow/internal/canonical"
)

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	*RootOptions
	Database string
	Limit    int
	Cursor   int // -1 means newest page
	Action   string
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Page through the audit log",
		Long: `Print one page of the audit log, newest page first.

Without --cursor the newest events are shown. Pass the printed next
cursor back to walk toward the start of the log; a next cursor of 0 means
the first event has been reached.

Examples:
  recruitflow audit --db ./recruitflow.db
  recruitflow audit --db ./recruitflow.db --limit 50 --cursor 200
  recruitflow audit --db ./recruitflow.db --action message.blocked --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().IntVar(&opts.Limit, "limit", audit.DefaultPageLimit, "events per page")
	cmd.Flags().IntVar(&opts.Cursor, "cursor", -1, "page end cursor (default newest)")
	cmd.Flags().StringVar(&opts.Action, "action", "", "only show events with this action")

	return cmd
}

func runAudit(opts *AuditOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	log, _, closer, err := openExistingLog(ctx, opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer closer()

	var cursor *int
	if opts.Cursor >= 0 {
		cursor = &opts.Cursor
	}
	page, err := log.Page(ctx, cursor, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read audit page", err)
	}

	if opts.Action != "" {
		kept := page.Events[:0]
		for _, ev := range page.Events {
			if ev.Action == opts.Action {
				kept = append(kept, ev)
			}
		}
		page.Events = kept
	}

	if opts.Format == "json" {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(CLIResponse{Status: "ok", Data: page})
	}

	w := cmd.OutOrStdout()
	if len(page.Events) == 0 {
		fmt.Fprintln(w, "No events.")
	}
	for _, ev := range page.Events {
		fmt.Fprintf(w, "%s  %-8s %-22s %s\n", ev.TS.Time().Format("2006-01-02T15:04:05.000000Z"), ev.Actor, ev.Action, payloadText(ev.Payload))
		if opts.Verbose {
			fmt.Fprintf(w, "    id=%s hash=%s prev=%s\n", ev.ID, ev.Hash, ev.PrevHash)
		}
	}
	fmt.Fprintf(w, "\nnext cursor: %d\n", page.NextCursor)
	return nil
}

func payloadText(p canonical.Object) string {
	data, err := canonical.Marshal(p)
	if err != nil {
		return "<unencodable>"
	}
	return string(data)
}
