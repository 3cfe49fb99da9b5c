package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/recruitflow/internal/fault"
	"github.com/roach88/recruitflow/internal/outbound"
)

// SendOptions holds flags for the send command.
type SendOptions struct {
	*RootOptions
	Database string
	To       string
	Body     string
	Channel  string
	Locale   string
}

// NewSendCommand creates the send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one outbound message through the policy gate",
		Long: `Evaluate a message against the active policy and, when admitted, hand it
to the channel connector (mock in demo mode). The policy check and the
send or block are recorded in the audit log.

Exit codes:
  0 - Message sent
  1 - Message blocked by policy or rejected by the provider
  2 - Command error (bad flags, missing database, etc.)

Examples:
  recruitflow send --to +15551234567 --body "Are you free Friday?"
  recruitflow send --db ./recruitflow.db --to +15551234567 --channel whatsapp --locale es --body "Hola"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVar(&opts.To, "to", "", "recipient (required)")
	cmd.Flags().StringVar(&opts.Body, "body", "", "message body (required)")
	cmd.Flags().StringVar(&opts.Channel, "channel", "sms", "channel identifier (sms, whatsapp, web, ...)")
	cmd.Flags().StringVar(&opts.Locale, "locale", "en", "message locale")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("body")

	return cmd
}

func runSend(opts *SendOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	stack, err := OpenStack(ctx, cfg, newLogger(opts.RootOptions, cfg))
	if err != nil {
		return err
	}
	defer stack.Close()

	formatter := opts.formatter(cmd)
	result, err := stack.Dispatcher.Send(ctx, outbound.Message{
		To:      opts.To,
		Body:    opts.Body,
		Locale:  opts.Locale,
		Channel: opts.Channel,
	})
	if err != nil {
		code := string(fault.CodeOf(err))
		if fault.IsValidation(err) && len(result.Decision.Checks) > 0 {
			code = ErrCodePolicy
		}
		_ = formatter.Error(code, err.Error(), nil)
		if fault.IsValidation(err) || fault.IsExternal(err) {
			return WrapExitError(ExitFailure, "send failed", err)
		}
		return WrapExitError(ExitCommandError, "send failed", err)
	}

	if opts.Format == "json" {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(CLIResponse{Status: "ok", Data: result})
	}
	msg := fmt.Sprintf("✓ sent via %s (provider id %s)", opts.Channel, result.ProviderID)
	if result.Override {
		msg += fmt.Sprintf("\n  policy override: %s", strings.Join(result.Decision.Failed(), ", "))
	}
	return formatter.Success(msg)
}
