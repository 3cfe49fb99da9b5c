package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/recruitflow/internal/policy"
)

// PolicyOptions holds flags for the policy command.
type PolicyOptions struct {
	*RootOptions
	Channel string
	Body    string
	Asked   int
}

// PolicyOutput is the JSON payload of the policy command.
type PolicyOutput struct {
	Path     string           `json:"path"`
	Found    bool             `json:"found"`
	Rules    policy.RuleSet   `json:"rules"`
	Decision *policy.Decision `json:"decision,omitempty"`
}

// NewPolicyCommand creates the policy command.
func NewPolicyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PolicyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "policy [policy-file]",
		Short: "Validate a policy file and dry-run a message against it",
		Long: `Load a policy document (YAML, JSON with comments, or CUE), validate it
against the policy schema and print the effective rules.

Without an argument the configured policy path is used; a missing
configured file means the built-in defaults apply. With --body the
message is evaluated against the rules without sending anything.

Examples:
  recruitflow policy ./policy.yaml
  recruitflow policy ./policy.cue --channel whatsapp --body "Free Tuesday?"
  recruitflow policy --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicy(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Channel, "channel", "sms", "channel for the dry run")
	cmd.Flags().StringVar(&opts.Body, "body", "", "message body to evaluate")
	cmd.Flags().IntVar(&opts.Asked, "asked", 0, "questions already sent to the recipient")

	return cmd
}

func runPolicy(opts *PolicyOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	explicit := len(args) == 1
	var path string
	if explicit {
		path = args[0]
	} else {
		cfg, err := loadConfig(opts.RootOptions, "")
		if err != nil {
			return err
		}
		path = cfg.Policy.Path
	}

	rules, found, err := policy.Load(path)
	if err != nil {
		_ = formatter.Error(ErrCodePolicy, err.Error(), nil)
		return WrapExitError(ExitFailure, "invalid policy", err)
	}
	if explicit && !found {
		_ = formatter.Error(ErrCodePolicy, fmt.Sprintf("policy file not found: %s", path), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("policy file not found: %s", path))
	}

	out := PolicyOutput{Path: path, Found: found, Rules: rules}
	if opts.Body != "" {
		decision := policy.NewEvaluator(rules).Evaluate(policy.Request{
			Channel:        opts.Channel,
			Body:           opts.Body,
			QuestionsAsked: opts.Asked,
		})
		out.Decision = &decision
	}

	if opts.Format == "json" {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(CLIResponse{Status: "ok", Data: out})
	}

	w := cmd.OutOrStdout()
	source := path
	if !found {
		source = "built-in defaults"
	}
	fmt.Fprintf(w, "✓ policy valid (%s)\n", source)
	fmt.Fprintf(w, "  allowed channels: %s\n", strings.Join(rules.AllowedChannels, ", "))
	fmt.Fprintf(w, "  max questions:    %d\n", rules.MaxQuestions)

	if out.Decision != nil {
		fmt.Fprintln(w)
		for _, c := range out.Decision.Checks {
			mark := "✓"
			if !c.OK {
				mark = "✗"
			}
			fmt.Fprintf(w, "  %s %s\n", mark, c.Rule)
		}
		if out.Decision.OK {
			fmt.Fprintln(w, "message would be sent")
		} else {
			fmt.Fprintf(w, "message would be blocked: %s\n", strings.Join(out.Decision.Failed(), ", "))
		}
	}
	return nil
}
