// Package policy evaluates outbound messages against compliance rules.
//
// A rule set is loaded from YAML, JSON (comments allowed) or CUE and is
// always checked against the embedded CUE schema before use. Evaluation is
// pure; enforcement belongs to the caller (see internal/outbound).
package policy

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Rule names, reported in this order.
const (
	RuleChannelAllowed = "channel.allowed"
	RuleQuestionsMax   = "questions.max"
)

// RuleSet is the loaded policy document.
type RuleSet struct {
	AllowedChannels []string `json:"allowedChannels"`
	MaxQuestions    int      `json:"maxQuestions"`
}

// Default returns the rule set used when no policy file exists.
func Default() RuleSet {
	return RuleSet{
		AllowedChannels: []string{"sms", "whatsapp", "web"},
		MaxQuestions:    5,
	}
}

// Format identifies a policy document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatCUE  Format = "cue"
)

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json", ".jsonc":
		return FormatJSON, nil
	case ".cue":
		return FormatCUE, nil
	}
	return "", fmt.Errorf("policy %s: unsupported extension", path)
}

// Load reads a rule set from path. A missing file yields Default and
// found=false; any other read or validation failure is an error.
func Load(path string) (rs RuleSet, found bool, err error) {
	format, err := FormatFor(path)
	if err != nil {
		return RuleSet{}, false, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), false, nil
	}
	if err != nil {
		return RuleSet{}, false, fmt.Errorf("read policy: %w", err)
	}
	rs, err = Parse(data, format)
	if err != nil {
		return RuleSet{}, false, fmt.Errorf("policy %s: %w", path, err)
	}
	return rs, true, nil
}

// Parse decodes and validates a policy document. Fields the document
// omits keep their Default values.
func Parse(data []byte, format Format) (RuleSet, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Policy"))
	if err := schema.Err(); err != nil {
		return RuleSet{}, fmt.Errorf("compile policy schema: %w", err)
	}

	var doc cue.Value
	switch format {
	case FormatYAML:
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return RuleSet{}, fmt.Errorf("parse yaml: %w", err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
		doc = ctx.Encode(raw)
	case FormatJSON:
		// JSON is valid CUE once comments and trailing commas are gone.
		doc = ctx.CompileBytes(jsonc.ToJSON(data), cue.Filename("policy.json"))
	case FormatCUE:
		doc = ctx.CompileBytes(data, cue.Filename("policy.cue"))
	default:
		return RuleSet{}, fmt.Errorf("unknown policy format %q", format)
	}
	if err := doc.Err(); err != nil {
		return RuleSet{}, fmt.Errorf("parse %s: %w", format, err)
	}

	unified := schema.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return RuleSet{}, fmt.Errorf("validate policy: %w", err)
	}

	rs := Default()
	if err := unified.Decode(&rs); err != nil {
		return RuleSet{}, fmt.Errorf("decode policy: %w", err)
	}
	return rs, nil
}

// Request is a message send to evaluate.
type Request struct {
	Channel string
	To      string
	Body    string

	// QuestionsAsked is how many questions were already sent to To.
	QuestionsAsked int
}

// Check is the result of one rule.
type Check struct {
	Rule string `json:"rule"`
	OK   bool   `json:"ok"`
}

// Decision is the evaluation outcome. OK is the AND of every check.
type Decision struct {
	OK     bool    `json:"ok"`
	Checks []Check `json:"checks"`
}

// Failed returns the names of failed rules.
func (d Decision) Failed() []string {
	var out []string
	for _, c := range d.Checks {
		if !c.OK {
			out = append(out, c.Rule)
		}
	}
	return out
}

// Evaluator applies a fixed rule set. Safe for concurrent use.
type Evaluator struct {
	rules RuleSet
}

// NewEvaluator creates an evaluator over rs.
func NewEvaluator(rs RuleSet) *Evaluator {
	rs.AllowedChannels = slices.Clone(rs.AllowedChannels)
	return &Evaluator{rules: rs}
}

// Rules returns a copy of the active rule set.
func (e *Evaluator) Rules() RuleSet {
	rs := e.rules
	rs.AllowedChannels = slices.Clone(rs.AllowedChannels)
	return rs
}

// Evaluate checks every rule independently and reports them in order.
func (e *Evaluator) Evaluate(req Request) Decision {
	checks := []Check{
		{Rule: RuleChannelAllowed, OK: slices.Contains(e.rules.AllowedChannels, req.Channel)},
		{Rule: RuleQuestionsMax, OK: req.QuestionsAsked+CountQuestions(req.Body) <= e.rules.MaxQuestions},
	}
	ok := true
	for _, c := range checks {
		ok = ok && c.OK
	}
	return Decision{OK: ok, Checks: checks}
}

// CountQuestions counts question marks in body, including the Arabic
// question mark.
func CountQuestions(body string) int {
	return strings.Count(body, "?") + strings.Count(body, "؟")
}

// MarshalJSON keeps an empty channel list as [] rather than null.
func (rs RuleSet) MarshalJSON() ([]byte, error) {
	type plain RuleSet
	if rs.AllowedChannels == nil {
		rs.AllowedChannels = []string{}
	}
	return json.Marshal(plain(rs))
}
