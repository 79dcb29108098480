// Package config defines the loopmux configuration document and turns it
// into the validated, fully-resolved view the engine runs against.
//
// A document is an explicit input (the --config flag), never ambient
// state: there is no search path and no environment merge beyond the
// OTEL endpoint variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the raw YAML document as written by the user.
// All fields are optional at this stage; Resolve enforces the invariants.
type Config struct {
	Target     string `yaml:"target"`
	Iterations int    `yaml:"iterations"`
	Infinite   bool   `yaml:"infinite"`
	Once       bool   `yaml:"once"`
	Tail       int    `yaml:"tail"`

	RuleEval   string `yaml:"rule_eval"`
	MatchScope string `yaml:"match_scope"`

	// Timeout bounds each send/capture call, in seconds.
	Timeout int          `yaml:"timeout"`
	Retry   *RetryConfig `yaml:"retry"`

	DefaultAction *Action      `yaml:"default_action"`
	Delay         *DelayConfig `yaml:"delay"`
	Rules         []RuleConfig `yaml:"rules"`

	TemplateVars map[string]TemplateValue `yaml:"template_vars"`

	Logging *LoggingConfig `yaml:"logging"`

	OTELEndpoint string `yaml:"otel_endpoint"`
	OTELHeaders  string `yaml:"otel_headers"`
}

// Action is a three-stage prompt: optional framing text before and after
// the main prompt. Stages are delivered in pre, prompt, post order.
type Action struct {
	Pre    *PromptBlock `yaml:"pre"`
	Prompt *PromptBlock `yaml:"prompt"`
	Post   *PromptBlock `yaml:"post"`
}

// Empty reports whether the action has no stage at all.
func (a *Action) Empty() bool {
	return a == nil || (a.Pre == nil && a.Prompt == nil && a.Post == nil)
}

// PromptBlock is either a single line or an ordered sequence of lines.
// Lines are delivered as successive sends, never concatenated.
type PromptBlock struct {
	Lines []string
}

// UnmarshalYAML accepts both a scalar and a sequence of scalars.
func (b *PromptBlock) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var line string
		if err := value.Decode(&line); err != nil {
			return err
		}
		b.Lines = []string{line}
		return nil
	case yaml.SequenceNode:
		var lines []string
		if err := value.Decode(&lines); err != nil {
			return err
		}
		b.Lines = lines
		return nil
	default:
		return fmt.Errorf("prompt block must be a string or a list of strings (line %d)", value.Line)
	}
}

// MarshalYAML renders single-line blocks back as a scalar.
func (b PromptBlock) MarshalYAML() (any, error) {
	if len(b.Lines) == 1 {
		return b.Lines[0], nil
	}
	return b.Lines, nil
}

// RuleConfig is one entry of the rules list.
type RuleConfig struct {
	ID       string         `yaml:"id"`
	Match    *MatchCriteria `yaml:"match"`
	Exclude  *MatchCriteria `yaml:"exclude"`
	Action   *Action        `yaml:"action"`
	Delay    *DelayConfig   `yaml:"delay"`
	Next     string         `yaml:"next"`
	Priority int            `yaml:"priority"`
}

// MatchCriteria matches captured pane text. The criteria are OR-ed:
// any populated field that hits makes the criteria match.
type MatchCriteria struct {
	Regex      string `yaml:"regex"`
	Contains   string `yaml:"contains"`
	StartsWith string `yaml:"starts_with"`
}

// Defined reports whether any criterion carries non-blank text.
func (m *MatchCriteria) Defined() bool {
	if m == nil {
		return false
	}
	return hasText(m.Regex) || hasText(m.Contains) || hasText(m.StartsWith)
}

// DelayConfig selects how the inter-cycle wait is computed.
type DelayConfig struct {
	Mode    string         `yaml:"mode"`
	Value   int            `yaml:"value"`
	Min     int            `yaml:"min"`
	Max     int            `yaml:"max"`
	Jitter  float64        `yaml:"jitter"`
	Backoff *BackoffConfig `yaml:"backoff"`
}

// BackoffConfig is an exponential backoff schedule in seconds.
type BackoffConfig struct {
	Base   int     `yaml:"base"`
	Factor float64 `yaml:"factor"`
	Max    int     `yaml:"max"`
}

// RetryConfig bounds mid-run recovery from send/capture failures.
// Attempts is the number of re-runs of a failed cycle; 0 aborts the run
// on the first failure.
type RetryConfig struct {
	Attempts int            `yaml:"attempts"`
	Backoff  *BackoffConfig `yaml:"backoff"`
}

// LoggingConfig selects the run-event log destination and format.
type LoggingConfig struct {
	Path   string `yaml:"path"`
	Format string `yaml:"format"` // "text" or "jsonl"
}

// TemplateValue is a scalar template variable: string, number, or bool.
type TemplateValue struct {
	raw string
}

// UnmarshalYAML accepts any scalar and keeps its string rendering.
func (v *TemplateValue) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("template_vars values must be scalars (line %d)", value.Line)
	}
	v.raw = value.Value
	return nil
}

// String returns the substitution text for the variable.
func (v TemplateValue) String() string {
	return v.raw
}

// Load reads and deserializes a configuration document.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// Environment fallbacks for the OTLP exporter, matching the standard
	// OTEL variable names.
	if cfg.OTELEndpoint == "" {
		cfg.OTELEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if cfg.OTELHeaders == "" {
		cfg.OTELHeaders = os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")
	}
	return &cfg, nil
}

func hasText(s string) bool {
	return strings.TrimSpace(s) != ""
}
