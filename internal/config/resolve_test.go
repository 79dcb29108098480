package config

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// validConfig returns a minimal document that resolves cleanly. Tests
// mutate a copy per case.
func validConfig() *Config {
	return &Config{
		Target:     "dev:1.0",
		Iterations: 3,
		DefaultAction: &Action{
			Prompt: &PromptBlock{Lines: []string{"Do the next iteration."}},
		},
	}
}

func TestResolveDefaults(t *testing.T) {
	resolved, err := Resolve(validConfig(), Overrides{})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if resolved.Eval != EvalFirstMatch {
		t.Errorf("Eval: got %q, want %q", resolved.Eval, EvalFirstMatch)
	}
	if resolved.Scope != ScopeGlobal {
		t.Errorf("Scope: got %q, want %q", resolved.Scope, ScopeGlobal)
	}
	if resolved.Tail != DefaultTail {
		t.Errorf("Tail: got %d, want %d", resolved.Tail, DefaultTail)
	}
	if resolved.Timeout != DefaultTimeout {
		t.Errorf("Timeout: got %v, want %v", resolved.Timeout, DefaultTimeout)
	}
	if resolved.Retry.Attempts != 0 {
		t.Errorf("Retry.Attempts: got %d, want 0", resolved.Retry.Attempts)
	}
	if resolved.Logging.Format != "text" {
		t.Errorf("Logging.Format: got %q, want %q", resolved.Logging.Format, "text")
	}
}

func TestResolveValidationErrors(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:      "missing target",
			mutate:    func(c *Config) { c.Target = "" },
			wantField: "target",
		},
		{
			name:      "malformed target",
			mutate:    func(c *Config) { c.Target = "just-a-session" },
			wantField: "target",
		},
		{
			name:      "zero iterations",
			mutate:    func(c *Config) { c.Iterations = 0 },
			wantField: "iterations",
		},
		{
			name:      "negative iterations",
			mutate:    func(c *Config) { c.Iterations = -2 },
			wantField: "iterations",
		},
		{
			name: "infinite with iterations",
			mutate: func(c *Config) {
				c.Infinite = true
				c.Iterations = 5
			},
			wantField: "iterations",
		},
		{
			name:      "missing default prompt",
			mutate:    func(c *Config) { c.DefaultAction = nil },
			wantField: "default_action.prompt",
		},
		{
			name: "pre-only default action",
			mutate: func(c *Config) {
				c.DefaultAction = &Action{Pre: &PromptBlock{Lines: []string{"x"}}}
			},
			wantField: "default_action.prompt",
		},
		{
			name:      "multi_match rejected",
			mutate:    func(c *Config) { c.RuleEval = "multi_match" },
			wantField: "rule_eval",
		},
		{
			name:      "unknown rule_eval",
			mutate:    func(c *Config) { c.RuleEval = "best_match" },
			wantField: "rule_eval",
		},
		{
			name:      "unknown match_scope",
			mutate:    func(c *Config) { c.MatchScope = "window" },
			wantField: "match_scope",
		},
		{
			name:      "negative timeout",
			mutate:    func(c *Config) { c.Timeout = -1 },
			wantField: "timeout",
		},
		{
			name:      "negative retry attempts",
			mutate:    func(c *Config) { c.Retry = &RetryConfig{Attempts: -1} },
			wantField: "retry.attempts",
		},
		{
			name:      "negative tail",
			mutate:    func(c *Config) { c.Tail = -5 },
			wantField: "tail",
		},
		{
			name: "rule without id",
			mutate: func(c *Config) {
				c.Rules = []RuleConfig{{Match: &MatchCriteria{Contains: "x"}}}
			},
			wantField: "rules[0].id",
		},
		{
			name: "reserved rule id",
			mutate: func(c *Config) {
				c.Rules = []RuleConfig{{ID: "stop", Match: &MatchCriteria{Contains: "x"}}}
			},
			wantField: "rules[0].id",
		},
		{
			name: "duplicate rule ids",
			mutate: func(c *Config) {
				c.Rules = []RuleConfig{
					{ID: "done", Match: &MatchCriteria{Contains: "a"}},
					{ID: "done", Match: &MatchCriteria{Contains: "b"}},
				}
			},
			wantField: "rules[1].id",
		},
		{
			name: "rule without criteria",
			mutate: func(c *Config) {
				c.Rules = []RuleConfig{{ID: "blank"}}
			},
			wantField: "rules[0]",
		},
		{
			name: "invalid rule regex",
			mutate: func(c *Config) {
				c.Rules = []RuleConfig{{ID: "bad", Match: &MatchCriteria{Regex: "(unclosed"}}}
			},
			wantField: "rules[0].match.regex",
		},
		{
			name: "invalid exclude regex",
			mutate: func(c *Config) {
				c.Rules = []RuleConfig{{
					ID:      "bad",
					Match:   &MatchCriteria{Contains: "x"},
					Exclude: &MatchCriteria{Regex: "[z"},
				}}
			},
			wantField: "rules[0].exclude.regex",
		},
		{
			name: "dangling next",
			mutate: func(c *Config) {
				c.Rules = []RuleConfig{{
					ID:    "lonely",
					Match: &MatchCriteria{Contains: "x"},
					Next:  "nowhere",
				}}
			},
			wantField: "rules[0].next",
		},
		{
			name: "unknown delay mode",
			mutate: func(c *Config) {
				c.Delay = &DelayConfig{Mode: "random"}
			},
			wantField: "delay.mode",
		},
		{
			name: "range min above max",
			mutate: func(c *Config) {
				c.Delay = &DelayConfig{Mode: DelayRange, Min: 10, Max: 5}
			},
			wantField: "delay",
		},
		{
			name: "jitter out of bounds",
			mutate: func(c *Config) {
				c.Delay = &DelayConfig{Mode: DelayJitter, Min: 1, Max: 5, Jitter: 1.5}
			},
			wantField: "delay.jitter",
		},
		{
			name: "backoff mode without schedule",
			mutate: func(c *Config) {
				c.Delay = &DelayConfig{Mode: DelayBackoff}
			},
			wantField: "delay.backoff",
		},
		{
			name: "backoff factor below one",
			mutate: func(c *Config) {
				c.Delay = &DelayConfig{Mode: DelayBackoff, Backoff: &BackoffConfig{Base: 2, Factor: 0.5}}
			},
			wantField: "delay.backoff.factor",
		},
		{
			name: "backoff max below base",
			mutate: func(c *Config) {
				c.Delay = &DelayConfig{Mode: DelayBackoff, Backoff: &BackoffConfig{Base: 10, Factor: 2, Max: 5}}
			},
			wantField: "delay.backoff.max",
		},
		{
			name: "missing template var",
			mutate: func(c *Config) {
				c.DefaultAction.Prompt.Lines[0] = "Work on {{project}} for {{owner}}."
			},
			wantField: "template_vars",
		},
		{
			name: "unknown logging format",
			mutate: func(c *Config) {
				c.Logging = &LoggingConfig{Format: "xml"}
			},
			wantField: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			_, err := Resolve(cfg, Overrides{})
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("error type = %T, want *ValidationError (%v)", err, err)
			}
			if ve.Field != tt.wantField {
				t.Errorf("field = %q, want %q (%v)", ve.Field, tt.wantField, err)
			}
		})
	}
}

func TestResolveOverridesApplyBeforeValidation(t *testing.T) {
	cfg := validConfig()
	cfg.Target = ""
	cfg.Iterations = 0
	cfg.Infinite = true

	resolved, err := Resolve(cfg, Overrides{Target: "work:2.1", Iterations: 7, Tail: 40, Once: true})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if resolved.Target != "work:2.1" {
		t.Errorf("Target: got %q, want %q", resolved.Target, "work:2.1")
	}
	if resolved.Iterations != 7 {
		t.Errorf("Iterations: got %d, want 7", resolved.Iterations)
	}
	if resolved.Infinite {
		t.Error("iterations override should clear infinite")
	}
	if resolved.Tail != 40 {
		t.Errorf("Tail: got %d, want 40", resolved.Tail)
	}
	if !resolved.Once {
		t.Error("Once override not applied")
	}
}

func TestResolveNextPointers(t *testing.T) {
	cfg := validConfig()
	cfg.Rules = []RuleConfig{
		{ID: "a", Match: &MatchCriteria{Contains: "A"}, Next: "c"}, // forward reference
		{ID: "b", Match: &MatchCriteria{Contains: "B"}, Next: "stop"},
		{ID: "c", Match: &MatchCriteria{Contains: "C"}, Next: "c"}, // self loop
		{ID: "d", Match: &MatchCriteria{Contains: "D"}},            // unset
	}

	resolved, err := Resolve(cfg, Overrides{})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	wantNext := []int{2, -1, 2, -1}
	for i, rule := range resolved.Rules {
		if rule.Index != i {
			t.Errorf("rule %q: Index = %d, want %d", rule.ID, rule.Index, i)
		}
		if rule.NextIndex != wantNext[i] {
			t.Errorf("rule %q: NextIndex = %d, want %d", rule.ID, rule.NextIndex, wantNext[i])
		}
	}
	if resolved.Rules[1].Next != NextStop {
		t.Errorf("rule b: Next = %q, want %q", resolved.Rules[1].Next, NextStop)
	}
}

func TestResolveTemplateSubstitution(t *testing.T) {
	cfg := validConfig()
	cfg.TemplateVars = map[string]TemplateValue{
		"project": {raw: "loopmux"},
		"count":   {raw: "3"},
	}
	cfg.DefaultAction = &Action{
		Pre:    &PromptBlock{Lines: []string{"Focus on {{project}}."}},
		Prompt: &PromptBlock{Lines: []string{"Run {{ count }} checks for {{project}}."}},
	}
	cfg.Rules = []RuleConfig{{
		ID:    "done",
		Match: &MatchCriteria{Contains: "PASS"},
		Action: &Action{
			Prompt: &PromptBlock{Lines: []string{"{{project}} is done."}},
		},
	}}

	resolved, err := Resolve(cfg, Overrides{})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if got := resolved.DefaultAction.Pre.Lines[0]; got != "Focus on loopmux." {
		t.Errorf("pre: got %q", got)
	}
	if got := resolved.DefaultAction.Prompt.Lines[0]; got != "Run 3 checks for loopmux." {
		t.Errorf("prompt: got %q", got)
	}
	if got := resolved.Rules[0].Action.Prompt.Lines[0]; got != "loopmux is done." {
		t.Errorf("rule prompt: got %q", got)
	}
}

func TestResolveRuleWithoutActionKeepsNil(t *testing.T) {
	cfg := validConfig()
	cfg.Rules = []RuleConfig{{ID: "quiet", Match: &MatchCriteria{Contains: "x"}}}

	resolved, err := Resolve(cfg, Overrides{})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if resolved.Rules[0].Action != nil {
		t.Errorf("Action = %+v, want nil (falls back to default)", resolved.Rules[0].Action)
	}
}

func TestResolveDelaySeconds(t *testing.T) {
	cfg := validConfig()
	cfg.Delay = &DelayConfig{Mode: DelayRange, Min: 5, Max: 120}
	cfg.Rules = []RuleConfig{{
		ID:    "slow",
		Match: &MatchCriteria{Contains: "x"},
		Delay: &DelayConfig{Mode: DelayBackoff, Backoff: &BackoffConfig{Base: 2, Factor: 1.5, Max: 60}},
	}}

	resolved, err := Resolve(cfg, Overrides{})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if resolved.Delay.Min != 5*time.Second || resolved.Delay.Max != 120*time.Second {
		t.Errorf("delay bounds: got %v..%v", resolved.Delay.Min, resolved.Delay.Max)
	}
	bo := resolved.Rules[0].Delay.Backoff
	if bo == nil {
		t.Fatal("rule backoff missing")
	}
	if bo.Base != 2*time.Second || bo.Factor != 1.5 || bo.Max != 60*time.Second {
		t.Errorf("backoff: got %+v", bo)
	}
}

func TestCriteriaMatches(t *testing.T) {
	tests := []struct {
		name string
		crit MatchCriteria
		text string
		want bool
	}{
		{"regex hit", MatchCriteria{Regex: "(All tests passed|LGTM)"}, "ok\nAll tests passed\n", true},
		{"regex miss", MatchCriteria{Regex: "^DONE$"}, "not done", false},
		{"contains hit", MatchCriteria{Contains: "Error"}, "fatal Error: boom", true},
		{"contains miss", MatchCriteria{Contains: "Error"}, "all clear", false},
		{"starts_with hit", MatchCriteria{StartsWith: "$ "}, "$ make test", true},
		{"starts_with miss", MatchCriteria{StartsWith: "$ "}, "out$ put", false},
		{"or semantics", MatchCriteria{Regex: "ZZZ", Contains: "pass"}, "tests pass", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crit, err := compileCriteria("match", &tt.crit)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			if got := crit.Matches(tt.text); got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}

	var nilCrit *Criteria
	if nilCrit.Matches("anything") {
		t.Error("nil criteria should never match")
	}
}

func TestValidateTargetFormat(t *testing.T) {
	tests := []struct {
		target string
		wantOK bool
	}{
		{"ai:5.0", true},
		{"my session:2.1", true},
		{"dev:main.0", true},
		{"host:9000:1.2", true},
		{"", false},
		{"dev", false},
		{"dev:1", false},
		{":1.0", false},
		{"dev:.0", false},
		{"dev:1.", false},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			err := ValidateTargetFormat(tt.target)
			if (err == nil) != tt.wantOK {
				t.Errorf("ValidateTargetFormat(%q) = %v, want ok=%v", tt.target, err, tt.wantOK)
			}
		})
	}
}

func TestPlaceholders(t *testing.T) {
	cfg := validConfig()
	cfg.DefaultAction.Prompt.Lines = []string{"{{b}} and {{ a }} and {{b}}"}
	cfg.Rules = []RuleConfig{{
		ID:     "r",
		Match:  &MatchCriteria{Contains: "x"},
		Action: &Action{Post: &PromptBlock{Lines: []string{"finish {{c}}"}}},
	}}

	got := Placeholders(cfg)
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Placeholders() = %v, want %v", got, want)
	}
}

func TestTemplateResolves(t *testing.T) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(Template), &cfg); err != nil {
		t.Fatalf("template does not parse: %v", err)
	}
	resolved, err := Resolve(&cfg, Overrides{})
	if err != nil {
		t.Fatalf("template does not resolve: %v", err)
	}
	if len(resolved.Rules) != 3 {
		t.Fatalf("template rules: got %d, want 3", len(resolved.Rules))
	}
	for _, rule := range resolved.Rules {
		if rule.Next == "" {
			t.Errorf("template rule %q has no next pointer", rule.ID)
		}
	}
}

func TestValidationErrorMessage(t *testing.T) {
	cfg := validConfig()
	cfg.RuleEval = "multi_match"
	_, err := Resolve(cfg, Overrides{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "one action per cycle") {
		t.Errorf("message should explain the rejection: %q", err.Error())
	}
}
