package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/timvw/loopmux/internal/mux"
)

// Rule evaluation modes.
const (
	EvalFirstMatch = "first_match"
	EvalPriority   = "priority"
)

// Match scope modes.
const (
	ScopeGlobal = "global"
	ScopeActive = "active"
)

// Delay modes.
const (
	DelayFixed   = "fixed"
	DelayRange   = "range"
	DelayJitter  = "jitter"
	DelayBackoff = "backoff"
)

// NextStop is the reserved next pointer that terminates the run after
// the cycle in which the rule matched.
const NextStop = "stop"

// DefaultTail is the number of capture lines when the document omits tail.
const DefaultTail = 200

// DefaultTimeout bounds a single send or capture call.
const DefaultTimeout = 10 * time.Second

// ValidationError names the offending document field.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Overrides are the CLI flags applied on top of the document before
// validation.
type Overrides struct {
	Target     string
	Iterations int // > 0 replaces iterations and clears infinite
	Tail       int
	Once       bool
}

// Criteria is a compiled MatchCriteria.
type Criteria struct {
	Regex      *regexp.Regexp
	Contains   string
	StartsWith string
}

// Matches reports whether any populated criterion hits the text.
func (c *Criteria) Matches(text string) bool {
	if c == nil {
		return false
	}
	if c.Regex != nil && c.Regex.MatchString(text) {
		return true
	}
	if c.Contains != "" && strings.Contains(text, c.Contains) {
		return true
	}
	if c.StartsWith != "" && strings.HasPrefix(text, c.StartsWith) {
		return true
	}
	return false
}

// Rule is a resolved rule table entry. Index is its position in the
// configured order; Next is "", NextStop, or an id present in the table,
// with NextIndex the pre-resolved table index for the id case (-1
// otherwise) so transitions are O(1) lookups.
type Rule struct {
	ID        string
	Index     int
	Match     *Criteria
	Exclude   *Criteria
	Action    *Action // nil means use the default action
	Delay     *DelayPolicy
	Next      string
	NextIndex int
	Priority  int
}

// DelayPolicy is a resolved delay block with durations instead of seconds.
type DelayPolicy struct {
	Mode    string
	Value   time.Duration
	Min     time.Duration
	Max     time.Duration
	Jitter  float64
	Backoff *BackoffPolicy
}

// BackoffPolicy is a resolved exponential backoff schedule.
type BackoffPolicy struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

// RetryPolicy bounds cycle retries after send/capture failures.
type RetryPolicy struct {
	Attempts int
	Backoff  *BackoffPolicy
}

// LogSettings is the resolved logging block.
type LogSettings struct {
	Path   string
	Format string
}

// Resolved is the immutable configuration view consumed by the engine.
// Template placeholders are already substituted and all patterns compiled.
type Resolved struct {
	Target     string
	Iterations int // meaningful only when !Infinite
	Infinite   bool
	Once       bool
	Tail       int

	Eval    string
	Scope   string
	Timeout time.Duration
	Retry   RetryPolicy

	DefaultAction Action
	Delay         *DelayPolicy
	Rules         []Rule

	Logging      LogSettings
	OTELEndpoint string
	OTELHeaders  string
}

// Resolve applies overrides, validates every invariant, substitutes
// template variables, and compiles patterns. All configuration errors
// surface here; the engine assumes a Resolved view is internally
// consistent.
func Resolve(cfg *Config, ov Overrides) (*Resolved, error) {
	if ov.Target != "" {
		cfg.Target = ov.Target
	}
	if ov.Iterations > 0 {
		cfg.Iterations = ov.Iterations
		cfg.Infinite = false
	}
	if ov.Tail > 0 {
		cfg.Tail = ov.Tail
	}
	if ov.Once {
		cfg.Once = true
	}

	if strings.TrimSpace(cfg.Target) == "" {
		return nil, invalid("target", "target is required")
	}
	if err := ValidateTargetFormat(cfg.Target); err != nil {
		return nil, err
	}

	if cfg.Infinite && cfg.Iterations != 0 {
		return nil, invalid("iterations", "must be omitted when infinite is true")
	}
	if !cfg.Infinite && cfg.Iterations < 1 {
		return nil, invalid("iterations", "must be >= 1 unless infinite is true")
	}

	if cfg.DefaultAction == nil || cfg.DefaultAction.Prompt == nil || len(cfg.DefaultAction.Prompt.Lines) == 0 {
		return nil, invalid("default_action.prompt", "is required")
	}

	eval := cfg.RuleEval
	if eval == "" {
		eval = EvalFirstMatch
	}
	switch eval {
	case EvalFirstMatch, EvalPriority:
	case "multi_match":
		return nil, invalid("rule_eval", "multi_match is not supported: the loop executes one action per cycle")
	default:
		return nil, invalid("rule_eval", "unknown mode %q (supported: first_match, priority)", eval)
	}

	scope := cfg.MatchScope
	if scope == "" {
		scope = ScopeGlobal
	}
	if scope != ScopeGlobal && scope != ScopeActive {
		return nil, invalid("match_scope", "unknown scope %q (supported: global, active)", scope)
	}

	timeout := DefaultTimeout
	if cfg.Timeout < 0 {
		return nil, invalid("timeout", "must be >= 0")
	}
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	retry := RetryPolicy{}
	if cfg.Retry != nil {
		if cfg.Retry.Attempts < 0 {
			return nil, invalid("retry.attempts", "must be >= 0")
		}
		retry.Attempts = cfg.Retry.Attempts
		if cfg.Retry.Backoff != nil {
			bp, err := resolveBackoff("retry.backoff", cfg.Retry.Backoff)
			if err != nil {
				return nil, err
			}
			retry.Backoff = bp
		}
	}

	vars := cfg.TemplateVars
	missing := missingTemplateVars(cfg, vars)
	if len(missing) > 0 {
		return nil, invalid("template_vars", "missing: %s", strings.Join(missing, ", "))
	}

	defaultAction := substituteAction(*cfg.DefaultAction, vars)

	var delay *DelayPolicy
	if cfg.Delay != nil {
		dp, err := resolveDelay("delay", cfg.Delay)
		if err != nil {
			return nil, err
		}
		delay = dp
	}

	rules, err := resolveRules(cfg.Rules, vars)
	if err != nil {
		return nil, err
	}

	logging := LogSettings{Format: "text"}
	if cfg.Logging != nil {
		logging.Path = cfg.Logging.Path
		if cfg.Logging.Format != "" {
			logging.Format = cfg.Logging.Format
		}
		if logging.Format != "text" && logging.Format != "jsonl" {
			return nil, invalid("logging.format", "unknown format %q (supported: text, jsonl)", logging.Format)
		}
	}

	tail := cfg.Tail
	if tail == 0 {
		tail = DefaultTail
	}
	if tail < 0 {
		return nil, invalid("tail", "must be >= 1")
	}

	return &Resolved{
		Target:        cfg.Target,
		Iterations:    cfg.Iterations,
		Infinite:      cfg.Infinite,
		Once:          cfg.Once,
		Tail:          tail,
		Eval:          eval,
		Scope:         scope,
		Timeout:       timeout,
		Retry:         retry,
		DefaultAction: defaultAction,
		Delay:         delay,
		Rules:         rules,
		Logging:       logging,
		OTELEndpoint:  cfg.OTELEndpoint,
		OTELHeaders:   cfg.OTELHeaders,
	}, nil
}

// ValidateTargetFormat checks the session:window.pane shape without
// touching tmux. The transport's parser owns the address contract; this
// only dresses its rejection as a field-addressed validation error.
func ValidateTargetFormat(target string) error {
	if _, err := mux.ParseTarget(target); err != nil {
		return invalid("target", "%v", err)
	}
	return nil
}

func resolveRules(configs []RuleConfig, vars map[string]TemplateValue) ([]Rule, error) {
	rules := make([]Rule, 0, len(configs))
	index := make(map[string]int, len(configs))

	for i, rc := range configs {
		field := fmt.Sprintf("rules[%d]", i)
		id := rc.ID
		if strings.TrimSpace(id) == "" {
			return nil, invalid(field+".id", "is required")
		}
		if id == NextStop {
			return nil, invalid(field+".id", "%q is a reserved next pointer and cannot name a rule", NextStop)
		}
		if _, dup := index[id]; dup {
			return nil, invalid(field+".id", "duplicate rule id %q", id)
		}

		if !rc.Match.Defined() && !rc.Exclude.Defined() {
			return nil, invalid(field, "rule %q requires match or exclude", id)
		}

		match, err := compileCriteria(field+".match", rc.Match)
		if err != nil {
			return nil, err
		}
		exclude, err := compileCriteria(field+".exclude", rc.Exclude)
		if err != nil {
			return nil, err
		}

		rule := Rule{
			ID:       id,
			Index:    i,
			Match:    match,
			Exclude:  exclude,
			Next:     rc.Next,
			Priority: rc.Priority,
		}
		if !rc.Action.Empty() {
			action := substituteAction(*rc.Action, vars)
			rule.Action = &action
		}
		if rc.Delay != nil {
			dp, err := resolveDelay(field+".delay", rc.Delay)
			if err != nil {
				return nil, err
			}
			rule.Delay = dp
		}

		index[id] = i
		rules = append(rules, rule)
	}

	// Next pointers resolve against the complete table, so cycles and
	// forward references are fine.
	for i := range rules {
		rules[i].NextIndex = -1
		if rules[i].Next == "" || rules[i].Next == NextStop {
			continue
		}
		target, ok := index[rules[i].Next]
		if !ok {
			return nil, invalid(fmt.Sprintf("rules[%d].next", i), "rule %q references unknown next: %q", rules[i].ID, rules[i].Next)
		}
		rules[i].NextIndex = target
	}

	return rules, nil
}

func compileCriteria(field string, m *MatchCriteria) (*Criteria, error) {
	if !m.Defined() {
		return nil, nil
	}
	c := &Criteria{
		Contains:   m.Contains,
		StartsWith: m.StartsWith,
	}
	if hasText(m.Regex) {
		re, err := regexp.Compile(m.Regex)
		if err != nil {
			return nil, invalid(field+".regex", "invalid pattern %q: %v", m.Regex, err)
		}
		c.Regex = re
	}
	return c, nil
}

func resolveDelay(field string, dc *DelayConfig) (*DelayPolicy, error) {
	dp := &DelayPolicy{
		Mode:   dc.Mode,
		Value:  time.Duration(dc.Value) * time.Second,
		Min:    time.Duration(dc.Min) * time.Second,
		Max:    time.Duration(dc.Max) * time.Second,
		Jitter: dc.Jitter,
	}
	switch dc.Mode {
	case DelayFixed:
		if dc.Value < 0 {
			return nil, invalid(field+".value", "must be >= 0")
		}
	case DelayRange, DelayJitter:
		if dc.Min < 0 || dc.Max < 0 || dc.Min > dc.Max {
			return nil, invalid(field, "mode %s requires 0 <= min <= max", dc.Mode)
		}
		if dc.Mode == DelayJitter && (dc.Jitter < 0 || dc.Jitter > 1) {
			return nil, invalid(field+".jitter", "must be between 0.0 and 1.0")
		}
	case DelayBackoff:
		if dc.Backoff == nil {
			return nil, invalid(field+".backoff", "required when mode is backoff")
		}
		bp, err := resolveBackoff(field+".backoff", dc.Backoff)
		if err != nil {
			return nil, err
		}
		dp.Backoff = bp
	default:
		return nil, invalid(field+".mode", "unknown mode %q (supported: fixed, range, jitter, backoff)", dc.Mode)
	}
	return dp, nil
}

func resolveBackoff(field string, bc *BackoffConfig) (*BackoffPolicy, error) {
	if bc.Base < 1 {
		return nil, invalid(field+".base", "must be >= 1")
	}
	if bc.Factor < 1 {
		return nil, invalid(field+".factor", "must be >= 1.0")
	}
	if bc.Max != 0 && bc.Max < bc.Base {
		return nil, invalid(field+".max", "must be >= base")
	}
	return &BackoffPolicy{
		Base:   time.Duration(bc.Base) * time.Second,
		Factor: bc.Factor,
		Max:    time.Duration(bc.Max) * time.Second,
	}, nil
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Placeholders returns the sorted set of {{name}} placeholders used by
// the default action and every rule action.
func Placeholders(cfg *Config) []string {
	seen := map[string]struct{}{}
	collect := func(a *Action) {
		if a == nil {
			return
		}
		for _, block := range []*PromptBlock{a.Pre, a.Prompt, a.Post} {
			if block == nil {
				continue
			}
			for _, line := range block.Lines {
				for _, m := range placeholderPattern.FindAllStringSubmatch(line, -1) {
					seen[m[1]] = struct{}{}
				}
			}
		}
	}
	collect(cfg.DefaultAction)
	for i := range cfg.Rules {
		collect(cfg.Rules[i].Action)
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func missingTemplateVars(cfg *Config, vars map[string]TemplateValue) []string {
	var missing []string
	for _, name := range Placeholders(cfg) {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func substituteAction(a Action, vars map[string]TemplateValue) Action {
	return Action{
		Pre:    substituteBlock(a.Pre, vars),
		Prompt: substituteBlock(a.Prompt, vars),
		Post:   substituteBlock(a.Post, vars),
	}
}

func substituteBlock(b *PromptBlock, vars map[string]TemplateValue) *PromptBlock {
	if b == nil {
		return nil
	}
	lines := make([]string, len(b.Lines))
	for i, line := range b.Lines {
		lines[i] = placeholderPattern.ReplaceAllStringFunc(line, func(m string) string {
			name := strings.TrimSpace(strings.Trim(m, "{}"))
			if v, ok := vars[name]; ok {
				return v.String()
			}
			return m
		})
	}
	return &PromptBlock{Lines: lines}
}
