package engine

import "github.com/timvw/loopmux/internal/config"

// UseDefault is the Selection index meaning no rule was eligible and the
// default action governs.
const UseDefault = -1

// Selection is the outcome of matching one capture: the table index of
// the selected rule, or UseDefault.
type Selection struct {
	Index int
}

// IsDefault reports whether the selection falls back to the default action.
func (s Selection) IsDefault() bool {
	return s.Index == UseDefault
}

// Matcher selects rules from a resolved rule table. All patterns are
// pre-compiled by config.Resolve; matching never fails.
type Matcher struct {
	rules []config.Rule
	eval  string
	scope string
}

// NewMatcher builds a matcher over the resolved configuration.
func NewMatcher(cfg *config.Resolved) *Matcher {
	return &Matcher{
		rules: cfg.Rules,
		eval:  cfg.Eval,
		scope: cfg.Scope,
	}
}

// Select returns the rule governing the next transition for the captured
// text. active is the current active pointer index, or UseDefault.
//
// Rules are evaluated in configured order. With match_scope "active" and
// an armed pointer, only the active rule is a candidate; the default
// action still applies when it misses.
func (m *Matcher) Select(text string, active int) Selection {
	best := UseDefault
	for i := range m.rules {
		rule := &m.rules[i]
		if m.scope == config.ScopeActive && active != UseDefault && i != active {
			continue
		}
		if !eligible(rule, text) {
			continue
		}
		if m.eval == config.EvalFirstMatch {
			return Selection{Index: i}
		}
		// priority mode: highest priority wins, ties by configured order.
		if best == UseDefault || rule.Priority > m.rules[best].Priority {
			best = i
		}
	}
	return Selection{Index: best}
}

// eligible reports whether a rule matches the text. A rule without match
// criteria (exclude-only) matches everything its exclude does not reject.
func eligible(rule *config.Rule, text string) bool {
	if rule.Match != nil && !rule.Match.Matches(text) {
		return false
	}
	if rule.Exclude != nil && rule.Exclude.Matches(text) {
		return false
	}
	return true
}
