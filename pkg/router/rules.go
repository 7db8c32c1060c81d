package router

import (
	"strings"

	"github.com/zen-systems/sitegen/pkg/config"
)

// RuleSet is the ordered table of context rules. Each rule pairs a
// predicate over (task, industry) with an override; the first match wins.
type RuleSet struct {
	rules []compiledRule
}

type compiledRule struct {
	name        string
	industries  map[string]bool
	tasks       map[string]bool
	minQuality  float64
	preferModel string
}

func (c compiledRule) matches(task string, rc Context) bool {
	if len(c.tasks) > 0 && !c.tasks[task] {
		return false
	}
	if len(c.industries) > 0 && !c.industries[normalizeTag(rc.Industry)] {
		return false
	}
	return true
}

// NewRuleSet compiles context rules, preserving their order.
func NewRuleSet(rules []config.ContextRule) *RuleSet {
	rs := &RuleSet{}
	for _, r := range rules {
		cr := compiledRule{
			name:        r.Name,
			industries:  toSet(r.Industries),
			tasks:       toSet(r.Tasks),
			minQuality:  r.MinQuality,
			preferModel: r.PreferModel,
		}
		rs.rules = append(rs.rules, cr)
	}
	return rs
}

// Match returns the first rule whose predicate holds.
func (rs *RuleSet) Match(task string, rc Context) (compiledRule, bool) {
	if rs == nil {
		return compiledRule{}, false
	}
	for _, rule := range rs.rules {
		if rule.matches(task, rc) {
			return rule, true
		}
	}
	return compiledRule{}, false
}

// Names lists rule names in evaluation order.
func (rs *RuleSet) Names() []string {
	names := make([]string, len(rs.rules))
	for i, r := range rs.rules {
		names[i] = r.name
	}
	return names
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[normalizeTag(v)] = true
	}
	return set
}

func normalizeTag(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}

// containsTrigger checks if the prompt contains the trigger phrase.
// It looks for the trigger as a word or phrase boundary match.
func containsTrigger(prompt, trigger string) bool {
	for offset := 0; offset < len(prompt); {
		idx := strings.Index(prompt[offset:], trigger)
		if idx == -1 {
			return false
		}
		idx += offset
		endIdx := idx + len(trigger)
		before := idx == 0 || !isWordChar(prompt[idx-1])
		after := endIdx >= len(prompt) || !isWordChar(prompt[endIdx])
		if before && after {
			return true
		}
		offset = idx + 1
	}
	return false
}

func isWordChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
}
