package normalize

import (
	"fmt"
	"regexp"
)

// Rule is one textual line-override. A rule with no replacement deletes
// the matched line (demoting it to a comment); otherwise the match is
// substituted with the replacement text, which may use $1-style backrefs.
type Rule struct {
	Pattern *regexp.Regexp
	Replace string
	Delete  bool
}

// CompileRule builds a rule from operator configuration. replace == nil
// means delete.
func CompileRule(pattern string, replace *string) (Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("normalize: override pattern %q: %w", pattern, err)
	}
	rule := Rule{Pattern: re, Delete: replace == nil}
	if replace != nil {
		rule.Replace = *replace
	}
	return rule, nil
}

type overrideAction int

const (
	overrideNone overrideAction = iota
	overrideDeleted
	overrideReplaced
)

// applyOverrides runs line through the rules in declaration order. The
// first matching rule wins; later rules are never attempted. This is the
// only place the evaluator's input depends on string shape.
func applyOverrides(line string, rules []Rule) (string, overrideAction) {
	for _, rule := range rules {
		if !rule.Pattern.MatchString(line) {
			continue
		}
		if rule.Delete {
			return line, overrideDeleted
		}
		return rule.Pattern.ReplaceAllString(line, rule.Replace), overrideReplaced
	}
	return line, overrideNone
}
