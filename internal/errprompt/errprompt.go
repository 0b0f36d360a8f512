// Package errprompt maps warehouse error messages to operator-authored
// guidance. Snowflake errors carry numeric codes and terse messages
// ("002003 (42S02): SQL compilation error ..."); prompts let a deployment
// attach steering text for the calling agent to known failure shapes.
package errprompt

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule pairs an error-message pattern with the guidance to append.
type Rule struct {
	Pattern string
	Message string
}

type compiledRule struct {
	pattern *regexp.Regexp
	message string
}

// Matcher checks error messages against the configured rules.
type Matcher struct {
	rules []compiledRule
}

// NewMatcher compiles the rules. Returns an error on invalid regex patterns.
func NewMatcher(rules []Rule) (*Matcher, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("errprompt: invalid regex pattern %q: %v", r.Pattern, err)
		}
		compiled[i] = compiledRule{pattern: re, message: r.Message}
	}
	return &Matcher{rules: compiled}, nil
}

// Match evaluates errMsg against all rules top to bottom and returns the
// joined guidance messages plus the patterns that matched. Both are empty
// when nothing matches.
func (m *Matcher) Match(errMsg string) (guidance string, patterns []string) {
	var messages []string
	for _, rule := range m.rules {
		if rule.pattern.MatchString(errMsg) {
			messages = append(messages, rule.message)
			patterns = append(patterns, rule.pattern.String())
		}
	}
	return strings.Join(messages, "\n"), patterns
}
