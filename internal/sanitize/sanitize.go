// Package sanitize applies regex-based replacement to result row field
// values before they leave the gateway, so configured secrets (emails,
// tokens, account numbers) never reach the calling agent.
package sanitize

import (
	"fmt"
	"regexp"
)

// Rule defines one regex replacement applied to every string field.
type Rule struct {
	Pattern     string
	Replacement string
}

type compiledRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Sanitizer applies the configured rules to result rows.
type Sanitizer struct {
	rules []compiledRule
}

// NewSanitizer compiles the rules. Returns an error on invalid regex patterns.
func NewSanitizer(rules []Rule) (*Sanitizer, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("sanitize: invalid regex pattern %q: %v", r.Pattern, err)
		}
		compiled[i] = compiledRule{pattern: re, replacement: r.Replacement}
	}
	return &Sanitizer{rules: compiled}, nil
}

// HasRules reports whether any rules are configured.
func (s *Sanitizer) HasRules() bool {
	return len(s.rules) > 0
}

// SanitizeRows applies the rules to every field value in rows, recursing
// into VARIANT/OBJECT (map) and ARRAY (slice) values. Rows are modified in
// place and returned for convenience.
func (s *Sanitizer) SanitizeRows(rows []map[string]any) []map[string]any {
	if len(s.rules) == 0 {
		return rows
	}
	for _, row := range rows {
		for k, v := range row {
			row[k] = s.sanitizeValue(v)
		}
	}
	return rows
}

func (s *Sanitizer) sanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		result := val
		for _, rule := range s.rules {
			result = rule.pattern.ReplaceAllString(result, rule.replacement)
		}
		return result
	case map[string]any:
		for k, item := range val {
			val[k] = s.sanitizeValue(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = s.sanitizeValue(item)
		}
		return val
	default:
		// Numeric, bool, nil values carry no text to sanitize.
		return v
	}
}
