// Package timeout resolves per-statement execution deadlines. A deployment
// can give known-slow statement shapes (large scans, EXPLAIN on big joins)
// their own budget while everything else uses the default.
package timeout

import (
	"fmt"
	"regexp"
	"time"
)

// Rule maps a SQL regex pattern to a timeout.
type Rule struct {
	Pattern string
	Timeout time.Duration
}

// Config is the resolver's configuration.
type Config struct {
	DefaultTimeout time.Duration
	Rules          []Rule
}

type compiledRule struct {
	pattern *regexp.Regexp
	timeout time.Duration
}

// Resolver picks the execution deadline for a statement.
type Resolver struct {
	rules          []compiledRule
	defaultTimeout time.Duration
}

// NewResolver compiles the rules. Panics on invalid regex patterns or a
// non-positive default.
func NewResolver(config Config) *Resolver {
	if config.DefaultTimeout <= 0 {
		panic("timeout: DefaultTimeout must be > 0")
	}
	compiled := make([]compiledRule, len(config.Rules))
	for i, r := range config.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			panic(fmt.Sprintf("timeout: invalid regex pattern %q: %v", r.Pattern, err))
		}
		if r.Timeout <= 0 {
			panic(fmt.Sprintf("timeout: rule %q has non-positive timeout", r.Pattern))
		}
		compiled[i] = compiledRule{pattern: re, timeout: r.Timeout}
	}
	return &Resolver{rules: compiled, defaultTimeout: config.DefaultTimeout}
}

// Resolve returns the timeout for sql and the pattern of the rule that
// chose it. First matching rule wins; the fallback returns an empty pattern.
func (r *Resolver) Resolve(sql string) (time.Duration, string) {
	for _, rule := range r.rules {
		if rule.pattern.MatchString(sql) {
			return rule.timeout, rule.pattern.String()
		}
	}
	return r.defaultTimeout, ""
}
