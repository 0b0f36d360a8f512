package snowmcp

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/snowgate/snowflake-mcp/internal/errprompt"
	"github.com/snowgate/snowflake-mcp/internal/sanitize"
	"github.com/snowgate/snowflake-mcp/internal/sessions"
	"github.com/snowgate/snowflake-mcp/internal/telemetry"
	"github.com/snowgate/snowflake-mcp/internal/timeout"
	"github.com/snowgate/snowflake-mcp/internal/writecheck"
)

// Executor is the single path for running SQL against the warehouse.
// *sessions.Pool implements it.
type Executor interface {
	Execute(ctx context.Context, sql string) (*sessions.Record, error)
}

// SnowflakeMcp is the core engine behind the gateway's tools. All exported
// methods are safe for concurrent use from multiple goroutines.
type SnowflakeMcp struct {
	config    Config
	pool      *sessions.Pool
	exec      Executor
	detector  *writecheck.Detector
	errPrompt *errprompt.Matcher
	sanitizer *sanitize.Sanitizer
	timeouts  *timeout.Resolver
	metrics   *telemetry.Metrics
	logger    zerolog.Logger

	tools    []ToolDescriptor
	handlers map[string]toolHandler
}

// New creates a SnowflakeMcp instance over the given connector.
// Panics on invalid config. Returns error only for runtime failures
// (e.g. bad sanitization or error-prompt patterns).
func New(ctx context.Context, connector sessions.Connector, config Config, logger zerolog.Logger) (*SnowflakeMcp, error) {
	if connector == nil {
		panic("snowmcp: connector must be non-nil")
	}
	if config.Pool.MaxSessions <= 0 {
		config.Pool.MaxSessions = 2
	}
	if config.Query.DefaultTimeoutSeconds <= 0 {
		config.Query.DefaultTimeoutSeconds = 30
	}
	if config.Query.MaxSQLLength == 0 {
		config.Query.MaxSQLLength = 100000
	}
	if config.Query.MaxResultLength == 0 {
		config.Query.MaxResultLength = 100000
	}
	if config.Query.MaxSQLLength < 0 {
		panic("snowmcp: query.max_sql_length must be > 0")
	}
	if config.Query.MaxResultLength < 0 {
		panic("snowmcp: query.max_result_length must be > 0")
	}
	for _, rule := range config.Query.TimeoutRules {
		if rule.TimeoutSeconds <= 0 {
			panic("snowmcp: timeout_rule with pattern " + rule.Pattern + " has timeout_seconds <= 0")
		}
	}

	matcher, err := errprompt.NewMatcher(mapErrorPromptRules(config.ErrorPrompts))
	if err != nil {
		return nil, err
	}
	san, err := sanitize.NewSanitizer(mapSanitizationRules(config.Sanitization))
	if err != nil {
		return nil, err
	}

	timeoutRules := make([]timeout.Rule, len(config.Query.TimeoutRules))
	for i, r := range config.Query.TimeoutRules {
		timeoutRules[i] = timeout.Rule{
			Pattern: r.Pattern,
			Timeout: time.Duration(r.TimeoutSeconds) * time.Second,
		}
	}

	pool := sessions.NewPool(connector, sessions.Config{
		MaxSessions:    config.Pool.MaxSessions,
		MaxWaiters:     config.Pool.MaxWaiters,
		AcquireTimeout: time.Duration(config.Pool.AcquireTimeoutSeconds) * time.Second,
	}, logger)

	s := &SnowflakeMcp{
		config:    config,
		pool:      pool,
		exec:      pool,
		detector:  writecheck.NewDetector(),
		errPrompt: matcher,
		sanitizer: san,
		timeouts: timeout.NewResolver(timeout.Config{
			DefaultTimeout: time.Duration(config.Query.DefaultTimeoutSeconds) * time.Second,
			Rules:          timeoutRules,
		}),
		logger: logger,
	}
	if config.Metrics {
		s.metrics = telemetry.New(
			func() float64 { return float64(pool.InUse()) },
			func() float64 { return float64(pool.Recycled()) },
		)
	}
	s.registerTools()
	return s, nil
}

// Close shuts down the session pool. Accepts context for API
// forward-compatibility; pool shutdown is synchronous.
func (s *SnowflakeMcp) Close(ctx context.Context) {
	s.pool.Close()
}

// Metrics returns the engine's metrics set; nil when metrics are disabled.
func (s *SnowflakeMcp) Metrics() *telemetry.Metrics {
	return s.metrics
}

func mapSanitizationRules(rules []SanitizationRule) []sanitize.Rule {
	result := make([]sanitize.Rule, len(rules))
	for i, r := range rules {
		result[i] = sanitize.Rule{Pattern: r.Pattern, Replacement: r.Replacement}
	}
	return result
}

func mapErrorPromptRules(rules []ErrorPromptRule) []errprompt.Rule {
	result := make([]errprompt.Rule, len(rules))
	for i, r := range rules {
		result[i] = errprompt.Rule{Pattern: r.Pattern, Message: r.Message}
	}
	return result
}
