package snowmcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/snowgate/snowflake-mcp/internal/sessions"
)

// ErrPolicyViolation marks a classifier rejection inside a read-only-gated
// path. It is always recovered into a handler-level error, never a crash.
var ErrPolicyViolation = errors.New("write operations are not permitted here")

// Query executes the full read-gated query pipeline and returns only
// QueryOutput: length check, write-safety classification, timeout
// resolution, pooled execution, sanitization, truncation. All errors are
// converted to output.Error with matching error-prompt guidance appended.
func (s *SnowflakeMcp) Query(ctx context.Context, sqlText string) *QueryOutput {
	return s.query(ctx, "read_query", sqlText, true)
}

// Execute runs sqlText without the write-safety gate. Used by the REST
// query endpoint when a deployment explicitly disables read-only mode for
// it; the MCP read_query tool never reaches this path.
func (s *SnowflakeMcp) Execute(ctx context.Context, sqlText string) *QueryOutput {
	return s.query(ctx, "query", sqlText, false)
}

func (s *SnowflakeMcp) query(ctx context.Context, tool, sqlText string, readOnlyRequired bool) *QueryOutput {
	startTime := time.Now()

	if len(sqlText) > s.config.Query.MaxSQLLength {
		return s.handleError(tool, startTime, fmt.Errorf("SQL query too long: %d bytes exceeds maximum of %d bytes",
			len(sqlText), s.config.Query.MaxSQLLength))
	}

	// The classifier gate runs before any session is touched. On rejection
	// the pool is never called.
	if readOnlyRequired {
		res := s.detector.Analyze(sqlText)
		if res.ContainsWrite {
			s.metrics.ObserveRejectedWrite()
			return s.handleError(tool, startTime, fmt.Errorf("%w: statement classified as a write (%s)",
				ErrPolicyViolation, res.MatchedConstruct))
		}
	}

	rec, timeoutRule, err := s.runStatement(ctx, sqlText)
	if err != nil {
		return s.handleError(tool, startTime, err)
	}

	output := &QueryOutput{
		Columns:  rec.Columns,
		Data:     s.sanitizer.SanitizeRows(rec.Rows),
		RowCount: rec.RowCount,
		DataID:   rec.ID,
	}
	s.truncateIfNeeded(output)

	logEvent := s.logger.Info().
		Str("tool", tool).
		Str("sql", truncateForLog(sqlText, 200)).
		Dur("duration", time.Since(startTime)).
		Int("row_count", output.RowCount).
		Str("data_id", output.DataID).
		Uint64("session_id", rec.SessionID)
	if timeoutRule != "" {
		logEvent = logEvent.Str("timeout_rule", timeoutRule)
	}
	if s.sanitizer.HasRules() {
		logEvent = logEvent.Bool("sanitized", true)
	}
	logEvent.Msg("query executed")
	s.metrics.ObserveQuery(tool, "ok", time.Since(startTime))

	return output
}

// runStatement resolves the statement's deadline and executes it on the
// pool. Shared by the gated query pipeline and the fixed-template tools.
func (s *SnowflakeMcp) runStatement(ctx context.Context, sqlText string) (*sessions.Record, string, error) {
	execTimeout, rule := s.timeouts.Resolve(sqlText)
	execCtx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	rec, err := s.exec.Execute(execCtx, sqlText)
	return rec, rule, err
}

// handleError converts any error into a QueryOutput with an error message,
// appending matching error-prompt guidance.
func (s *SnowflakeMcp) handleError(tool string, startTime time.Time, err error) *QueryOutput {
	errMsg := err.Error()
	guidance, patterns := s.errPrompt.Match(errMsg)

	logEvent := s.logger.Error().Str("tool", tool).Err(err)
	if len(patterns) > 0 {
		logEvent = logEvent.Strs("error_prompts", patterns)
	}
	logEvent.Msg("query error")
	s.metrics.ObserveQuery(tool, errorStatus(err), time.Since(startTime))

	if guidance != "" {
		errMsg = errMsg + "\n\n" + guidance
	}
	return &QueryOutput{Error: errMsg}
}

func errorStatus(err error) string {
	switch {
	case errors.Is(err, ErrPolicyViolation):
		return "policy_violation"
	case errors.Is(err, sessions.ErrTimeout):
		return "timeout"
	case errors.Is(err, sessions.ErrConnectionUnavailable):
		return "connection_unavailable"
	default:
		return "execution_failed"
	}
}

// truncateIfNeeded truncates query output data if it exceeds
// MaxResultLength (in characters).
func (s *SnowflakeMcp) truncateIfNeeded(output *QueryOutput) {
	jsonBytes, _ := json.Marshal(output.Data)
	jsonStr := string(jsonBytes)
	if utf8.RuneCountInString(jsonStr) <= s.config.Query.MaxResultLength {
		return
	}
	runes := []rune(jsonStr)
	truncated := string(runes[:s.config.Query.MaxResultLength])
	output.Data = nil
	output.Error = truncated + "...[truncated] Result is too long! Add limits in your query!"
}

// truncateForLog truncates a string for log output to avoid oversized
// log entries.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncateAt := maxLen
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	return s[:truncateAt] + "...[truncated]"
}
