package snowmcp

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/snowgate/snowflake-mcp/internal/sessions"
)

// stubConn returns canned results for every statement.
type stubConn struct {
	columns []string
	rows    []map[string]any
	err     error
}

func (c *stubConn) Query(ctx context.Context, sqlText string) ([]string, []map[string]any, error) {
	if c.err != nil {
		return nil, nil, c.err
	}
	return c.columns, c.rows, nil
}

func (c *stubConn) Close() error { return nil }

type stubConnector struct {
	conn *stubConn
	err  error
}

func (c *stubConnector) Connect(ctx context.Context) (sessions.Conn, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.conn, nil
}

// spyExecutor records whether the pool was ever reached.
type spyExecutor struct {
	calls atomic.Int64
	inner Executor
}

func (s *spyExecutor) Execute(ctx context.Context, sqlText string) (*sessions.Record, error) {
	s.calls.Add(1)
	return s.inner.Execute(ctx, sqlText)
}

func newTestEngine(t *testing.T, config Config, conn *stubConn) *SnowflakeMcp {
	t.Helper()
	engine, err := New(context.Background(), &stubConnector{conn: conn}, config, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { engine.Close(context.Background()) })
	return engine
}

func defaultStubConn() *stubConn {
	return &stubConn{
		columns: []string{"id", "name"},
		rows: []map[string]any{
			{"id": int64(1), "name": "alpha"},
			{"id": int64(2), "name": "beta"},
		},
	}
}
