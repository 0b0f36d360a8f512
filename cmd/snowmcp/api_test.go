package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	snowmcp "github.com/snowgate/snowflake-mcp"
	"github.com/snowgate/snowflake-mcp/internal/sessions"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type apiFakeConn struct{}

func (c *apiFakeConn) Query(ctx context.Context, sqlText string) ([]string, []map[string]any, error) {
	return []string{"n"}, []map[string]any{{"n": int64(1)}}, nil
}

func (c *apiFakeConn) Close() error { return nil }

type apiFakeConnector struct{}

func (c *apiFakeConnector) Connect(ctx context.Context) (sessions.Conn, error) {
	return &apiFakeConn{}, nil
}

func newTestAPI(t *testing.T) http.Handler {
	t.Helper()
	engine, err := snowmcp.New(context.Background(), &apiFakeConnector{}, snowmcp.Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { engine.Close(context.Background()) })

	r := chi.NewRouter()
	api := &apiServer{engine: engine, logger: zerolog.Nop()}
	api.routes(r)
	return r
}

func TestAPIQuery_QueryBodyField(t *testing.T) {
	t.Parallel()
	handler := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"query":"SELECT 1"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out snowmcp.QueryOutput
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if out.RowCount != 1 {
		t.Fatalf("expected 1 row, got %d", out.RowCount)
	}
}

func TestAPIQuery_MissingQueryField(t *testing.T) {
	t.Parallel()
	handler := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"sql":"SELECT 1"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a body without query, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "query is required") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestAPIQuery_GatedByDefault(t *testing.T) {
	t.Parallel()
	handler := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"query":"DELETE FROM t"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a write statement, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "write operations are not permitted") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestAPIQuery_ReadOnlyFalseBypassesGate(t *testing.T) {
	t.Parallel()
	handler := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"query":"DELETE FROM t","read_only":false}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on the ungated path, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAPIDescribe_TableQueryParam(t *testing.T) {
	t.Parallel()
	handler := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/table/describe?table=analytics.public.users", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out snowmcp.DescribeTableOutput
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if out.Table != "USERS" {
		t.Fatalf("expected table USERS, got %s", out.Table)
	}
}
