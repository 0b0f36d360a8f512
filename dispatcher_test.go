package snowmcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestDispatcher(t *testing.T, engine *SnowflakeMcp) *Dispatcher {
	t.Helper()
	return NewDispatcher(engine, "snowmcp", "test", zerolog.Nop())
}

func mustParams(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal params: %v", err)
	}
	return raw
}

func initialize(t *testing.T, d *Dispatcher) string {
	t.Helper()
	resp, sessionID := d.Dispatch(context.Background(), "", Request{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "initialize",
		Params: mustParams(t, map[string]any{
			"protocolVersion": "2024-11-05",
			"clientInfo":      map[string]string{"name": "test-client", "version": "0.1"},
		}),
	})
	if resp.Error != nil {
		t.Fatalf("initialize failed: %+v", resp.Error)
	}
	if sessionID == "" {
		t.Fatal("initialize returned no session id")
	}
	return sessionID
}

func callTool(t *testing.T, d *Dispatcher, sessionID, tool string, args map[string]any) Response {
	t.Helper()
	resp, _ := d.Dispatch(context.Background(), sessionID, Request{
		JSONRPC: "2.0",
		ID:      2,
		Method:  "tools/call",
		Params:  mustParams(t, map[string]any{"name": tool, "arguments": args}),
	})
	return resp
}

func TestDispatch_RequiresInitialize(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, newTestEngine(t, Config{}, defaultStubConn()))

	resp, _ := d.Dispatch(context.Background(), "", Request{JSONRPC: "2.0", ID: 1, Method: "tools/list"})
	if resp.Error == nil || resp.Error.Code != CodeNotInitialized {
		t.Fatalf("expected code %d, got %+v", CodeNotInitialized, resp.Error)
	}
}

func TestDispatch_InitializeResult(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, newTestEngine(t, Config{}, defaultStubConn()))

	resp, sessionID := d.Dispatch(context.Background(), "", Request{
		JSONRPC: "2.0", ID: 1, Method: "initialize",
	})
	if resp.Error != nil {
		t.Fatalf("initialize failed: %+v", resp.Error)
	}
	if sessionID == "" {
		t.Fatal("expected a minted session id")
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result type %T", resp.Result)
	}
	if result["protocolVersion"] != "2024-11-05" {
		t.Fatalf("unexpected protocol version: %v", result["protocolVersion"])
	}
	info, ok := result["serverInfo"].(map[string]any)
	if !ok || info["name"] != "snowmcp" {
		t.Fatalf("unexpected serverInfo: %v", result["serverInfo"])
	}
}

func TestDispatch_ToolsList(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, newTestEngine(t, Config{}, defaultStubConn()))
	sessionID := initialize(t, d)

	resp, _ := d.Dispatch(context.Background(), sessionID, Request{JSONRPC: "2.0", ID: 2, Method: "tools/list"})
	if resp.Error != nil {
		t.Fatalf("tools/list failed: %+v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	tools := result["tools"].([]map[string]any)
	if len(tools) != 5 {
		t.Fatalf("expected 5 tools, got %d", len(tools))
	}
	var readQuery map[string]any
	for _, tool := range tools {
		if tool["name"] == "read_query" {
			readQuery = tool
		}
	}
	if readQuery == nil {
		t.Fatal("read_query missing from tools/list")
	}
	schema := readQuery["inputSchema"].(map[string]any)
	required := schema["required"].([]string)
	if len(required) != 1 || required[0] != "query" {
		t.Fatalf("unexpected required list: %v", required)
	}
}

func TestDispatch_UnknownMethod(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, newTestEngine(t, Config{}, defaultStubConn()))
	sessionID := initialize(t, d)

	resp, _ := d.Dispatch(context.Background(), sessionID, Request{JSONRPC: "2.0", ID: 2, Method: "resources/list"})
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("expected code %d, got %+v", CodeMethodNotFound, resp.Error)
	}
}

func TestDispatch_NotificationsAlwaysAcked(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, newTestEngine(t, Config{}, defaultStubConn()))

	// Uninitialized session, unrecognized notification name: still no error.
	resp, _ := d.Dispatch(context.Background(), "", Request{JSONRPC: "2.0", Method: "notifications/whatever"})
	if resp.Error != nil {
		t.Fatalf("notification produced an error: %+v", resp.Error)
	}
	if resp.Result == nil {
		t.Fatal("expected an empty success result")
	}
}

func TestDispatch_InvalidVersion(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, newTestEngine(t, Config{}, defaultStubConn()))

	resp, _ := d.Dispatch(context.Background(), "", Request{JSONRPC: "1.0", ID: 1, Method: "initialize"})
	if resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
		t.Fatalf("expected code %d, got %+v", CodeInvalidRequest, resp.Error)
	}
}

func TestDispatch_ToolCall_Success(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, newTestEngine(t, Config{}, defaultStubConn()))
	sessionID := initialize(t, d)

	resp := callTool(t, d, sessionID, "read_query", map[string]any{"query": "SELECT id, name FROM users"})
	if resp.Error != nil {
		t.Fatalf("tools/call failed: %+v", resp.Error)
	}
	result := resp.Result.(ToolResult)
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", result.Content[0].Text)
	}
	if !strings.Contains(result.Content[0].Text, `"row_count":2`) {
		t.Fatalf("unexpected payload: %s", result.Content[0].Text)
	}
}

func TestDispatch_ToolCall_WriteRejectedInPayload(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t, Config{}, defaultStubConn())
	spy := &spyExecutor{inner: engine.exec}
	engine.exec = spy
	d := newTestDispatcher(t, engine)
	sessionID := initialize(t, d)

	resp := callTool(t, d, sessionID, "read_query", map[string]any{"query": "DELETE FROM users"})
	if resp.Error != nil {
		t.Fatalf("expected a success envelope, got protocol error %+v", resp.Error)
	}
	result := resp.Result.(ToolResult)
	if !result.IsError {
		t.Fatal("expected isError payload")
	}
	if !strings.Contains(result.Content[0].Text, "write operations are not permitted") {
		t.Fatalf("unexpected payload: %s", result.Content[0].Text)
	}
	if spy.calls.Load() != 0 {
		t.Fatal("pool was called for a rejected statement")
	}
}

func TestDispatch_ToolCall_MissingRequiredParam(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, newTestEngine(t, Config{}, defaultStubConn()))
	sessionID := initialize(t, d)

	resp := callTool(t, d, sessionID, "read_query", map[string]any{})
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Fatalf("expected code %d, got %+v", CodeInvalidParams, resp.Error)
	}
}

func TestDispatch_ToolCall_WrongParamType(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, newTestEngine(t, Config{}, defaultStubConn()))
	sessionID := initialize(t, d)

	resp := callTool(t, d, sessionID, "read_query", map[string]any{"query": float64(42)})
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Fatalf("expected code %d, got %+v", CodeInvalidParams, resp.Error)
	}
}

func TestDispatch_ToolCall_UnknownTool(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, newTestEngine(t, Config{}, defaultStubConn()))
	sessionID := initialize(t, d)

	resp := callTool(t, d, sessionID, "write_query", map[string]any{"query": "SELECT 1"})
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Fatalf("expected code %d, got %+v", CodeInvalidParams, resp.Error)
	}
}

func TestDispatch_ToolCall_ConnectionUnavailable(t *testing.T) {
	t.Parallel()
	engine, err := newEngineWithConnector(t, &stubConnector{err: errors.New("dial tcp: lookup failed")})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	d := newTestDispatcher(t, engine)
	sessionID := initialize(t, d)

	resp := callTool(t, d, sessionID, "list_databases", nil)
	if resp.Error == nil || resp.Error.Code != CodeInternalError {
		t.Fatalf("expected code %d, got %+v", CodeInternalError, resp.Error)
	}
}

func TestDispatch_ToolCall_WarehouseErrorInPayload(t *testing.T) {
	t.Parallel()
	conn := &stubConn{err: errors.New("SQL compilation error: invalid identifier 'FOO'")}
	engine := newTestEngine(t, Config{}, conn)
	d := newTestDispatcher(t, engine)
	sessionID := initialize(t, d)

	resp := callTool(t, d, sessionID, "list_databases", nil)
	if resp.Error != nil {
		t.Fatalf("expected a success envelope, got protocol error %+v", resp.Error)
	}
	result := resp.Result.(ToolResult)
	if !result.IsError {
		t.Fatal("expected isError payload")
	}
	if !strings.Contains(result.Content[0].Text, "SQL compilation error") {
		t.Fatalf("unexpected payload: %s", result.Content[0].Text)
	}
}

func TestDispatch_Ping(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, newTestEngine(t, Config{}, defaultStubConn()))
	sessionID := initialize(t, d)

	resp, _ := d.Dispatch(context.Background(), sessionID, Request{JSONRPC: "2.0", ID: 3, Method: "ping"})
	if resp.Error != nil {
		t.Fatalf("ping failed: %+v", resp.Error)
	}
}

func TestDispatch_CloseSession(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, newTestEngine(t, Config{}, defaultStubConn()))
	sessionID := initialize(t, d)
	d.CloseSession(sessionID)

	resp, _ := d.Dispatch(context.Background(), sessionID, Request{JSONRPC: "2.0", ID: 2, Method: "tools/list"})
	if resp.Error == nil || resp.Error.Code != CodeNotInitialized {
		t.Fatalf("expected code %d after close, got %+v", CodeNotInitialized, resp.Error)
	}
}

func TestServeHTTP_ParseError(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, newTestEngine(t, Config{}, defaultStubConn()))

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Fatalf("expected code %d, got %+v", CodeParseError, resp.Error)
	}
}

func TestServeHTTP_SessionHeaderRoundTrip(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, newTestEngine(t, Config{}, defaultStubConn()))

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	sessionID := rec.Header().Get(SessionHeader)
	if sessionID == "" {
		t.Fatal("expected session id header on initialize response")
	}

	body = `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`
	req = httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader([]byte(body)))
	req.Header.Set(SessionHeader, sessionID)
	rec = httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("tools/list over HTTP failed: %+v", resp.Error)
	}
}

func TestServeHTTP_RejectsGet(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, newTestEngine(t, Config{}, defaultStubConn()))

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
