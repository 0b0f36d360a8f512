package snowmcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/snowgate/snowflake-mcp/internal/sessions"
)

// Protocol error codes. These are an external contract with existing
// clients and must remain stable.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotInitialized = -32002
)

const protocolVersion = "2024-11-05"

// SessionHeader carries the protocol session identifier on the stateless
// HTTP transport.
const SessionHeader = "Mcp-Session-Id"

// Request is the decoded JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is the encoded JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// RPCError is a protocol-level error: unknown method, malformed envelope,
// use before initialization, or an internal failure.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ToolContent is one content block inside a tool result.
type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResult is the tools/call result payload. Handler-level failures set
// IsError inside a successful envelope; they are not protocol errors.
type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// protocolSession tracks per-connection handshake state.
type protocolSession struct {
	clientName    string
	clientVersion string
}

// Dispatcher routes request envelopes to the engine's tool registry and
// maintains the handshake state of each protocol session.
type Dispatcher struct {
	engine   *SnowflakeMcp
	name     string
	version  string
	sessions *xsync.MapOf[string, *protocolSession]
	logger   zerolog.Logger
}

// NewDispatcher creates a Dispatcher over the engine's registered tools.
func NewDispatcher(engine *SnowflakeMcp, name, version string, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		engine:   engine,
		name:     name,
		version:  version,
		sessions: xsync.NewMapOf[string, *protocolSession](),
		logger:   logger,
	}
}

// CloseSession drops a protocol session's state, e.g. when the transport
// connection closes.
func (d *Dispatcher) CloseSession(sessionID string) {
	d.sessions.Delete(sessionID)
}

// Dispatch handles one decoded request envelope. sessionID identifies the
// protocol session ("" for a connection that has not initialized yet) and
// the returned session id is non-empty when initialize mints a new one.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, req Request) (Response, string) {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	if req.JSONRPC != "" && req.JSONRPC != "2.0" {
		resp.Error = &RPCError{Code: CodeInvalidRequest, Message: "unsupported jsonrpc version"}
		return resp, ""
	}
	if req.Method == "" {
		resp.Error = &RPCError{Code: CodeInvalidRequest, Message: "method is required"}
		return resp, ""
	}

	// Notifications are fire-and-forget: acknowledged with an empty success
	// response, never an error, even when the name is unrecognized.
	if strings.HasPrefix(req.Method, "notifications/") {
		resp.Result = struct{}{}
		return resp, ""
	}

	if req.Method == "initialize" {
		return d.handleInitialize(req)
	}

	if _, ok := d.sessions.Load(sessionID); !ok {
		resp.Error = &RPCError{Code: CodeNotInitialized, Message: "session has not been initialized"}
		return resp, ""
	}

	switch req.Method {
	case "ping":
		resp.Result = struct{}{}
	case "tools/list":
		resp.Result = d.toolList()
	case "tools/call":
		resp = d.handleToolCall(ctx, req)
	default:
		resp.Error = &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}
	return resp, ""
}

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
	ClientInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
}

func (d *Dispatcher) handleInitialize(req Request) (Response, string) {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp.Error = &RPCError{Code: CodeInvalidParams, Message: "malformed initialize params"}
			return resp, ""
		}
	}

	sessionID := uuid.NewString()
	d.sessions.Store(sessionID, &protocolSession{
		clientName:    params.ClientInfo.Name,
		clientVersion: params.ClientInfo.Version,
	})

	d.logger.Info().
		Str("client_name", params.ClientInfo.Name).
		Str("client_version", params.ClientInfo.Version).
		Str("session_id", sessionID).
		Msg("client connected (initialize)")

	resp.Result = map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"serverInfo":      map[string]any{"name": d.name, "version": d.version},
	}
	return resp, sessionID
}

func (d *Dispatcher) toolList() map[string]any {
	tools := make([]map[string]any, 0, len(d.engine.Tools()))
	for _, desc := range d.engine.Tools() {
		properties := make(map[string]any, len(desc.InputSchema))
		required := make([]string, 0, len(desc.InputSchema))
		for name, spec := range desc.InputSchema {
			properties[name] = map[string]any{
				"type":        spec.Type,
				"description": spec.Description,
			}
			if spec.Required {
				required = append(required, name)
			}
		}
		schema := map[string]any{"type": "object", "properties": properties}
		if len(required) > 0 {
			schema["required"] = required
		}
		tools = append(tools, map[string]any{
			"name":        desc.Name,
			"description": desc.Description,
			"inputSchema": schema,
		})
	}
	return map[string]any{"tools": tools}
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (d *Dispatcher) handleToolCall(ctx context.Context, req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		resp.Error = &RPCError{Code: CodeInvalidParams, Message: "malformed tools/call params"}
		return resp
	}

	desc, handler, ok := d.lookupTool(params.Name)
	if !ok {
		resp.Error = &RPCError{Code: CodeInvalidParams, Message: fmt.Sprintf("unknown tool: %s", params.Name)}
		return resp
	}
	if err := validateArguments(desc, params.Arguments); err != nil {
		resp.Error = &RPCError{Code: CodeInvalidParams, Message: err.Error()}
		return resp
	}

	payload, err := handler(ctx, params.Arguments)
	if err != nil {
		// ConnectionUnavailable is an internal condition, not a statement
		// failure the caller can act on.
		if errors.Is(err, sessions.ErrConnectionUnavailable) {
			resp.Error = &RPCError{Code: CodeInternalError, Message: "internal error", Data: err.Error()}
			return resp
		}
		d.logger.Warn().Str("tool", params.Name).Err(err).Msg("tool call failed")
		resp.Result = ToolResult{
			Content: []ToolContent{{Type: "text", Text: err.Error()}},
			IsError: true,
		}
		return resp
	}

	text, err := json.Marshal(payload)
	if err != nil {
		resp.Error = &RPCError{Code: CodeInternalError, Message: "internal error", Data: "failed to encode tool result"}
		return resp
	}
	resp.Result = ToolResult{Content: []ToolContent{{Type: "text", Text: string(text)}}}
	return resp
}

func (d *Dispatcher) lookupTool(name string) (ToolDescriptor, toolHandler, bool) {
	for _, desc := range d.engine.Tools() {
		if desc.Name == name {
			return desc, d.engine.handlers[name], true
		}
	}
	return ToolDescriptor{}, nil, false
}

// validateArguments type-checks decoded arguments against the descriptor's
// schema before the handler runs.
func validateArguments(desc ToolDescriptor, args map[string]any) error {
	for name, spec := range desc.InputSchema {
		value, present := args[name]
		if !present {
			if spec.Required {
				return fmt.Errorf("missing required parameter: %s", name)
			}
			continue
		}
		switch spec.Type {
		case "string":
			if _, ok := value.(string); !ok {
				return fmt.Errorf("parameter %s must be a string", name)
			}
		case "number":
			if _, ok := value.(float64); !ok {
				return fmt.Errorf("parameter %s must be a number", name)
			}
		case "boolean":
			if _, ok := value.(bool); !ok {
				return fmt.Errorf("parameter %s must be a boolean", name)
			}
		}
	}
	return nil
}

// ServeHTTP decodes one request envelope from the transport and encodes the
// dispatcher's response. Envelope field names and error codes pass through
// exactly as emitted by Dispatch.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeResponse(w, "", Response{JSONRPC: "2.0", Error: &RPCError{Code: CodeParseError, Message: "failed to read request body"}})
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, "", Response{JSONRPC: "2.0", Error: &RPCError{Code: CodeParseError, Message: "parse error"}})
		return
	}

	resp, newSessionID := d.Dispatch(r.Context(), r.Header.Get(SessionHeader), req)
	writeResponse(w, newSessionID, resp)
}

func writeResponse(w http.ResponseWriter, sessionID string, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	if sessionID != "" {
		w.Header().Set(SessionHeader, sessionID)
	}
	json.NewEncoder(w).Encode(resp)
}
