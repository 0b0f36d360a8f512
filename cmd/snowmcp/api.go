package main

import (
	"encoding/json"
	"net/http"

	snowmcp "github.com/snowgate/snowflake-mcp"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// apiServer exposes the tool surface over plain REST for callers that do
// not speak the MCP protocol. /api/query is write-gated unless the request
// explicitly sets read_only to false; trusted callers only.
type apiServer struct {
	engine *snowmcp.SnowflakeMcp
	logger zerolog.Logger
}

func (a *apiServer) routes(r chi.Router) {
	r.Post("/api/query", a.handleQuery)
	r.Get("/api/databases", a.handleDatabases)
	r.Get("/api/schemas", a.handleSchemas)
	r.Get("/api/tables", a.handleTables)
	r.Get("/api/table/describe", a.handleDescribe)
}

type queryRequest struct {
	Query    string `json:"query"`
	ReadOnly *bool  `json:"read_only,omitempty"`
}

func (a *apiServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeQuery(w, r)
	if !ok {
		return
	}
	var output *snowmcp.QueryOutput
	if req.ReadOnly == nil || *req.ReadOnly {
		output = a.engine.Query(r.Context(), req.Query)
	} else {
		output = a.engine.Execute(r.Context(), req.Query)
	}
	a.writeQueryOutput(w, output)
}

func (a *apiServer) handleDatabases(w http.ResponseWriter, r *http.Request) {
	out, err := a.engine.ListDatabases(r.Context())
	a.writeResult(w, out, err)
}

func (a *apiServer) handleSchemas(w http.ResponseWriter, r *http.Request) {
	out, err := a.engine.ListSchemas(r.Context(), r.URL.Query().Get("database"))
	a.writeResult(w, out, err)
}

func (a *apiServer) handleTables(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := a.engine.ListTables(r.Context(), q.Get("database"), q.Get("schema"))
	a.writeResult(w, out, err)
}

func (a *apiServer) handleDescribe(w http.ResponseWriter, r *http.Request) {
	out, err := a.engine.DescribeTable(r.Context(), r.URL.Query().Get("table"))
	a.writeResult(w, out, err)
}

func (a *apiServer) decodeQuery(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "request body must be JSON with a query field")
		return req, false
	}
	if req.Query == "" {
		a.writeError(w, http.StatusBadRequest, "query is required")
		return req, false
	}
	return req, true
}

func (a *apiServer) writeQueryOutput(w http.ResponseWriter, out *snowmcp.QueryOutput) {
	status := http.StatusOK
	if out.Error != "" {
		status = http.StatusBadRequest
	}
	a.writeJSON(w, status, out)
}

func (a *apiServer) writeResult(w http.ResponseWriter, out any, err error) {
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.writeJSON(w, http.StatusOK, out)
}

func (a *apiServer) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, map[string]string{"error": msg})
}

func (a *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Warn().Err(err).Msg("failed to encode response")
	}
}
