// Package proxy implements the credential-injection sidecar: it forwards
// every inbound request to the gateway, replacing the Authorization header
// with a configured bearer token. It performs no protocol-level validation.
package proxy

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Config holds the sidecar's settings.
type Config struct {
	// Upstream is the gateway base URL requests are forwarded to.
	Upstream string
	// BearerToken is injected as "Authorization: Bearer <token>".
	BearerToken string
	// Timeout bounds each forwarded request. Defaults to 30s.
	Timeout time.Duration
}

// hop-by-hop request headers the sidecar must not forward.
var droppedRequestHeaders = []string{"Host", "Authorization"}

// response headers dropped because the body may be re-framed in transit.
var droppedResponseHeaders = []string{"Content-Encoding", "Content-Length", "Transfer-Encoding"}

// Server is the forwarding sidecar.
type Server struct {
	upstream *url.URL
	token    string
	client   *http.Client
	logger   zerolog.Logger
}

// New validates cfg and builds the sidecar.
func New(cfg Config, logger zerolog.Logger) (*Server, error) {
	if cfg.Upstream == "" {
		return nil, fmt.Errorf("proxy: upstream URL is required")
	}
	upstream, err := url.Parse(cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("proxy: invalid upstream URL %q: %w", cfg.Upstream, err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("proxy: upstream URL %q must be absolute", cfg.Upstream)
	}
	if cfg.BearerToken == "" {
		logger.Warn().Msg("no bearer token configured: forwarding without credentials")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		upstream: upstream,
		token:    cfg.BearerToken,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}, nil
}

// Handler answers /health locally and forwards everything else.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"snowmcp-proxy"}`))
	})
	r.NotFound(s.forward)
	r.MethodNotAllowed(s.forward)
	return r
}

func (s *Server) forward(w http.ResponseWriter, req *http.Request) {
	target := *s.upstream
	target.Path = req.URL.Path
	target.RawQuery = req.URL.RawQuery

	outReq, err := http.NewRequestWithContext(req.Context(), req.Method, target.String(), req.Body)
	if err != nil {
		s.fail(w, err)
		return
	}

	outReq.Header = req.Header.Clone()
	for _, h := range droppedRequestHeaders {
		outReq.Header.Del(h)
	}
	if s.token != "" {
		outReq.Header.Set("Authorization", "Bearer "+s.token)
	}

	s.logger.Info().Str("method", req.Method).Str("path", req.URL.Path).Msg("forwarding request")

	resp, err := s.client.Do(outReq)
	if err != nil {
		s.fail(w, err)
		return
	}
	defer resp.Body.Close()

	header := w.Header()
	for k, vals := range resp.Header {
		for _, v := range vals {
			header.Add(k, v)
		}
	}
	for _, h := range droppedResponseHeaders {
		header.Del(h)
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.logger.Error().Err(err).Msg("proxy error")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	fmt.Fprintf(w, `{"error":"proxy error: %s"}`, err)
}
