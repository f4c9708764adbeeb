// Package httpapi is the multi-client HTTP+WS transport: health
// probes, metrics exposition, request/response tool calls, and a
// WebSocket leg framing the MCP protocol one message per frame.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/cortexhub/cortexhub/internal/config"
	"github.com/cortexhub/cortexhub/internal/errs"
	"github.com/cortexhub/cortexhub/internal/governance"
	"github.com/cortexhub/cortexhub/internal/hub"
)

// Server mounts the HTTP surface over a wired hub.
type Server struct {
	hub    *hub.Hub
	cfg    config.HTTPConfig
	logger *slog.Logger
	start  time.Time
	ws     *wsHandler
}

// NewServer builds the HTTP surface.
func NewServer(h *hub.Hub, cfg config.HTTPConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		hub:    h,
		cfg:    cfg,
		logger: logger,
		start:  time.Now(),
		ws:     newWSHandler(h, logger),
	}
}

// Handler assembles the mux. Health and metrics stay outside the
// governance middleware; tool calls and the WS upgrade go through it.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/ready", s.handleReady)
	mux.HandleFunc("GET /health/live", s.handleReady)
	mux.Handle("GET /metrics", s.hub.Metrics().Handler())

	governed := http.NewServeMux()
	governed.HandleFunc("POST /tools/call", s.handleToolsCall)
	governed.HandleFunc("GET /tools", s.handleToolsList)
	governed.HandleFunc("GET /servers", s.handleServers)
	mux.Handle("/tools/call", s.auth(s.hub.Omega().Middleware(governed)))
	mux.Handle("/tools", s.auth(s.hub.Omega().Middleware(governed)))
	mux.Handle("/servers", s.auth(s.hub.Omega().Middleware(governed)))

	// The WS leg authenticates at upgrade time; per-message governance
	// happens inside the session loop.
	if s.cfg.WSPath != "" {
		mux.Handle(s.cfg.WSPath, s.auth(http.HandlerFunc(s.ws.serve)))
	}

	// Streamable-HTTP MCP for clients that speak the official transport.
	// Tool calls still route through the governed dispatcher: the MCP
	// server's handlers all call hub.Dispatch.
	if s.cfg.MCPPath != "" {
		mux.Handle(s.cfg.MCPPath, s.auth(mcpserver.NewStreamableHTTPServer(s.hub.MCPServer())))
	}

	return mux
}

// auth enforces the opaque bearer check when a token is configured.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.BearerToken != "" {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") || strings.TrimPrefix(header, "Bearer ") != s.cfg.BearerToken {
				writeError(w, r, http.StatusUnauthorized, "invalid or missing bearer token", nil)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type dependencyHealth struct {
	Healthy bool   `json:"healthy"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	ctx, cancel := contextWithProbeTimeout(r, s.cfg.ProbeTimeout)
	defer cancel()

	deps := map[string]dependencyHealth{}

	gh := s.hub.Store().Health(ctx)
	deps["graph"] = dependencyHealth{Healthy: gh.Healthy, Reason: gh.Reason}

	mh := dependencyHealth{Healthy: true}
	if _, err := s.hub.Router().List(ctx, false); err != nil {
		mh = dependencyHealth{Healthy: false, Reason: err.Error()}
	}
	deps["model"] = mh

	status := "healthy"
	code := http.StatusOK
	for _, d := range deps {
		if !d.Healthy {
			status = "degraded"
			code = http.StatusServiceUnavailable
			break
		}
	}

	writeJSON(w, code, map[string]any{
		"status":           status,
		"timestamp":        governance.Stamp(),
		"uptime":           time.Since(s.start).String(),
		"dependencies":     deps,
		"response_time_ms": time.Since(started).Milliseconds(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type toolsCallRequest struct {
	Server    string         `json:"server"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) handleToolsCall(w http.ResponseWriter, r *http.Request) {
	var req toolsCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "request body must be JSON {server, tool, arguments}", nil)
		return
	}
	if req.Tool == "" {
		writeError(w, r, http.StatusBadRequest, "tool is required", nil)
		return
	}

	res := s.hub.Dispatch(r.Context(), req.Server, req.Tool, req.Arguments)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleToolsList(w http.ResponseWriter, r *http.Request) {
	server := r.URL.Query().Get("server")
	defs, err := s.hub.Dispatcher().ToolsList(server)
	if err != nil {
		writeError(w, r, errs.HTTPStatus(errs.KindOf(err)), err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": defs})
}

func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithProbeTimeout(r, s.cfg.ProbeTimeout)
	defer cancel()
	s.hub.Registry().Probe(ctx)
	writeJSON(w, http.StatusOK, map[string]any{"servers": s.hub.Registry().Snapshot()})
}

func contextWithProbeTimeout(r *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(r.Context(), timeout)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// writeError renders the uniform HTTP error body.
func writeError(w http.ResponseWriter, r *http.Request, code int, message string, details map[string]any) {
	body := map[string]any{
		"message":   message,
		"timestamp": governance.Stamp(),
		"path":      r.URL.Path,
	}
	if len(details) > 0 {
		body["details"] = details
	}
	writeJSON(w, code, map[string]any{"error": body})
}
