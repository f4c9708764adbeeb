package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cortexhub/cortexhub/internal/hub"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsReadLimit    = 4 << 20 // 4 MiB per frame
)

// wsHandler upgrades connections and speaks JSON-RPC 2.0 over them,
// one message per frame. Each connection is an independent session:
// requests on one connection never block another.
type wsHandler struct {
	hub      *hub.Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func newWSHandler(h *hub.Hub, logger *slog.Logger) *wsHandler {
	return &wsHandler{
		hub:    h,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Bearer auth already ran; local clients connect without an Origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

type wsRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type wsResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
}

const (
	wsParseError     = -32700
	wsInvalidRequest = -32600
	wsMethodNotFound = -32601
	wsInvalidParams  = -32602
)

func (h *wsHandler) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn("ws upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	h.logger.Info("ws session opened", "remote", r.RemoteAddr)
	defer h.logger.Info("ws session closed", "remote", r.RemoteAddr)

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	// One writer at a time: the ping loop and request handlers share
	// the connection.
	var writeMu sync.Mutex
	write := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(v)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				writeMu.Lock()
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("ws read error", "remote", r.RemoteAddr, "error", err)
			}
			return
		}

		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			write(wsResponse{JSONRPC: "2.0", Error: &wsError{Code: wsParseError, Message: "invalid JSON"}})
			continue
		}
		if req.Method == "" {
			write(wsResponse{JSONRPC: "2.0", ID: req.ID, Error: &wsError{Code: wsInvalidRequest, Message: "method is required"}})
			continue
		}

		resp := h.handle(ctx, req)
		if resp == nil {
			// Notification: no id, no response.
			continue
		}
		if err := write(resp); err != nil {
			return
		}
	}
}

func (h *wsHandler) handle(ctx context.Context, req wsRequest) *wsResponse {
	if len(req.ID) == 0 || string(req.ID) == "null" {
		// Notifications carry no response channel. The only one the
		// protocol sends today is notifications/initialized.
		return nil
	}

	resp := &wsResponse{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "initialize":
		resp.Result = map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities": map[string]any{
				"tools":     map[string]any{},
				"resources": map[string]any{},
			},
			"serverInfo": map[string]any{
				"name":    "cortexhub",
				"version": hub.Version,
			},
		}

	case "ping":
		resp.Result = map[string]any{}

	case "tools/list":
		var params struct {
			Server string `json:"server"`
		}
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				resp.Error = &wsError{Code: wsInvalidParams, Message: err.Error()}
				return resp
			}
		}
		defs, err := h.hub.Dispatcher().ToolsList(params.Server)
		if err != nil {
			resp.Error = &wsError{Code: wsInvalidParams, Message: err.Error()}
			return resp
		}
		resp.Result = map[string]any{"tools": defs}

	case "tools/call":
		var params struct {
			Server    string         `json:"server"`
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp.Error = &wsError{Code: wsInvalidParams, Message: "params must be {name, arguments}"}
			return resp
		}
		if params.Name == "" {
			resp.Error = &wsError{Code: wsInvalidParams, Message: "name is required"}
			return resp
		}
		resp.Result = h.hub.Dispatch(ctx, params.Server, params.Name, params.Arguments)

	case "resources/list":
		resp.Result = map[string]any{"resources": h.hub.Dispatcher().ResourcesList()}

	case "resources/read":
		var params struct {
			URI string `json:"uri"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
			resp.Error = &wsError{Code: wsInvalidParams, Message: "params must be {uri}"}
			return resp
		}
		contents, err := h.hub.Dispatcher().ResourcesRead(ctx, params.URI)
		if err != nil {
			resp.Error = &wsError{Code: wsInvalidParams, Message: err.Error()}
			return resp
		}
		resp.Result = map[string]any{"contents": []any{contents}}

	default:
		resp.Error = &wsError{Code: wsMethodNotFound, Message: "method not supported: " + req.Method}
	}

	return resp
}
