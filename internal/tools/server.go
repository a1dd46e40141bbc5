package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"IntentMCP/internal/auth"
	xerrors "IntentMCP/internal/errors"
	"IntentMCP/internal/observability/metrics"
	"IntentMCP/pkg/logger"
)

// protocolVersion is the MCP protocol revision the server speaks.
const protocolVersion = "2024-11-05"

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// Server exposes the tool service over an MCP-compatible JSON-RPC surface.
type Server struct {
	addr    string
	service *Service
	auth    *auth.Service
	name    string
	version string
	log     *slog.Logger
}

// NewServer builds the JSON-RPC server.
func NewServer(addr string, service *Service, authService *auth.Service, name, version string) (*Server, error) {
	if service == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "server requires a tool service")
	}
	if name == "" {
		name = "intentmcp"
	}
	if version == "" {
		version = "dev"
	}
	return &Server{
		addr:    addr,
		service: service,
		auth:    authService,
		name:    name,
		version: version,
		log:     logger.Named("tools"),
	}, nil
}

// Handler assembles the HTTP routes. The RPC endpoint sits behind the auth
// middleware; health, info and metrics are open.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	rpc := http.Handler(http.HandlerFunc(s.handleRPC))
	if s.auth != nil {
		rpc = s.auth.Middleware("rpc")(rpc)
	}
	mux.Handle("/rpc", rpc)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/", s.handleInfo)
	return mux
}

// Start serves until the context is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPC(w, rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: codeParseError, Message: "parse error"},
		})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeRPC(w, rpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &rpcError{Code: codeInvalidRequest, Message: "invalid request"},
		})
		return
	}

	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	switch req.Method {
	case "initialize":
		resp.Result = map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": s.name, "version": s.version},
		}
	case "notifications/initialized":
		// Notification, no response body required beyond an empty result.
		resp.Result = map[string]any{}
	case "tools/list":
		resp.Result = map[string]any{"tools": Catalogue()}
	case "tools/call":
		resp = s.handleToolCall(r.Context(), req)
	default:
		resp.Error = &rpcError{Code: codeMethodNotFound, Message: "method not found: " + req.Method}
	}
	writeRPC(w, resp)
}

func (s *Server) handleToolCall(ctx context.Context, req rpcRequest) rpcResponse {
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}

	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		resp.Error = &rpcError{Code: codeInvalidParams, Message: "tools/call requires a tool name"}
		return resp
	}

	result, err := s.service.Call(ctx, params.Name, params.Arguments)
	if err != nil {
		resp.Result = toolErrorResult(result, err)
		return resp
	}
	resp.Result = toolResult(result)
	return resp
}

// toolResult renders the structured payload into the MCP content shape.
func toolResult(payload any) map[string]any {
	text, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		text = []byte(`{}`)
	}
	return map[string]any{
		"content":           []map[string]any{{"type": "text", "text": string(text)}},
		"structuredContent": payload,
	}
}

// toolErrorResult keeps domain failures inside the tool result so agents see
// the error taxonomy instead of a bare JSON-RPC fault. The partial payload,
// when present, carries the persisted record after a failed submission.
func toolErrorResult(partial any, err error) map[string]any {
	detail := map[string]any{
		"code":      string(xerrors.CodeOf(err)),
		"message":   err.Error(),
		"retryable": xerrors.RetryableError(err),
	}
	if e, ok := xerrors.From(err); ok {
		if meta := e.Metadata(); len(meta) > 0 {
			detail["metadata"] = meta
		}
	}
	structured := map[string]any{"error": detail}
	if partial != nil {
		if m, ok := partial.(map[string]any); ok {
			for k, v := range m {
				structured[k] = v
			}
		}
	}
	text, marshalErr := json.MarshalIndent(structured, "", "  ")
	if marshalErr != nil {
		text = []byte(`{}`)
	}
	return map[string]any{
		"content":           []map[string]any{{"type": "text", "text": string(text)}},
		"structuredContent": structured,
		"isError":           true,
	}
}

func writeRPC(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Named("tools").Error("write rpc response failed", slog.Any("error", err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "version": s.version})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"name":            s.name,
		"version":         s.version,
		"protocolVersion": protocolVersion,
		"endpoints":       []string{"/rpc", "/health", "/metrics"},
	})
}
