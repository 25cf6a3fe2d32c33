package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/RobinCoderZhao/mlit-dpf-mcp/pkg/apperr"
)

// maxRequestBytes bounds an HTTP request body.
const maxRequestBytes = 1 << 20

// shutdownTimeout bounds graceful shutdown of the HTTP transport.
const shutdownTimeout = 5 * time.Second

// HTTPServer wraps the MCP Server to serve over HTTP with SSE support.
type HTTPServer struct {
	server *Server
	addr   string
	auth   *BearerAuth
	logger *slog.Logger
}

// NewHTTPServer creates an HTTP transport for s. auth may be nil to serve
// without authentication.
func (s *Server) NewHTTPServer(addr string, auth *BearerAuth) *HTTPServer {
	return &HTTPServer{
		server: s,
		addr:   addr,
		auth:   auth,
		logger: s.logger,
	}
}

// RunHTTP serves the MCP server on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) RunHTTP(ctx context.Context, addr string, auth *BearerAuth) error {
	return s.NewHTTPServer(addr, auth).ListenAndServe(ctx)
}

// Handler returns the HTTP routes.
func (hs *HTTPServer) Handler() http.Handler {
	api := http.NewServeMux()

	// MCP protocol endpoint (JSON-RPC 2.0)
	api.HandleFunc("POST /mcp", hs.handleMCPRequest)

	// RESTful endpoints
	api.HandleFunc("GET /api/tools", hs.handleToolsList)
	api.HandleFunc("POST /api/tools/{name}", hs.handleToolCall)

	var protected http.Handler = api
	if hs.auth != nil {
		protected = hs.auth.Require(api)
	}

	mux := http.NewServeMux()
	mux.Handle("/", protected)
	// Health check
	mux.HandleFunc("GET /health", hs.handleHealth)

	return hs.corsMiddleware(mux)
}

// ListenAndServe starts the HTTP server and blocks until ctx is done or the
// listener fails.
func (hs *HTTPServer) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              hs.addr,
		Handler:           hs.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		hs.logger.Info("starting HTTP server", "addr", hs.addr, "tools", len(hs.server.tools), "auth", hs.auth != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	hs.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func (hs *HTTPServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Mcp-Session-Id")
		w.Header().Set("Access-Control-Expose-Headers", "Mcp-Session-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (hs *HTTPServer) handleMCPRequest(w http.ResponseWriter, r *http.Request) {
	var req JSONRPCRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		hs.writeError(w, CodeParseError, "Parse error")
		return
	}

	// Validate session for non-initialize requests
	if req.Method != "initialize" {
		sessionID := r.Header.Get("Mcp-Session-Id")
		if sessionID == "" || !hs.server.CheckSession(sessionID) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
	}

	resp := hs.server.HandleRequest(r.Context(), &req)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	// Set session ID header for initialize response
	if req.Method == "initialize" && resp.Error == nil {
		if result, ok := resp.Result.(*InitializeResult); ok && result.SessionID != "" {
			w.Header().Set("Mcp-Session-Id", result.SessionID)
		}
	}

	// Choose response format based on Accept header
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		hs.sendSSE(w, resp)
	} else {
		hs.sendJSON(w, http.StatusOK, resp)
	}
}

func (hs *HTTPServer) sendJSON(w http.ResponseWriter, status int, v any) {
	body, err := MarshalCompact(v)
	if err != nil {
		hs.logger.Error("encode response", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
	w.Write([]byte("\n"))
}

func (hs *HTTPServer) sendSSE(w http.ResponseWriter, resp *JSONRPCResponse) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		hs.sendJSON(w, http.StatusOK, resp)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	respBytes, err := MarshalCompact(resp)
	if err != nil {
		hs.logger.Error("encode response", "error", err)
		return
	}
	fmt.Fprintf(w, "event: message\ndata: %s\n\n", respBytes)
	flusher.Flush()
}

func (hs *HTTPServer) handleToolsList(w http.ResponseWriter, r *http.Request) {
	hs.sendJSON(w, http.StatusOK, hs.server.handleToolsList())
}

func (hs *HTTPServer) handleToolCall(w http.ResponseWriter, r *http.Request) {
	toolName := r.PathValue("name")
	if toolName == "" {
		http.Error(w, "Tool name required", http.StatusBadRequest)
		return
	}

	args := map[string]any{}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.UseNumber()
	if err := dec.Decode(&args); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result := hs.server.CallTool(r.Context(), toolName, args)
	hs.sendJSON(w, statusFor(result.ErrorKind()), result)
}

// statusFor maps a tool error kind to an HTTP status for the REST endpoint.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case "":
		return http.StatusOK
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindRateLimit:
		return http.StatusTooManyRequests
	case apperr.KindTransient:
		return http.StatusServiceUnavailable
	case apperr.KindAuth, apperr.KindProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (hs *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	hs.sendJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"server":    hs.server.name,
		"version":   hs.server.version,
	})
}

func (hs *HTTPServer) writeError(w http.ResponseWriter, code int, message string) {
	hs.sendJSON(w, http.StatusOK, errorResponse(nil, code, message))
}
