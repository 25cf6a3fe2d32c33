// Package mcpserver provides a reusable MCP (Model Context Protocol) server framework.
//
// It supports stdio and HTTP transports, JSON-RPC 2.0, session management,
// middleware chains, and a clean tool registration interface.
//
// Quick Start:
//
//	server := mcpserver.New("my-server", "1.0.0")
//	server.RegisterTool(&MyTool{})
//	server.RunStdio(ctx, os.Stdin, os.Stdout) // or server.RunHTTP(ctx, ":8080", nil)
package mcpserver

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/RobinCoderZhao/mlit-dpf-mcp/pkg/apperr"
)

// ProtocolVersion is the MCP revision this server speaks.
const ProtocolVersion = "2024-11-05"

// Server is the core MCP server that manages tools and handles JSON-RPC requests.
type Server struct {
	name            string
	version         string
	protocolVersion string
	tools           map[string]ToolHandler
	sessions        map[string]time.Time
	sessionMu       sync.RWMutex
	middleware      []Middleware
	logger          *slog.Logger
}

// New creates a new MCP server with the given name and version.
func New(name, version string) *Server {
	return &Server{
		name:            name,
		version:         version,
		protocolVersion: ProtocolVersion,
		tools:           make(map[string]ToolHandler),
		sessions:        make(map[string]time.Time),
		logger:          slog.Default(),
	}
}

// SetLogger replaces the server's logger.
func (s *Server) SetLogger(l *slog.Logger) {
	s.logger = l
}

// RegisterTool adds a tool to the server.
func (s *Server) RegisterTool(tool ToolHandler) {
	s.tools[tool.Name()] = tool
	s.logger.Debug("registered tool", "name", tool.Name())
}

// RegisterTools adds multiple tools to the server.
func (s *Server) RegisterTools(tools ...ToolHandler) {
	for _, tool := range tools {
		s.RegisterTool(tool)
	}
}

// Use adds middleware to the server's processing chain.
func (s *Server) Use(mw Middleware) {
	s.middleware = append(s.middleware, mw)
}

// Tools returns the registered tool definitions sorted by name.
func (s *Server) Tools() []ToolDef {
	return s.handleToolsList().Tools
}

// CallTool runs one tool through the middleware chain, as a tools/call
// request would.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) *ToolCallResult {
	resp := s.HandleRequest(ctx, &JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      "local",
		Method:  "tools/call",
		Params:  ToolCallParams{Name: name, Arguments: args},
	})
	if resp == nil {
		return ErrorResult(apperr.New(apperr.KindInternal, "no response for tool %s", name))
	}
	if resp.Error != nil {
		return ErrorResult(apperr.New(apperr.KindInternal, "%s", resp.Error.Message))
	}
	result, ok := resp.Result.(*ToolCallResult)
	if !ok {
		return ErrorResult(apperr.New(apperr.KindInternal, "unexpected result type %T", resp.Result))
	}
	return result
}

// RunStdio serves newline-delimited JSON-RPC on in and out. Each tools/call
// runs in its own goroutine so a slow upstream request does not stall other
// calls; notifications/cancelled aborts a running call and suppresses its
// response. It returns when in is exhausted (after in-flight calls finish) or
// ctx is done.
func (s *Server) RunStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("starting MCP server (stdio)", "name", s.name, "version", s.version, "tools", len(s.tools))

	ctx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	conn := newStdioConn(out, s.logger)
	var wg sync.WaitGroup
	defer wg.Wait()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		r := bufio.NewReader(in)
		for {
			line, err := r.ReadBytes('\n')
			if len(bytes.TrimSpace(line)) > 0 {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read request: %w", err)
		case line := <-lines:
			s.serveLine(ctx, conn, &wg, line)
		}
	}
}

func (s *Server) serveLine(ctx context.Context, conn *stdioConn, wg *sync.WaitGroup, line []byte) {
	var req JSONRPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		conn.write(errorResponse(nil, CodeParseError, "Parse error"))
		return
	}

	if req.Method == "notifications/cancelled" {
		var p struct {
			RequestID any    `json:"requestId"`
			Reason    string `json:"reason"`
		}
		if err := decodeParams(req.Params, &p); err == nil && p.RequestID != nil {
			if conn.cancel(idKey(p.RequestID)) {
				s.logger.Info("tool call cancelled by client", "id", p.RequestID, "reason", p.Reason)
			}
		}
		return
	}

	if req.Method == "tools/call" && req.ID != nil {
		key := idKey(req.ID)
		callCtx, cancel := context.WithCancel(ctx)
		conn.begin(key, cancel)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cancel()
			resp := s.HandleRequest(callCtx, &req)
			if conn.end(key) {
				return
			}
			if resp != nil {
				conn.write(resp)
			}
		}()
		return
	}

	if resp := s.HandleRequest(ctx, &req); resp != nil {
		conn.write(resp)
	}
}

// stdioConn serialises writes and tracks cancellable in-flight calls.
type stdioConn struct {
	mu       sync.Mutex
	enc      *json.Encoder
	inflight map[string]context.CancelFunc
	logger   *slog.Logger
}

func newStdioConn(w io.Writer, logger *slog.Logger) *stdioConn {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &stdioConn{enc: enc, inflight: make(map[string]context.CancelFunc), logger: logger}
}

func (c *stdioConn) write(resp *JSONRPCResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enc.Encode(resp); err != nil {
		c.logger.Error("write response", "id", resp.ID, "error", err)
	}
}

func (c *stdioConn) begin(key string, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[key] = cancel
}

// end reports whether the call was cancelled by the client.
func (c *stdioConn) end(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, running := c.inflight[key]
	delete(c.inflight, key)
	return !running
}

func (c *stdioConn) cancel(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cancel, ok := c.inflight[key]
	if !ok {
		return false
	}
	delete(c.inflight, key)
	cancel()
	return true
}

func idKey(id any) string {
	return fmt.Sprint(id)
}

// HandleRequest processes a single JSON-RPC request and returns a response.
// Notifications return nil.
func (s *Server) HandleRequest(ctx context.Context, req *JSONRPCRequest) *JSONRPCResponse {
	// Apply middleware chain
	handler := s.coreHandler
	for i := len(s.middleware) - 1; i >= 0; i-- {
		handler = s.middleware[i](handler)
	}
	return handler(ctx, req)
}

func (s *Server) coreHandler(ctx context.Context, req *JSONRPCRequest) *JSONRPCResponse {
	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, CodeInvalidRequest, "Invalid request: jsonrpc must be \"2.0\"")
	}

	resp := &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
	}

	switch req.Method {
	case "initialize":
		resp.Result = s.handleInitialize(req.Params)
	case "notifications/initialized":
		s.logger.Info("client initialized")
		return nil
	case "ping":
		resp.Result = struct{}{}
	case "tools/list":
		resp.Result = s.handleToolsList()
	case "tools/call":
		var call ToolCallParams
		if err := decodeParams(req.Params, &call); err != nil || call.Name == "" {
			return errorResponse(req.ID, CodeInvalidParams, "Invalid params: tools/call requires a tool name")
		}
		resp.Result = s.handleToolCall(ctx, call)
	default:
		if req.ID == nil {
			return nil
		}
		resp.Error = &RPCError{
			Code:    CodeMethodNotFound,
			Message: fmt.Sprintf("Method not found: %s", req.Method),
		}
	}

	return resp
}

func (s *Server) handleInitialize(params any) *InitializeResult {
	return &InitializeResult{
		ProtocolVersion: s.protocolVersion,
		Capabilities: ServerCapabilities{
			Tools: ToolsCapability{ListChanged: false},
		},
		ServerInfo: ServerInfo{
			Name:    s.name,
			Version: s.version,
		},
		SessionID: s.createSession(),
	}
}

func (s *Server) handleToolsList() *ToolsListResult {
	tools := make([]ToolDef, 0, len(s.tools))
	for _, h := range s.tools {
		tools = append(tools, ToolDef{
			Name:        h.Name(),
			Description: h.Description(),
			InputSchema: h.InputSchema(),
			Category:    CategoryOf(h),
		})
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return &ToolsListResult{Tools: tools}
}

// ToolCallParams are the params of a tools/call request.
type ToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) handleToolCall(ctx context.Context, call ToolCallParams) *ToolCallResult {
	tool, ok := s.tools[call.Name]
	if !ok {
		return ErrorResult(apperr.NotFound("tool not found: %s", call.Name))
	}
	if call.Arguments == nil {
		call.Arguments = map[string]any{}
	}

	result, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		return ErrorResult(err)
	}
	if result == nil {
		return ErrorResult(apperr.New(apperr.KindInternal, "tool %s returned no result", call.Name))
	}
	return result
}

// decodeParams converts request params into v. Params decoded from the wire
// are generic maps, so they are round-tripped through JSON.
func decodeParams(params any, v any) error {
	if params == nil {
		return errors.New("missing params")
	}
	if p, ok := params.(ToolCallParams); ok {
		if out, ok := v.(*ToolCallParams); ok {
			*out = p
			return nil
		}
	}
	paramsBytes, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("parse params: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(paramsBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("unmarshal params: %w", err)
	}
	return nil
}

// Session management

func (s *Server) createSession() string {
	id := generateSessionID()
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	s.sessions[id] = time.Now()
	return id
}

// CheckSession verifies if a session ID is valid.
func (s *Server) CheckSession(id string) bool {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	_, ok := s.sessions[id]
	return ok
}

func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("sess-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
