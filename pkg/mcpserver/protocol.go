package mcpserver

import (
	"bytes"
	"encoding/json"

	"github.com/RobinCoderZhao/mlit-dpf-mcp/pkg/apperr"
)

// JSON-RPC 2.0 protocol types

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// JSONRPCRequest represents a JSON-RPC 2.0 request. A request without an ID
// is a notification and gets no response.
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func errorResponse(id any, code int, message string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &RPCError{Code: code, Message: message},
	}
}

// MCP protocol types

// InitializeResult is the response to an initialize request.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
	SessionID       string             `json:"sessionId,omitempty"`
}

// ServerCapabilities describes the server's supported features.
type ServerCapabilities struct {
	Tools ToolsCapability `json:"tools"`
}

// ToolsCapability describes the tools capability.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ServerInfo describes the server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolDef represents a tool definition for listing.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`

	// Category is local metadata and is not part of the protocol.
	Category string `json:"-"`
}

// ToolsListResult is the result of a tools/list request.
type ToolsListResult struct {
	Tools []ToolDef `json:"tools"`
}

// ToolCallResult is the standard result from executing a tool.
type ToolCallResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content represents a piece of tool output.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Data any    `json:"data,omitempty"`
}

// ErrorPayload is the JSON body of a failed tool call.
type ErrorPayload struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error kind and a human-readable message.
type ErrorDetail struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

// MarshalCompact encodes v as compact JSON without HTML escaping, so
// non-ASCII text and characters such as '&' stay readable.
func MarshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// SuccessResult creates a successful ToolCallResult from any data.
func SuccessResult(data any) *ToolCallResult {
	dataJSON, err := MarshalCompact(data)
	if err != nil {
		return ErrorResult(apperr.Wrap(apperr.KindInternal, "encode result", err))
	}
	return &ToolCallResult{
		Content: []Content{{Type: "text", Text: string(dataJSON)}},
	}
}

// TextResult creates a ToolCallResult with a plain text message.
func TextResult(text string) *ToolCallResult {
	return &ToolCallResult{
		Content: []Content{{Type: "text", Text: text}},
	}
}

// ErrorResult creates an error ToolCallResult whose text is an ErrorPayload.
func ErrorResult(err error) *ToolCallResult {
	payload := ErrorPayload{Error: ErrorDetail{Kind: apperr.KindOf(err), Message: err.Error()}}
	text, mErr := MarshalCompact(payload)
	if mErr != nil {
		text = []byte(err.Error())
	}
	return &ToolCallResult{
		Content: []Content{{Type: "text", Text: string(text)}},
		IsError: true,
	}
}

// ErrorKind returns the kind recorded in an error result, or "" for a
// successful one.
func (r *ToolCallResult) ErrorKind() apperr.Kind {
	if r == nil || !r.IsError || len(r.Content) == 0 {
		return ""
	}
	var payload ErrorPayload
	if err := json.Unmarshal([]byte(r.Content[0].Text), &payload); err != nil || payload.Error.Kind == "" {
		return apperr.KindInternal
	}
	return payload.Error.Kind
}
