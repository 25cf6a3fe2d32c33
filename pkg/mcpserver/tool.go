package mcpserver

import "context"

// ToolHandler is the interface for MCP tools.
type ToolHandler interface {
	// Name returns the unique tool name.
	Name() string

	// Description returns a human-readable description.
	Description() string

	// InputSchema returns the JSON Schema for the tool's input.
	InputSchema() map[string]any

	// Execute runs the tool with the given arguments. ctx is cancelled when
	// the client cancels the call or disconnects.
	Execute(ctx context.Context, args map[string]any) (*ToolCallResult, error)
}

// BaseTool provides a base implementation for common tool fields.
// Embed this in your tool structs and implement Execute().
type BaseTool struct {
	ToolName        string
	ToolDescription string
	ToolSchema      map[string]any

	// Category groups tools in listings.
	Category string
}

func (t *BaseTool) Name() string                { return t.ToolName }
func (t *BaseTool) Description() string         { return t.ToolDescription }
func (t *BaseTool) InputSchema() map[string]any { return t.ToolSchema }
func (t *BaseTool) ToolCategory() string        { return t.Category }

// categorized is implemented by tools that embed BaseTool.
type categorized interface {
	ToolCategory() string
}

// CategoryOf returns the tool's category, or "" when it has none.
func CategoryOf(h ToolHandler) string {
	if c, ok := h.(categorized); ok {
		return c.ToolCategory()
	}
	return ""
}

// Middleware is a function that wraps a request handler.
type Middleware func(next HandlerFunc) HandlerFunc

// HandlerFunc is a function that handles a JSON-RPC request.
type HandlerFunc func(ctx context.Context, req *JSONRPCRequest) *JSONRPCResponse
