package mcpserver

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/RobinCoderZhao/mlit-dpf-mcp/pkg/apperr"
)

type callIDKey struct{}

// WithCallID returns ctx carrying id as the call identifier.
func WithCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callIDKey{}, id)
}

// CallID returns the identifier assigned by LoggingMiddleware, or "".
func CallID(ctx context.Context) string {
	id, _ := ctx.Value(callIDKey{}).(string)
	return id
}

// ToolName returns the tool named by a tools/call request, or "".
func ToolName(req *JSONRPCRequest) string {
	if req.Method != "tools/call" {
		return ""
	}
	var call ToolCallParams
	if err := decodeParams(req.Params, &call); err != nil {
		return ""
	}
	return call.Name
}

// LoggingMiddleware logs all incoming requests and their results. Every
// request gets a call_id that later middleware and tools can read with CallID.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *JSONRPCRequest) *JSONRPCResponse {
			callID := CallID(ctx)
			if callID == "" {
				callID = uuid.NewString()
				ctx = WithCallID(ctx, callID)
			}
			attrs := []any{"method", req.Method, "id", req.ID, "call_id", callID}
			if tool := ToolName(req); tool != "" {
				attrs = append(attrs, "tool", tool)
			}
			logger.Info("mcp request", attrs...)

			start := time.Now()
			resp := next(ctx, req)
			attrs = append(attrs, "duration", time.Since(start))

			switch {
			case resp == nil:
			case resp.Error != nil:
				logger.Error("mcp error", append(attrs, "code", resp.Error.Code, "message", resp.Error.Message)...)
			default:
				if result, ok := resp.Result.(*ToolCallResult); ok && result.IsError {
					logger.Warn("tool call failed", append(attrs, "kind", result.ErrorKind())...)
				}
			}
			return resp
		}
	}
}

// RecoveryMiddleware catches panics. A panicking tool call becomes an
// internal error result; any other request becomes a JSON-RPC error.
func RecoveryMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *JSONRPCRequest) (resp *JSONRPCResponse) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("panic in MCP handler", "method", req.Method, "panic", r, "stack", string(debug.Stack()))
					if req.Method == "tools/call" {
						resp = &JSONRPCResponse{
							JSONRPC: "2.0",
							ID:      req.ID,
							Result:  ErrorResult(apperr.New(apperr.KindInternal, "internal error: %v", r)),
						}
						return
					}
					resp = errorResponse(req.ID, CodeInternalError, "Internal error")
				}
			}()
			return next(ctx, req)
		}
	}
}
