package sdk

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// ToolRequest is one tools/call as seen by a plugin handler. Arguments
// have already been validated by the host against the tool's declared
// input schema.
type ToolRequest struct {
	ToolName  string
	Arguments map[string]any
}

// String returns a required string argument.
func (r ToolRequest) String(key string) (string, error) {
	v, ok := r.Arguments[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q is %T, not a string", key, v)
	}
	return s, nil
}

// StringOr returns an optional string argument, or def when it is absent.
func (r ToolRequest) StringOr(key, def string) string {
	if s, ok := r.Arguments[key].(string); ok {
		return s
	}
	return def
}

// ToolHandler is the function signature plugin authors implement per tool.
type ToolHandler func(ctx context.Context, req ToolRequest) (*mcp.CallToolResult, error)

// requestFromMCP converts an mcp-go call request into a ToolRequest.
func requestFromMCP(req mcp.CallToolRequest) ToolRequest {
	args := req.GetArguments()
	if args == nil {
		args = make(map[string]any)
	}
	return ToolRequest{
		ToolName:  req.Params.Name,
		Arguments: args,
	}
}
