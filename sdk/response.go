package sdk

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// Text returns a plain text tool result.
func Text(s string) *mcp.CallToolResult {
	return mcp.NewToolResultText(s)
}

// Textf returns a formatted text tool result.
func Textf(format string, args ...any) *mcp.CallToolResult {
	return mcp.NewToolResultText(fmt.Sprintf(format, args...))
}

// Error returns a tool-level failure. The call itself succeeds; the host
// delivers the result with its error flag set.
func Error(msg string) *mcp.CallToolResult {
	return mcp.NewToolResultError(msg)
}

// Errorf returns a formatted tool-level failure.
func Errorf(format string, args ...any) *mcp.CallToolResult {
	return mcp.NewToolResultErrorf(format, args...)
}

// Structured returns a result carrying structured content, with fallback
// text for clients that only read text.
func Structured(v any, fallback string) *mcp.CallToolResult {
	return mcp.NewToolResultStructured(v, fallback)
}

// CommandResult returns a shell command for the caller to run. The host
// checks the command against its blocklist before anyone sees it; a
// blocked command never reaches the user.
func CommandResult(command, explanation string) *mcp.CallToolResult {
	fallback := command
	if explanation != "" {
		fallback = explanation + "\n" + command
	}
	return mcp.NewToolResultStructured(map[string]any{
		"command":     command,
		"explanation": explanation,
	}, fallback)
}
