// Package tools holds the tool registry: a single mapping from tool name
// to the executor that owns it, fed by built-in functions and by every
// Ready plugin.
package tools

import (
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Redaction records how many matches of one sensitive-data pattern were
// replaced in a result.
type Redaction struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Result is the outcome of a tool invocation.
type Result struct {
	// Text is the concatenated text content of the result.
	Text string `json:"text,omitempty"`

	// Command is set when the tool returned a shell command for the
	// caller to run. Such a result must pass the command blocklist.
	Command string `json:"command,omitempty"`

	// Structured is the tool's structured content, if any.
	Structured any `json:"structured,omitempty"`

	// IsError reports a tool-level failure. The call itself succeeded.
	IsError bool `json:"is_error,omitempty"`

	// Redactions lists the sensitive-data replacements made in Text and
	// Structured before the result left the host.
	Redactions []Redaction `json:"redactions,omitempty"`
}

// Redacted reports whether anything was removed from the result.
func (r *Result) Redacted() bool {
	return len(r.Redactions) > 0
}

// Text builds a plain text result.
func Text(s string) *Result {
	return &Result{Text: s}
}

// FromCallToolResult converts an MCP tools/call result. Text content items
// are joined with newlines; a structured object with a string "command"
// field marks the result as a shell command.
func FromCallToolResult(r *mcp.CallToolResult) *Result {
	if r == nil {
		return &Result{}
	}
	out := &Result{IsError: r.IsError}

	var parts []string
	for _, c := range r.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}
	out.Text = strings.Join(parts, "\n")

	if r.StructuredContent != nil {
		out.Structured = normalizeStructured(r.StructuredContent)
		if obj, ok := out.Structured.(map[string]any); ok {
			if cmd, ok := obj["command"].(string); ok {
				out.Command = cmd
			}
		}
	}
	return out
}

// ToCallToolResult converts a Result back into MCP form for callers that
// speak MCP themselves.
func (r *Result) ToCallToolResult() *mcp.CallToolResult {
	out := &mcp.CallToolResult{IsError: r.IsError}
	if r.Text != "" {
		out.Content = append(out.Content, mcp.NewTextContent(r.Text))
	}
	if r.Structured != nil {
		out.StructuredContent = r.Structured
	}
	if out.Content == nil {
		out.Content = []mcp.Content{}
	}
	return out
}

// normalizeStructured turns arbitrary Go values into the generic
// map/slice/string/float64 form produced by encoding/json.
func normalizeStructured(v any) any {
	switch v.(type) {
	case map[string]any, []any, string, float64, bool, nil:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
