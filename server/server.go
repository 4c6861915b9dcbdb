// Package server implements the MCP server that fronts the plugin host:
// every tool in the host's registry, built-in or plugin-provided, is
// offered to an MCP client over stdio, and calls are dispatched through
// the host so sandboxing and safety post-processing always apply.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/nox-hq/warden/plugin"
	"github.com/nox-hq/warden/tools"
)

const (
	// maxOutputBytes is the maximum text size of one tool result before
	// truncation (1 MB).
	maxOutputBytes = 1 << 20
)

// Host is the part of plugin.Host the server needs.
type Host interface {
	Tools() []tools.Entry
	Dispatch(ctx context.Context, name string, args map[string]any) (*tools.Result, error)
	Plugins() []plugin.PluginInfo
	Violations() []plugin.RuntimeViolation
	Telemetry() []plugin.PluginTelemetry
}

// Server is the warden MCP server.
type Server struct {
	host    Host
	version string
	srv     *mcpserver.MCPServer
	logger  *slog.Logger

	// mu serializes Sync; exposed is the set of tool names currently
	// offered to clients.
	mu      sync.Mutex
	exposed map[string]struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a server over host and offers the host's current tools.
// Call Sync whenever the host's tools change.
func New(host Host, version string, opts ...Option) *Server {
	s := &Server{
		host:    host,
		version: version,
		logger:  slog.Default(),
		exposed: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.srv = mcpserver.NewMCPServer(
		"warden",
		version,
		mcpserver.WithRecovery(),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(false, false),
	)
	s.registerResources()
	s.Sync()
	return s
}

// Sync makes the offered tools match the host's registry. Connected
// clients are sent a tools/list_changed notification.
func (s *Server) Sync() {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.host.Tools()
	want := make(map[string]struct{}, len(entries))
	add := make([]mcpserver.ServerTool, 0, len(entries))
	for _, e := range entries {
		want[e.Tool.Name] = struct{}{}
		add = append(add, mcpserver.ServerTool{Tool: mcpTool(e), Handler: s.handleCall})
	}

	var stale []string
	for name := range s.exposed {
		if _, ok := want[name]; !ok {
			stale = append(stale, name)
		}
	}
	if len(stale) > 0 {
		s.srv.DeleteTools(stale...)
	}
	if len(add) > 0 {
		s.srv.AddTools(add...)
	}
	s.exposed = want
	s.logger.Debug("tools synced", "offered", len(want), "removed", len(stale))
}

// Serve speaks MCP over r and w until ctx is done or the client closes
// its side. A cancelled context is a clean shutdown.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	stdio := mcpserver.NewStdioServer(s.srv)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	err := stdio.Listen(ctx, r, w)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ServeStdio serves on the process's stdin and stdout.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

func mcpTool(e tools.Entry) mcp.Tool {
	schema := e.Tool.InputSchema
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}
	t := mcp.NewToolWithRawSchema(e.Tool.Name, e.Tool.Description, schema)
	if e.Builtin() {
		t.Annotations.ReadOnlyHint = mcp.ToBoolPtr(true)
		t.Annotations.OpenWorldHint = mcp.ToBoolPtr(false)
	}
	return t
}

func (s *Server) handleCall(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := request.Params.Name
	args := request.GetArguments()
	if args == nil {
		args = map[string]any{}
	}

	res, err := s.host.Dispatch(ctx, name, args)
	if err != nil {
		s.logger.Warn("tool call failed", "tool", name, "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	if res.Redacted() {
		s.logger.Info("tool result redacted", "tool", name, "redactions", len(res.Redactions))
	}
	out := res.ToCallToolResult()
	for i, c := range out.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			out.Content[i] = mcp.NewTextContent(truncate(tc.Text))
		}
	}
	return out, nil
}

// truncate limits output to maxOutputBytes, appending a truncation notice if needed.
func truncate(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes] + "\n... [truncated: output exceeded 1MB limit]"
}
