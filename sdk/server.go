// Package sdk lets plugin authors write warden plugins in Go. A plugin is
// a manifest plus one handler per declared tool, served as an MCP server
// over the process's stdin and stdout.
package sdk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nox-hq/warden/manifest"
)

// Plugin serves the tools declared in a manifest.
type Plugin struct {
	manifest *manifest.Manifest
	tools    map[string]ToolHandler
	errLog   *log.Logger
}

// NewPlugin creates a Plugin for the given manifest.
func NewPlugin(m *manifest.Manifest) *Plugin {
	return &Plugin{
		manifest: m,
		tools:    make(map[string]ToolHandler),
		errLog:   log.New(os.Stderr, m.ID+": ", log.LstdFlags),
	}
}

// LoadManifest reads plugin.json from the working directory. The host
// starts every plugin with its plugin directory as working directory.
func LoadManifest() (*manifest.Manifest, error) {
	return manifest.Load(".")
}

// HandleTool registers a handler for the named tool. Returns the plugin
// for chaining.
func (p *Plugin) HandleTool(name string, handler ToolHandler) *Plugin {
	p.tools[name] = handler
	return p
}

// Manifest returns the plugin's manifest.
func (p *Plugin) Manifest() *manifest.Manifest {
	return p.manifest
}

// MCPServer builds the MCP server for the plugin. Every declared tool must
// have a handler; handlers for undeclared tools are an error too, since
// the host would never route to them.
func (p *Plugin) MCPServer() (*server.MCPServer, error) {
	declared := make(map[string]bool, len(p.manifest.Tools))
	var errs []error
	for _, t := range p.manifest.Tools {
		declared[t.Name] = true
		if _, ok := p.tools[t.Name]; !ok {
			errs = append(errs, fmt.Errorf("declared tool %q has no handler", t.Name))
		}
	}
	for name := range p.tools {
		if !declared[name] {
			errs = append(errs, fmt.Errorf("handler for undeclared tool %q", name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("sdk: %w", err)
	}

	srv := server.NewMCPServer(p.manifest.ID, p.manifest.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	for _, t := range p.manifest.Tools {
		schema := t.InputSchema
		if len(schema) == 0 {
			schema = []byte(`{"type":"object"}`)
		}
		handler := p.tools[t.Name]
		srv.AddTool(mcp.NewToolWithRawSchema(t.Name, t.Description, schema),
			func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return handler(ctx, requestFromMCP(req))
			})
	}
	return srv, nil
}

// ServeIO serves the plugin over r and w until r is exhausted or ctx is
// cancelled.
func (p *Plugin) ServeIO(ctx context.Context, r io.Reader, w io.Writer) error {
	srv, err := p.MCPServer()
	if err != nil {
		return err
	}
	stdio := server.NewStdioServer(srv)
	stdio.SetErrorLogger(p.errLog)

	err = stdio.Listen(ctx, r, w)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Serve serves the plugin over stdin and stdout and blocks until the host
// closes stdin, ctx is cancelled, or a shutdown signal is received.
// Anything the plugin logs must go to stderr; stdout carries the protocol.
func (p *Plugin) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()
	return p.ServeIO(ctx, os.Stdin, os.Stdout)
}
