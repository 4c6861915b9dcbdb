package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nox-hq/warden/plugin"
)

// Resource URIs for the host's status views.
const (
	PluginsURI    = "warden://plugins"
	ViolationsURI = "warden://violations"
	TelemetryURI  = "warden://telemetry"
)

// JSON serialization types for clean output.

type pluginJSON struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Risk    string   `json:"risk"`
	Sandbox string   `json:"sandbox"`
	State   string   `json:"state"`
	Pid     int      `json:"pid,omitempty"`
	Tools   []string `json:"tools"`
}

type violationJSON struct {
	Type      string    `json:"type"`
	PluginID  string    `json:"plugin_id"`
	Message   string    `json:"message"`
	Fatal     bool      `json:"fatal"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) registerResources() {
	s.srv.AddResource(
		mcp.NewResource(PluginsURI, "Running plugins",
			mcp.WithResourceDescription("Plugins currently loaded, with their risk level, sandbox and tools"),
			mcp.WithMIMEType("application/json"),
		),
		s.jsonResource(func() (any, error) { return serializePlugins(s.host.Plugins()), nil }),
	)

	s.srv.AddResource(
		mcp.NewResource(ViolationsURI, "Runtime violations",
			mcp.WithResourceDescription("Rate limit, bandwidth, blocked command, redaction and protocol fault events"),
			mcp.WithMIMEType("application/json"),
		),
		s.jsonResource(func() (any, error) { return serializeViolations(s.host.Violations()), nil }),
	)

	s.srv.AddResource(
		mcp.NewResource(TelemetryURI, "Plugin telemetry",
			mcp.WithResourceDescription("Per-plugin call counts, durations and bytes returned"),
			mcp.WithMIMEType("application/json"),
		),
		s.jsonResource(func() (any, error) { return s.host.Telemetry(), nil }),
	)
}

func (s *Server) jsonResource(fn func() (any, error)) func(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return func(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		v, err := fn()
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", request.Params.URI, err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      request.Params.URI,
				MIMEType: "application/json",
				Text:     truncate(string(data)),
			},
		}, nil
	}
}

// serializePlugins converts plugin info to clean JSON values.
func serializePlugins(plugins []plugin.PluginInfo) []pluginJSON {
	out := make([]pluginJSON, len(plugins))
	for i, p := range plugins {
		pj := pluginJSON{
			ID:      p.ID,
			Name:    p.Name,
			Version: p.Version,
			Risk:    p.Risk.String(),
			Sandbox: p.Sandbox.String(),
			State:   p.State.String(),
			Pid:     p.Pid,
			Tools:   make([]string, 0, len(p.Tools)),
		}
		for _, t := range p.Tools {
			pj.Tools = append(pj.Tools, t.Name)
		}
		out[i] = pj
	}
	return out
}

func serializeViolations(violations []plugin.RuntimeViolation) []violationJSON {
	out := make([]violationJSON, len(violations))
	for i, v := range violations {
		out[i] = violationJSON{
			Type:      string(v.Type),
			PluginID:  v.PluginID,
			Message:   v.Message,
			Fatal:     v.Fatal(),
			Timestamp: v.Timestamp,
		}
	}
	return out
}
