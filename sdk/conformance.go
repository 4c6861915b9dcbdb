package sdk

import (
	"context"
	"io"
	"slices"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nox-hq/warden/manifest"
	"github.com/nox-hq/warden/protocol"
)

const conformanceTimeout = 10 * time.Second

// ConformanceOption configures RunConformance.
type ConformanceOption func(*conformanceConfig)

type conformanceConfig struct {
	samples map[string]map[string]any
	maxRisk manifest.RiskLevel
}

// WithSampleArguments makes RunConformance call tool with args and check
// the result passes the host's safety processing. Tools without sample
// arguments are only listed, never called.
func WithSampleArguments(tool string, args map[string]any) ConformanceOption {
	return func(c *conformanceConfig) { c.samples[tool] = args }
}

// WithMaxRisk fails the run when the manifest's risk level exceeds max.
func WithMaxRisk(max manifest.RiskLevel) ConformanceOption {
	return func(c *conformanceConfig) { c.maxRisk = max }
}

// RunConformance validates that a plugin honours the warden plugin
// contract by driving it with the host's own protocol client over
// in-memory pipes. It runs as a set of subtests under t.
func RunConformance(t *testing.T, p *Plugin, opts ...ConformanceOption) {
	t.Helper()

	cfg := &conformanceConfig{samples: make(map[string]map[string]any), maxRisk: manifest.RiskHigh}
	for _, opt := range opts {
		opt(cfg)
	}
	m := p.Manifest()

	t.Run("Manifest_schemas", func(t *testing.T) {
		for _, tool := range m.Tools {
			if _, err := manifest.CompileSchema(tool); err != nil {
				t.Errorf("tool %q: %v", tool.Name, err)
			}
		}
	})

	t.Run("Manifest_risk", func(t *testing.T) {
		if got := m.Risk(); got > cfg.maxRisk {
			t.Errorf("risk = %s, want at most %s", got, cfg.maxRisk)
		}
	})

	if _, err := p.MCPServer(); err != nil {
		t.Fatalf("plugin is not servable: %v", err)
	}
	client := conformanceClient(t, p)

	t.Run("Initialize_handshake", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), conformanceTimeout)
		defer cancel()
		res, err := client.Initialize(ctx)
		if err != nil {
			t.Fatalf("Initialize: %v", err)
		}
		if !slices.Contains(mcp.ValidProtocolVersions, res.ProtocolVersion) {
			t.Errorf("protocol version = %q, not supported", res.ProtocolVersion)
		}
		if res.ServerInfo.Name != m.ID {
			t.Errorf("server name = %q, want %q", res.ServerInfo.Name, m.ID)
		}
	})
	if client.State() != protocol.StateReady {
		return
	}

	t.Run("ListTools_declared", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), conformanceTimeout)
		defer cancel()
		listed, err := client.ListTools(ctx)
		if err != nil {
			t.Fatalf("ListTools: %v", err)
		}
		served := make(map[string]bool, len(listed))
		for _, rt := range listed {
			served[rt.Name] = true
		}
		for _, name := range m.ToolNames() {
			if !served[name] {
				t.Errorf("declared tool %q is not listed", name)
			}
		}
		if len(listed) != len(m.Tools) {
			t.Errorf("listed %d tools, manifest declares %d", len(listed), len(m.Tools))
		}
	})

	for _, name := range m.ToolNames() {
		args, ok := cfg.samples[name]
		if !ok {
			continue
		}
		t.Run("CallTool_sample/"+name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), conformanceTimeout)
			defer cancel()
			res, err := client.CallTool(ctx, name, args)
			if err != nil {
				t.Fatalf("CallTool(%q): %v", name, err)
			}
			if res.Redacted() {
				t.Errorf("CallTool(%q) output contained sensitive data: %v", name, res.Redactions)
			}
		})
	}

	t.Run("Client_ready_after_calls", func(t *testing.T) {
		if got := client.State(); got != protocol.StateReady {
			t.Errorf("client state = %s, want ready (err: %v)", got, client.Err())
		}
	})
}

// conformanceClient serves p on in-memory pipes and returns a host client
// connected to it.
func conformanceClient(t *testing.T, p *Plugin) *protocol.Client {
	t.Helper()

	toPluginR, toPluginW := io.Pipe()
	toHostR, toHostW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.ServeIO(ctx, toPluginR, toHostW)
		toHostW.Close()
	}()

	client := protocol.NewClient(toHostR, toPluginW, protocol.WithTools(p.Manifest().Tools))
	t.Cleanup(func() {
		client.Close()
		toPluginW.Close()
		cancel()
		toHostR.Close()
		<-done
	})
	return client
}
