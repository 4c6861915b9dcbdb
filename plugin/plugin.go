package plugin

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/nox-hq/warden/manifest"
	"github.com/nox-hq/warden/protocol"
	"github.com/nox-hq/warden/sandbox"
	"github.com/nox-hq/warden/supervisor"
)

// State represents the lifecycle state of a loaded plugin.
type State int

const (
	StateInit     State = iota // Spawned, handshake not complete.
	StateReady                 // Handshake complete, tools registered.
	StateStopping              // Shutdown in progress.
	StateStopped               // Cleanly shut down.
	StateFailed                // Faulted at runtime.
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateReady:
		return "ready"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// PluginInfo is the UI-facing summary of a Ready plugin.
type PluginInfo struct {
	ID      string
	Name    string
	Version string
	Risk    manifest.RiskLevel
	Sandbox sandbox.Kind
	Tools   []manifest.Tool
	Pid     int
	State   State
}

// Plugin is one running plugin: its sandboxed process, the protocol client
// speaking over its stdio, and the tools it serves.
type Plugin struct {
	manifest *manifest.Manifest
	kind     sandbox.Kind
	tempDir  string
	proc     *supervisor.Process
	client   *protocol.Client
	tools    []manifest.Tool
	limiter  *RateLimiter
	logger   *slog.Logger

	state State
	mu    sync.Mutex
}

// ID returns the plugin id.
func (p *Plugin) ID() string { return p.manifest.ID }

// Manifest returns the manifest the plugin was started from.
func (p *Plugin) Manifest() *manifest.Manifest { return p.manifest }

// Tools returns the tools the plugin both declares and serves.
func (p *Plugin) Tools() []manifest.Tool { return p.tools }

// State returns the current lifecycle state.
func (p *Plugin) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Info returns the plugin summary.
func (p *Plugin) Info() PluginInfo {
	return PluginInfo{
		ID:      p.manifest.ID,
		Name:    p.manifest.Name,
		Version: p.manifest.Version,
		Risk:    p.manifest.Risk(),
		Sandbox: p.kind,
		Tools:   p.tools,
		Pid:     p.proc.Pid(),
		State:   p.State(),
	}
}

// Stderr returns the retained tail of the plugin's standard error.
func (p *Plugin) Stderr() string { return p.proc.Stderr() }

func (p *Plugin) ready() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateInit {
		p.state = StateReady
	}
}

// fail transitions the plugin to StateFailed. Called by the fault handler
// before Close to mark the plugin as failed rather than cleanly stopped.
func (p *Plugin) fail() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateStopped && p.state != StateStopping {
		p.state = StateFailed
	}
}

// Close stops the protocol client and the process, then removes the
// plugin's temp directory. Close is idempotent.
func (p *Plugin) Close() error {
	p.mu.Lock()
	if p.state == StateStopped || p.state == StateStopping {
		p.mu.Unlock()
		return nil
	}
	wasFailed := p.state == StateFailed
	p.state = StateStopping
	p.mu.Unlock()

	var errs []error
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing protocol client: %w", err))
		}
	}
	if err := p.proc.Stop(); err != nil {
		errs = append(errs, err)
	}
	if p.tempDir != "" {
		if err := os.RemoveAll(p.tempDir); err != nil {
			errs = append(errs, fmt.Errorf("removing temp dir: %w", err))
		}
	}

	p.mu.Lock()
	if wasFailed {
		p.state = StateFailed
	} else {
		p.state = StateStopped
	}
	p.mu.Unlock()
	p.logger.Debug("plugin closed")
	return errors.Join(errs...)
}

// reconcileTools returns the declared tools the plugin actually serves,
// in manifest order. The manifest is authoritative: listed tools it does
// not declare are ignored.
func reconcileTools(declared []manifest.Tool, listed []protocol.RemoteTool, logger *slog.Logger) []manifest.Tool {
	served := make(map[string]bool, len(listed))
	for _, t := range listed {
		served[t.Name] = true
	}
	known := make(map[string]bool, len(declared))
	var out []manifest.Tool
	for _, t := range declared {
		known[t.Name] = true
		if !served[t.Name] {
			logger.Warn("declared tool not served by plugin", "tool", t.Name)
			continue
		}
		out = append(out, t)
	}
	for _, t := range listed {
		if !known[t.Name] {
			logger.Warn("ignoring undeclared tool", "tool", t.Name)
		}
	}
	return out
}
