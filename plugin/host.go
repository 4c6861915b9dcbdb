package plugin

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nox-hq/warden/approval"
	"github.com/nox-hq/warden/envfilter"
	"github.com/nox-hq/warden/manifest"
	"github.com/nox-hq/warden/safety"
	"github.com/nox-hq/warden/sandbox"
	"github.com/nox-hq/warden/tools"
)

// Host is the aggregate root for plugin management. All plugin interactions
// flow through Host: it gates spawning on approval, loads plugins into
// their sandboxes, owns the tool registry, and enforces runtime limits on
// every call.
type Host struct {
	pluginsDir string
	store      *approval.Store
	policy     Policy
	sandboxCfg sandbox.Config
	generator  sandbox.Generator
	resolve    func(*manifest.Manifest, string, sandbox.Config) (sandbox.RuntimePaths, error)
	tempRoot   string
	environ    func() map[string]string
	clientInfo mcp.Implementation
	onChange   func()

	registry  *tools.Registry
	telemetry *telemetryCollector
	calls     *semaphore.Weighted

	plugins    map[string]*Plugin // id → plugin
	candidates []Candidate
	violations []RuntimeViolation
	mu         sync.RWMutex

	// refreshMu serializes Refresh, Load, Unload and Restart.
	refreshMu sync.Mutex
	logger    *slog.Logger
}

// HostOption is a functional option for configuring a Host.
type HostOption func(*Host)

// WithPolicy sets the safety policy for the host.
func WithPolicy(p Policy) HostOption {
	return func(h *Host) { h.policy = p }
}

// WithLogger sets the logger for the host.
func WithLogger(l *slog.Logger) HostOption {
	return func(h *Host) { h.logger = l }
}

// WithSandboxConfig sets the sandbox settings used to resolve runtimes and
// pick the platform generator.
func WithSandboxConfig(cfg sandbox.Config) HostOption {
	return func(h *Host) { h.sandboxCfg = cfg }
}

// WithGenerator overrides the platform sandbox generator.
func WithGenerator(g sandbox.Generator) HostOption {
	return func(h *Host) { h.generator = g }
}

// WithTempRoot sets the directory under which per-plugin temp dirs are
// created.
func WithTempRoot(dir string) HostOption {
	return func(h *Host) { h.tempRoot = dir }
}

// WithEnviron sets the source of the host environment that plugin
// environments are filtered from.
func WithEnviron(fn func() map[string]string) HostOption {
	return func(h *Host) { h.environ = fn }
}

// WithVersion sets the version reported to plugins during the handshake.
func WithVersion(v string) HostOption {
	return func(h *Host) { h.clientInfo.Version = v }
}

// WithToolsChanged sets fn to be called after the set of dispatchable
// tools may have changed. fn runs without host locks held and may call
// back into the host.
func WithToolsChanged(fn func()) HostOption {
	return func(h *Host) { h.onChange = fn }
}

// NewHost creates a Host for the plugins under pluginsDir, gated by the
// decisions in store. No plugin is started until Refresh or Load.
// Defaults: DefaultPolicy(), slog.Default(), the platform generator.
func NewHost(pluginsDir string, store *approval.Store, opts ...HostOption) *Host {
	h := &Host{
		pluginsDir: pluginsDir,
		store:      store,
		policy:     DefaultPolicy(),
		resolve:    sandbox.Resolve,
		environ:    envfilter.Environ,
		clientInfo: mcp.Implementation{Name: "warden", Version: "dev"},
		telemetry:  newTelemetryCollector(),
		plugins:    make(map[string]*Plugin),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.policy.AllowUnenforced {
		h.sandboxCfg.AllowUnenforced = true
	}
	if h.generator == nil {
		h.generator = sandbox.ForPlatform(h.sandboxCfg)
	}
	if h.tempRoot == "" {
		h.tempRoot = filepath.Join(os.TempDir(), "warden")
	}
	h.calls = semaphore.NewWeighted(int64(max(1, h.policy.MaxConcurrentCalls)))
	h.registry = tools.NewRegistry(h.logger)
	h.registerBuiltins()
	return h
}

// Refresh rebuilds everything from disk: every running plugin is stopped,
// the registry is cleared down to the built-ins, the plugins directory is
// rescanned, and every approved plugin is loaded. Loads run concurrently;
// registration happens afterwards in plugin id order, so when two plugins
// declare the same tool name the lexicographically first id wins.
//
// The returned error joins the per-plugin *LoadError values. Plugins that
// loaded are registered regardless.
func (h *Host) Refresh(ctx context.Context) error {
	h.refreshMu.Lock()
	defer h.refreshMu.Unlock()

	h.mu.Lock()
	old := h.plugins
	h.plugins = make(map[string]*Plugin)
	h.registry.Reset()
	h.mu.Unlock()
	if err := h.closeAll(old); err != nil {
		h.logger.Warn("error stopping plugins before refresh", "error", err)
	}

	candidates, err := Discover(h.pluginsDir)
	if err != nil {
		return err
	}

	loaded := make([]*Plugin, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, h.policy.MaxConcurrentLoads))
	for i := range candidates {
		c := &candidates[i]
		if c.Err != nil {
			continue
		}
		c.Status = h.store.Status(c.Manifest)
		if c.Status != approval.StatusApproved {
			h.logger.Debug("skipping plugin without approval", "plugin", c.ID(), "status", c.Status)
			continue
		}
		g.Go(func() error {
			p, err := h.load(gctx, c.Manifest)
			if err != nil {
				c.Err = err
				return nil
			}
			loaded[i] = p
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	h.mu.Lock()
	for i, c := range candidates {
		if c.Err != nil {
			errs = append(errs, c.Err)
			h.logger.Warn("plugin not loaded", "dir", c.Dir, "error", c.Err)
			continue
		}
		if p := loaded[i]; p != nil {
			candidates[i].Loaded = h.registerLocked(p)
		}
	}
	h.candidates = candidates
	h.mu.Unlock()

	h.logger.Info("plugins refreshed", "discovered", len(candidates), "loaded", h.loadedCount())
	h.toolsChanged()
	return errors.Join(errs...)
}

// Load starts one approved plugin by id and registers its tools. A plugin
// already running is left alone. Load does not displace tools other
// plugins already own; Refresh restores id-ordered precedence.
func (h *Host) Load(ctx context.Context, id string) error {
	h.refreshMu.Lock()
	defer h.refreshMu.Unlock()
	return h.loadLocked(ctx, id)
}

func (h *Host) loadLocked(ctx context.Context, id string) error {
	h.mu.RLock()
	_, running := h.plugins[id]
	h.mu.RUnlock()
	if running {
		return nil
	}

	m, err := h.find(id)
	if err != nil {
		return err
	}
	p, err := h.load(ctx, m)
	h.mu.Lock()
	registered := err == nil && h.registerLocked(p)
	h.updateCandidateLocked(id, func(c *Candidate) {
		c.Manifest = m
		c.Err = err
		c.Loaded = registered
	})
	h.mu.Unlock()
	if err != nil {
		return err
	}
	if !registered {
		return &LoadError{PluginID: id, Stage: StageHandshake, Err: errors.New("plugin exited before its tools were registered")}
	}
	h.toolsChanged()
	return nil
}

// Unload stops a running plugin and removes its tools. Unloading a plugin
// that is not running is a no-op.
func (h *Host) Unload(id string) error {
	h.refreshMu.Lock()
	defer h.refreshMu.Unlock()
	return h.unloadLocked(id)
}

func (h *Host) unloadLocked(id string) error {
	h.mu.Lock()
	p, ok := h.plugins[id]
	if ok {
		delete(h.plugins, id)
		h.registry.Remove(id)
		h.updateCandidateLocked(id, func(c *Candidate) { c.Loaded = false })
	}
	h.mu.Unlock()
	if !ok {
		return nil
	}
	h.logger.Info("plugin unloaded", "plugin", id)
	h.toolsChanged()
	return p.Close()
}

// Restart stops a plugin if it is running and starts it again. A faulted
// plugin stays down until restarted explicitly.
func (h *Host) Restart(ctx context.Context, id string) error {
	h.refreshMu.Lock()
	defer h.refreshMu.Unlock()
	if err := h.unloadLocked(id); err != nil {
		h.logger.Warn("error stopping plugin before restart", "plugin", id, "error", err)
	}
	return h.loadLocked(ctx, id)
}

// NeedsPrompt reports whether the user must decide on the plugin before it
// can run: it has no decision, or its permissions changed since the last
// one.
func (h *Host) NeedsPrompt(id string) (bool, error) {
	m, err := h.find(id)
	if err != nil {
		return false, err
	}
	return h.store.NeedsPrompt(m), nil
}

// RecordDecision durably stores the user's decision for the plugin's
// current permissions, then applies it: an approved plugin is loaded, a
// denied one is stopped. If the decision cannot be stored nothing changes.
func (h *Host) RecordDecision(ctx context.Context, id string, d approval.Decision) error {
	m, err := h.find(id)
	if err != nil {
		return err
	}
	if err := h.store.RecordDecision(m.ID, m.Version, m.Hash(), d); err != nil {
		return err
	}

	h.refreshMu.Lock()
	defer h.refreshMu.Unlock()
	h.mu.Lock()
	h.updateCandidateLocked(id, func(c *Candidate) { c.Manifest = m })
	h.mu.Unlock()
	if d == approval.Approved {
		return h.loadLocked(ctx, id)
	}
	return h.unloadLocked(id)
}

// Dispatch routes a tool invocation through the registry.
func (h *Host) Dispatch(ctx context.Context, name string, args map[string]any) (*tools.Result, error) {
	return h.registry.Dispatch(ctx, name, args)
}

// Tools returns every dispatchable tool, sorted by name.
func (h *Host) Tools() []tools.Entry {
	return h.registry.Tools()
}

// Plugins returns info for every Ready plugin, sorted by id.
func (h *Host) Plugins() []PluginInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]PluginInfo, 0, len(h.plugins))
	for _, p := range h.plugins {
		info := p.Info()
		info.Tools = h.registry.Owned(p.ID())
		infos = append(infos, info)
	}
	slices.SortFunc(infos, func(a, b PluginInfo) int { return cmp.Compare(a.ID, b.ID) })
	return infos
}

// Candidates returns every discovered plugin with its current approval
// status. Before the first Refresh the plugins directory is scanned
// without starting anything.
func (h *Host) Candidates() ([]Candidate, error) {
	h.mu.RLock()
	out := slices.Clone(h.candidates)
	h.mu.RUnlock()

	if out == nil {
		var err error
		if out, err = Discover(h.pluginsDir); err != nil {
			return nil, err
		}
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := range out {
		if out[i].Manifest == nil {
			continue
		}
		out[i].Status = h.store.Status(out[i].Manifest)
		_, out[i].Loaded = h.plugins[out[i].ID()]
	}
	return out, nil
}

// Violations returns all recorded runtime violations.
func (h *Host) Violations() []RuntimeViolation {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.violations)
}

// Telemetry returns a snapshot of collected plugin telemetry.
func (h *Host) Telemetry() []PluginTelemetry {
	return h.telemetry.Snapshot()
}

// Close shuts down all running plugins.
func (h *Host) Close() error {
	h.refreshMu.Lock()
	defer h.refreshMu.Unlock()

	h.mu.Lock()
	old := h.plugins
	h.plugins = make(map[string]*Plugin)
	h.registry.Reset()
	h.mu.Unlock()
	return h.closeAll(old)
}

// find returns the current on-disk manifest for id. The plugins directory
// is rescanned so decisions always apply to what is installed now.
func (h *Host) find(id string) (*manifest.Manifest, error) {
	candidates, err := Discover(h.pluginsDir)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		if c.ID() != id {
			continue
		}
		if c.Err != nil {
			return nil, c.Err
		}
		return c.Manifest, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPlugin, id)
}

// registerLocked records p as running and registers its tools. A plugin
// that faulted after loading is not registered. Must be called with h.mu
// held.
func (h *Host) registerLocked(p *Plugin) bool {
	if p.State() != StateReady {
		return false
	}
	h.plugins[p.ID()] = p
	for _, c := range h.registry.Register(p.ID(), p.Tools(), &executor{host: h, plugin: p}) {
		p.logger.Warn("tool not registered", "tool", c.Tool, "owned_by", c.Existing)
	}
	return true
}

// updateCandidateLocked applies fn to the cached candidate for id, adding
// one if the cache does not know it yet. Must be called with h.mu held.
func (h *Host) updateCandidateLocked(id string, fn func(*Candidate)) {
	for i := range h.candidates {
		if h.candidates[i].ID() == id {
			fn(&h.candidates[i])
			return
		}
	}
	if h.candidates == nil {
		return
	}
	var c Candidate
	fn(&c)
	if c.Manifest != nil {
		c.Dir = c.Manifest.Dir
	}
	h.candidates = append(h.candidates, c)
	slices.SortFunc(h.candidates, func(a, b Candidate) int {
		return cmp.Or(cmp.Compare(a.ID(), b.ID()), cmp.Compare(a.Dir, b.Dir))
	})
}

func (h *Host) loadedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.plugins)
}

func (h *Host) closeAll(plugins map[string]*Plugin) error {
	var errs []error
	for id, p := range plugins {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing plugin %q: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// recordViolation logs and stores a violation. Non-fatal violations are
// warnings; the plugin keeps running.
func (h *Host) recordViolation(v RuntimeViolation) {
	level := slog.LevelWarn
	if v.Fatal() {
		level = slog.LevelError
	}
	h.logger.Log(context.Background(), level, "runtime violation",
		"type", string(v.Type),
		"plugin", v.PluginID,
		"message", v.Message,
	)
	h.mu.Lock()
	h.violations = append(h.violations, v)
	h.mu.Unlock()
}

func (h *Host) toolsChanged() {
	if h.onChange != nil {
		h.onChange()
	}
}

// handleFault is called by a plugin's protocol client when the plugin
// breaks the protocol or exits. A Ready plugin is unregistered and
// stopped; faults during loading are reported by the load pipeline.
func (h *Host) handleFault(p *Plugin, err error) {
	if p.State() != StateReady {
		return
	}
	h.recordViolation(RuntimeViolation{
		Type:      ViolationProtocolFault,
		PluginID:  p.ID(),
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
	p.fail()

	h.mu.Lock()
	current := h.plugins[p.ID()] == p
	if current {
		delete(h.plugins, p.ID())
		h.registry.Remove(p.ID())
		h.updateCandidateLocked(p.ID(), func(c *Candidate) {
			c.Loaded = false
			c.Err = err
		})
	}
	h.mu.Unlock()
	if current {
		h.toolsChanged()
	}

	if cerr := p.Close(); cerr != nil {
		p.logger.Debug("error closing faulted plugin", "error", cerr)
	}
	p.logger.Error("plugin stopped after fault", "error", err, "stderr", p.Stderr())
}

// executor runs the tools of one plugin, applying the host's runtime
// limits around every call.
type executor struct {
	host   *Host
	plugin *Plugin
}

// CallTool implements tools.Executor.
func (e *executor) CallTool(ctx context.Context, name string, args map[string]any) (*tools.Result, error) {
	h, p := e.host, e.plugin

	if !p.limiter.AllowCall() {
		v := RuntimeViolation{
			Type:      ViolationRateLimit,
			PluginID:  p.ID(),
			Message:   fmt.Sprintf("call to %q rejected: more than %d requests per minute", name, h.policy.RequestsPerMinute),
			Timestamp: time.Now(),
		}
		h.recordViolation(v)
		return nil, v
	}

	if err := h.calls.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer h.calls.Release(1)

	ctx, cancel := withTimeout(ctx, h.policy.CallTimeout)
	defer cancel()

	start := time.Now()
	res, err := p.client.CallTool(ctx, name, args)
	sample := callSample{duration: time.Since(start)}
	defer func() { h.telemetry.Record(p.ID(), sample) }()

	if err != nil {
		sample.errored = true
		var ue *safety.UnsafeCommandError
		if errors.As(err, &ue) {
			sample.blocked = true
			h.recordViolation(RuntimeViolation{
				Type:      ViolationUnsafeCommand,
				PluginID:  p.ID(),
				Message:   fmt.Sprintf("tool %q returned blocked command: %s", name, ue.Reason),
				Timestamp: time.Now(),
			})
		}
		return nil, err
	}

	sample.bytes = resultSize(res)
	if !p.limiter.AllowBytes(sample.bytes) {
		sample.errored = true
		v := RuntimeViolation{
			Type:      ViolationBandwidth,
			PluginID:  p.ID(),
			Message:   fmt.Sprintf("result of %q (%d bytes) exceeds bandwidth limit", name, sample.bytes),
			Timestamp: time.Now(),
		}
		h.recordViolation(v)
		return nil, v
	}

	for _, r := range res.Redactions {
		sample.redactions += r.Count
	}
	if res.Redacted() {
		h.recordViolation(RuntimeViolation{
			Type:      ViolationSecretRedacted,
			PluginID:  p.ID(),
			Message:   fmt.Sprintf("output of %q contained sensitive data (redacted before delivery)", name),
			Timestamp: time.Now(),
		})
	}
	return res, nil
}

// resultSize approximates the delivered size of a result for bandwidth
// accounting.
func resultSize(r *tools.Result) int64 {
	n := int64(len(r.Text) + len(r.Command))
	if r.Structured != nil {
		if b, err := json.Marshal(r.Structured); err == nil {
			n += int64(len(b))
		}
	}
	return n
}
