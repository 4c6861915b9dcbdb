package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nox-hq/warden/envfilter"
	"github.com/nox-hq/warden/manifest"
	"github.com/nox-hq/warden/protocol"
	"github.com/nox-hq/warden/sandbox"
	"github.com/nox-hq/warden/supervisor"
)

// load runs the pipeline for one approved manifest: policy check, temp
// dir, sandbox descriptor, filtered environment, spawn, handshake, tool
// listing. The returned plugin is Ready but not yet registered. On any
// failure everything started so far is torn down.
func (h *Host) load(ctx context.Context, m *manifest.Manifest) (*Plugin, error) {
	fail := func(stage Stage, err error) (*Plugin, error) {
		return nil, &LoadError{PluginID: m.ID, Dir: m.Dir, Stage: stage, Err: err}
	}
	logger := h.logger.With("plugin", m.ID)

	// Checked again here, not only by the caller: nothing reaches spawn
	// without a durable approval for exactly these permissions.
	if !h.store.Authorized(m) {
		return fail(StageApproval, ErrNotApproved)
	}
	if violations := ValidateManifest(m, h.policy); len(violations) > 0 {
		errs := make([]error, len(violations))
		for i, v := range violations {
			errs[i] = v
		}
		return fail(StagePolicy, errors.Join(errs...))
	}

	tempDir, err := envfilter.NewTempDir(h.tempRoot, m.ID)
	if err != nil {
		return fail(StageSandbox, err)
	}
	started := false
	defer func() {
		if !started {
			_ = os.RemoveAll(tempDir)
		}
	}()

	rt, err := h.resolve(m, tempDir, h.sandboxCfg)
	if err != nil {
		return fail(StageSandbox, err)
	}
	desc, err := h.generator.Generate(m, rt)
	if err != nil {
		return fail(StageSandbox, err)
	}
	if eo, ok := desc.(*sandbox.EnvironmentOnly); ok {
		logger.Warn("plugin runs without native sandbox enforcement", "reason", eo.Reason)
	}

	argv, err := supervisor.Command(m, rt)
	if err != nil {
		return fail(StageSpawn, err)
	}
	env := envfilter.Filter(m.Permissions.Environment, h.environ(), tempDir)

	spawnCtx, cancel := withTimeout(ctx, h.policy.SpawnTimeout)
	defer cancel()
	proc, err := supervisor.Spawn(spawnCtx, supervisor.Spec{
		PluginID:    m.ID,
		Dir:         rt.PluginDir,
		Argv:        argv,
		Env:         envfilter.List(env),
		Descriptor:  desc,
		StderrLimit: h.policy.StderrLimit,
		Logger:      logger,
	})
	if err != nil {
		return fail(StageSpawn, err)
	}

	p := &Plugin{
		manifest: m,
		kind:     desc.Kind(),
		tempDir:  tempDir,
		proc:     proc,
		limiter:  NewRateLimiter(h.policy.RequestsPerMinute, h.policy.BandwidthBytesPerMin),
		logger:   logger,
		state:    StateInit,
	}
	started = true
	p.client = protocol.NewClient(proc.Stdout(), proc.Stdin(),
		protocol.WithLogger(logger),
		protocol.WithTimeout(h.policy.CallTimeout),
		protocol.WithTools(m.Tools),
		protocol.WithClientInfo(h.clientInfo),
		protocol.WithFaultHandler(func(err error) { h.handleFault(p, err) }),
	)

	hsCtx, hsCancel := withTimeout(ctx, h.policy.HandshakeTimeout)
	defer hsCancel()
	if _, err := p.client.Initialize(hsCtx); err != nil {
		return h.abandon(p, StageHandshake, err)
	}
	listed, err := p.client.ListTools(hsCtx)
	if err != nil {
		return h.abandon(p, StageHandshake, err)
	}
	p.tools = reconcileTools(m.Tools, listed, logger)
	p.ready()

	logger.Info("plugin ready", "version", m.Version, "sandbox", p.kind, "tools", len(p.tools), "pid", proc.Pid())
	return p, nil
}

// abandon stops a plugin that failed after spawn and reports the stage,
// with the plugin's stderr tail attached for diagnosis.
func (h *Host) abandon(p *Plugin, stage Stage, err error) (*Plugin, error) {
	p.fail()
	_ = p.Close()
	if tail := strings.TrimSpace(p.Stderr()); tail != "" {
		p.logger.Debug("plugin stderr", "tail", tail)
		lines := strings.Split(tail, "\n")
		err = fmt.Errorf("%w (last stderr line: %s)", err, lines[len(lines)-1])
	}
	return nil, &LoadError{PluginID: p.ID(), Dir: p.manifest.Dir, Stage: stage, Err: err}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
