package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/term"

	"github.com/nox-hq/warden/approval"
	"github.com/nox-hq/warden/plugin"
	"github.com/nox-hq/warden/sandbox"
)

// env is what every plugin command needs: the loaded config, the
// approval store and a logger writing to stderr.
type env struct {
	home   string
	cfg    *plugin.Config
	store  *approval.Store
	logger *slog.Logger
}

// loadEnv reads the config and opens the approval store.
func loadEnv(opts globalOptions) (*env, error) {
	home, err := plugin.HomeDir()
	if err != nil {
		return nil, err
	}
	cfgPath := opts.configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(home, "config.yaml")
	}
	cfg, err := plugin.LoadConfig(cfgPath, home)
	if err != nil {
		return nil, err
	}

	logger := newLogger(opts.verbose)
	store, err := approval.Open(cfg.StateFile, approval.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("opening approval store: %w", err)
	}
	return &env{home: home, cfg: cfg, store: store, logger: logger}, nil
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newHost builds a plugin host from the config. No plugin is started.
func (e *env) newHost(extra ...plugin.HostOption) (*plugin.Host, error) {
	policy, err := e.cfg.ToPolicy()
	if err != nil {
		return nil, err
	}
	opts := []plugin.HostOption{
		plugin.WithPolicy(policy),
		plugin.WithLogger(e.logger),
		plugin.WithSandboxConfig(e.sandboxConfig()),
		plugin.WithTempRoot(e.cfg.TempRoot),
		plugin.WithVersion(displayVersion()),
	}
	return plugin.NewHost(e.cfg.PluginsDir, e.store, append(opts, extra...)...), nil
}

// sandboxConfig is the configured sandbox settings with this binary as the
// exec launcher.
func (e *env) sandboxConfig() sandbox.Config {
	cfg := e.cfg.SandboxConfig()
	exe, err := os.Executable()
	if err == nil {
		exe, err = filepath.EvalSymlinks(exe)
	}
	if err != nil {
		e.logger.Warn("cannot locate the warden binary; shell-granted plugins will not load", "error", err)
		return cfg
	}
	cfg.Launcher = exe
	return cfg
}

// findCandidate returns the discovered plugin with the given id.
func findCandidate(h *plugin.Host, id string) (plugin.Candidate, error) {
	candidates, err := h.Candidates()
	if err != nil {
		return plugin.Candidate{}, err
	}
	for _, c := range candidates {
		if c.ID() == id {
			if c.Manifest == nil {
				return c, c.Err
			}
			return c, nil
		}
	}
	return plugin.Candidate{}, fmt.Errorf("%w: %q", plugin.ErrUnknownPlugin, id)
}

// exitCode maps an operation error to the CLI exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, plugin.ErrUnknownPlugin):
		return 2
	default:
		return 1
	}
}

// displayVersion normalizes the build version for display; non-semver
// builds such as "dev" are shown unchanged.
func displayVersion() string {
	v, err := semver.NewVersion(version)
	if err != nil {
		return version
	}
	return v.String()
}

// splitArgs separates flags from positional arguments so flags may follow
// the positional ones ("warden show acme.echo --json"). Flags named in
// boolFlags never consume the next argument.
func splitArgs(args []string, boolFlags ...string) (flagArgs, positional []string) {
	isBool := func(name string) bool {
		name = strings.TrimLeft(name, "-")
		if i := strings.IndexByte(name, '='); i >= 0 {
			return true
		}
		for _, b := range boolFlags {
			if name == b {
				return true
			}
		}
		return false
	}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}
		if strings.HasPrefix(a, "-") && a != "-" {
			flagArgs = append(flagArgs, a)
			if !isBool(a) && i+1 < len(args) {
				i++
				flagArgs = append(flagArgs, args[i])
			}
			continue
		}
		positional = append(positional, a)
	}
	return flagArgs, positional
}

// parseFlags parses args with fs after moving flags ahead of positional
// arguments. It returns the positional arguments.
func parseFlags(fs *flag.FlagSet, args []string, boolFlags ...string) ([]string, error) {
	flagArgs, positional := splitArgs(args, boolFlags...)
	if err := fs.Parse(flagArgs); err != nil {
		return nil, err
	}
	return append(positional, fs.Args()...), nil
}

// isTerminal reports whether both stdin and stdout are connected to a
// terminal, which the interactive prompt needs.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}
