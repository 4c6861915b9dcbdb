// Package sandbox turns a plugin's declared permissions into an
// OS-specific isolation descriptor: a Seatbelt profile on macOS, a
// bubblewrap namespace configuration on Linux, an AppContainer and job
// object configuration on Windows.
//
// Generation is pure: every generator compiles and runs on every
// platform, so descriptors for all three systems are unit-tested
// everywhere. Resolve is the only function that inspects the host, and
// RunLauncher the only one that runs inside a sandbox.
//
// On Linux a plugin without a shell grant gets a seccomp filter that
// refuses to create processes. A plugin with one runs under the launcher,
// which uses Landlock to limit exec to its declared binaries.
//
// The advisory risk level of a manifest is deliberately not an input here;
// what a plugin may do is decided by its declared permissions alone.
package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/nox-hq/warden/manifest"
)

// Kind tags the variant of a descriptor so callers can tell a fully
// enforced sandbox from the environment-only fallback.
type Kind int

const (
	// KindEnvironmentOnly provides environment filtering and nothing else.
	KindEnvironmentOnly Kind = iota
	// KindSeatbelt is a macOS sandbox-exec profile.
	KindSeatbelt
	// KindBubblewrap is a Linux bwrap namespace configuration.
	KindBubblewrap
	// KindAppContainer is a Windows AppContainer plus job object.
	KindAppContainer
)

// String returns the descriptor kind name.
func (k Kind) String() string {
	switch k {
	case KindEnvironmentOnly:
		return "environment-only"
	case KindSeatbelt:
		return "seatbelt"
	case KindBubblewrap:
		return "bubblewrap"
	case KindAppContainer:
		return "appcontainer"
	default:
		return "unknown"
	}
}

// Enforced reports whether the OS enforces the plugin's permissions.
func (k Kind) Enforced() bool {
	return k != KindEnvironmentOnly
}

// Descriptor is a generated, per-launch isolation artifact. It is never
// persisted; a fresh one is generated for every spawn.
type Descriptor interface {
	Kind() Kind
	PluginID() string
	Version() string
}

// Wrapper is implemented by descriptors that are enforced by launching
// the entry command through a sandboxing front end.
type Wrapper interface {
	Descriptor
	Wrap(argv []string) []string
}

// Generator produces a descriptor for a manifest.
type Generator interface {
	Generate(m *manifest.Manifest, rt RuntimePaths) (Descriptor, error)
}

// RuntimePaths is everything the sandbox must expose beyond the declared
// permissions. All paths are absolute with symlinks resolved.
type RuntimePaths struct {
	// Home expands "~" in declared filesystem paths.
	Home string
	// PluginDir is the plugin's own directory.
	PluginDir string
	// TempDir is the per-instance temp directory.
	TempDir string
	// Interpreter is the node or python binary. Empty for binary plugins.
	Interpreter string
	// Libraries are read-only paths the runtime needs to load.
	Libraries []string
	// Commands maps each declared shell command to its binary.
	Commands map[string]string
}

// SandboxError reports why no descriptor could be generated. A plugin
// whose descriptor fails is never spawned.
type SandboxError struct {
	PluginID string
	Reason   string
	Path     string
	Err      error
}

// Error implements the error interface.
func (e *SandboxError) Error() string {
	msg := fmt.Sprintf("sandbox for plugin %q: %s", e.PluginID, e.Reason)
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *SandboxError) Unwrap() error {
	return e.Err
}

// Config controls descriptor generation and runtime resolution.
type Config struct {
	// GOOS selects the platform. Defaults to runtime.GOOS.
	GOOS string
	// GOARCH selects the seccomp syscall table. Defaults to runtime.GOARCH.
	GOARCH string

	// AllowUnenforced permits an environment-only descriptor when the
	// platform's enforcement mechanism is missing. Off by default: a
	// missing mechanism is a SandboxError.
	AllowUnenforced bool

	// BwrapPath and SandboxExecPath override the front-end binaries.
	BwrapPath       string
	SandboxExecPath string

	// Launcher is an absolute path to a binary that runs RunLauncher when
	// invoked with LauncherCommand. On Linux it confines which programs a
	// shell-granted plugin may execute; without it such plugins are not
	// sandboxed.
	Launcher string

	// NodePath and PythonPath override interpreter lookup.
	NodePath   string
	PythonPath string

	// ExtraLibraries are added to the runtime library paths.
	ExtraLibraries []string

	// Home overrides the home directory used for "~" expansion.
	Home string

	// LookPath finds executables. Defaults to exec.LookPath.
	LookPath func(string) (string, error)
}

func (c Config) goos() string {
	if c.GOOS != "" {
		return c.GOOS
	}
	return runtime.GOOS
}

func (c Config) goarch() string {
	if c.GOARCH != "" {
		return c.GOARCH
	}
	return runtime.GOARCH
}

func (c Config) lookPath(file string) (string, error) {
	if c.LookPath != nil {
		return c.LookPath(file)
	}
	return exec.LookPath(file)
}

func (c Config) home() string {
	if c.Home != "" {
		return c.Home
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

// ForPlatform returns the generator for cfg.GOOS. Platforms without a
// native mechanism get a generator that fails, or with AllowUnenforced
// returns environment-only descriptors.
func ForPlatform(cfg Config) Generator {
	switch cfg.goos() {
	case "darwin":
		return &SeatbeltGenerator{Config: cfg}
	case "linux":
		return &BubblewrapGenerator{Config: cfg}
	case "windows":
		return &AppContainerGenerator{Config: cfg}
	default:
		return &unsupportedGenerator{Config: cfg}
	}
}

type unsupportedGenerator struct {
	Config Config
}

func (g *unsupportedGenerator) Generate(m *manifest.Manifest, _ RuntimePaths) (Descriptor, error) {
	return unavailable(m, g.Config, "no sandbox mechanism for "+g.Config.goos(), nil)
}

// unavailable handles a missing enforcement mechanism: a SandboxError, or
// an explicit environment-only descriptor when the config allows it.
func unavailable(m *manifest.Manifest, cfg Config, reason string, err error) (Descriptor, error) {
	if !cfg.AllowUnenforced {
		return nil, &SandboxError{PluginID: m.ID, Reason: reason, Err: err}
	}
	return &EnvironmentOnly{plugin: m.ID, version: m.Version, Reason: reason}, nil
}

// EnvironmentOnly is the fallback descriptor: the plugin runs with a
// filtered environment and no OS-level confinement.
type EnvironmentOnly struct {
	plugin  string
	version string

	// Reason explains why enforcement is unavailable.
	Reason string
}

// NewEnvironmentOnly builds an environment-only descriptor.
func NewEnvironmentOnly(m *manifest.Manifest, reason string) *EnvironmentOnly {
	return &EnvironmentOnly{plugin: m.ID, version: m.Version, Reason: reason}
}

func (d *EnvironmentOnly) Kind() Kind       { return KindEnvironmentOnly }
func (d *EnvironmentOnly) PluginID() string { return d.plugin }
func (d *EnvironmentOnly) Version() string  { return d.version }

// Wrap returns argv unchanged.
func (d *EnvironmentOnly) Wrap(argv []string) []string {
	return append([]string(nil), argv...)
}
