package sandbox

import (
	"strconv"

	"github.com/nox-hq/warden/manifest"
)

// DefaultBwrap is looked up on PATH when no path is configured.
const DefaultBwrap = "bwrap"

// LinuxSystemPaths are the read-only locations the dynamic loader and the
// runtimes need on Linux. /usr/bin and /bin are not among them: binaries
// are bound one by one.
var LinuxSystemPaths = []string{
	"/usr/lib",
	"/usr/lib64",
	"/usr/lib32",
	"/usr/libexec",
	"/lib",
	"/lib64",
	"/lib32",
	"/usr/share/zoneinfo",
	"/etc/ld.so.cache",
	"/etc/ld.so.conf",
	"/etc/ld.so.conf.d",
	"/etc/localtime",
}

// linuxNetworkPaths are bound only when network access is granted.
var linuxNetworkPaths = []string{
	"/etc/resolv.conf",
	"/etc/hosts",
	"/etc/nsswitch.conf",
	"/etc/gai.conf",
	"/etc/services",
	"/etc/ssl",
	"/etc/pki",
	"/etc/ca-certificates",
	"/usr/share/ca-certificates",
}

// BubblewrapGenerator renders bwrap argument vectors.
type BubblewrapGenerator struct {
	Config Config
}

// Generate implements Generator.
func (g *BubblewrapGenerator) Generate(m *manifest.Manifest, rt RuntimePaths) (Descriptor, error) {
	exe := g.Config.BwrapPath
	if exe == "" {
		exe = DefaultBwrap
	}
	found, err := g.Config.lookPath(exe)
	if err != nil {
		return unavailable(m, g.Config, "bwrap not available", err)
	}

	plan, err := NewPlan(m, rt)
	if err != nil {
		return nil, err
	}

	d := &BubblewrapArgs{
		plugin:  plan.PluginID,
		version: plan.Version,
		Exec:    found,
		Network: plan.Network,
	}
	if plan.Spawn {
		// Child processes are allowed, so exec is confined to the
		// declared binaries by the launcher instead of seccomp.
		if !isAbs(g.Config.Launcher) {
			return nil, &SandboxError{PluginID: m.ID, Reason: "shell grant requires an exec launcher", Path: g.Config.Launcher}
		}
		d.Launcher = g.Config.Launcher
		d.Allow = plan.Executables
	} else {
		prog, err := NoSpawnFilter(g.Config.goarch())
		if err != nil {
			return nil, &SandboxError{PluginID: m.ID, Reason: "cannot build seccomp filter", Err: err}
		}
		if d.Seccomp, err = encodeSeccomp(prog); err != nil {
			return nil, &SandboxError{PluginID: m.ID, Reason: "cannot assemble seccomp filter", Err: err}
		}
	}
	d.Args = BubblewrapPolicy(plan, d.Launcher)
	return d, nil
}

// BubblewrapArgs is a bwrap configuration for one launch.
type BubblewrapArgs struct {
	plugin  string
	version string

	// Exec is the bwrap binary.
	Exec string
	// Args precede "--" and the plugin's argv.
	Args []string

	// Seccomp is the program bwrap reads from SeccompFD. Set exactly
	// when the plugin may not spawn processes.
	Seccomp []byte

	// Launcher runs first inside the sandbox and execs argv with exec
	// access limited to Allow.
	Launcher string
	Allow    []string

	Network bool
}

func (a *BubblewrapArgs) Kind() Kind       { return KindBubblewrap }
func (a *BubblewrapArgs) PluginID() string { return a.plugin }
func (a *BubblewrapArgs) Version() string  { return a.version }

// Wrap prefixes argv with the bwrap invocation and, when set, the
// launcher.
func (a *BubblewrapArgs) Wrap(argv []string) []string {
	out := make([]string, 0, len(a.Args)+len(argv)+2*len(a.Allow)+5)
	out = append(out, a.Exec)
	out = append(out, a.Args...)
	out = append(out, "--")
	if a.Launcher != "" {
		out = append(out, a.Launcher, LauncherCommand)
		for _, path := range a.Allow {
			out = append(out, "--allow", path)
		}
		out = append(out, "--")
	}
	return append(out, argv...)
}

// BubblewrapPolicy renders plan as bwrap arguments. The root is an empty
// tmpfs; only the plan's mounts and the launcher exist inside it. Without
// a shell grant bwrap installs the seccomp program read from SeccompFD.
func BubblewrapPolicy(plan *Plan, launcher string) []string {
	args := []string{
		"--unshare-all",
		"--die-with-parent",
		"--new-session",
		"--cap-drop", "ALL",
	}
	if plan.Network {
		args = append(args, "--share-net")
	}
	if !plan.Spawn {
		args = append(args, "--seccomp", strconv.Itoa(SeccompFD))
	}
	args = append(args,
		"--proc", "/proc",
		"--dev", "/dev",
		"--tmpfs", "/tmp",
	)

	for _, mt := range plan.Mounts {
		var flag string
		switch {
		case mt.Writable && mt.Optional:
			flag = "--bind-try"
		case mt.Writable:
			flag = "--bind"
		case mt.Optional:
			flag = "--ro-bind-try"
		default:
			flag = "--ro-bind"
		}
		args = append(args, flag, mt.Path, mt.Path)
	}

	if plan.Network {
		for _, path := range linuxNetworkPaths {
			args = append(args, "--ro-bind-try", path, path)
		}
	}
	if launcher != "" {
		args = append(args, "--ro-bind", launcher, launcher)
	}

	return append(args, "--chdir", plan.PluginDir)
}
