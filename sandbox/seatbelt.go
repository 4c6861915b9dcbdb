package sandbox

import (
	"fmt"
	"strings"

	"github.com/nox-hq/warden/manifest"
)

// DefaultSandboxExec is the macOS sandbox front end.
const DefaultSandboxExec = "/usr/bin/sandbox-exec"

// DarwinSystemPaths are the read-only locations dyld and the runtimes need
// on macOS.
var DarwinSystemPaths = []string{
	"/usr/lib",
	"/usr/share/icu",
	"/usr/share/zoneinfo",
	"/System/Library",
	"/System/Cryptexes",
	"/System/Volumes/Preboot/Cryptexes",
	"/Library/Apple/System/Library",
	"/private/var/db/dyld",
	"/private/var/db/timezone",
	"/private/etc/localtime",
}

// darwinNetworkPaths are readable only when network access is granted.
var darwinNetworkPaths = []string{
	"/private/etc/hosts",
	"/private/etc/resolv.conf",
	"/private/var/run/resolv.conf",
	"/private/etc/services",
	"/private/etc/ssl",
}

// SeatbeltGenerator renders Seatbelt profiles for sandbox-exec.
type SeatbeltGenerator struct {
	Config Config
}

// Generate implements Generator.
func (g *SeatbeltGenerator) Generate(m *manifest.Manifest, rt RuntimePaths) (Descriptor, error) {
	exe := g.Config.SandboxExecPath
	if exe == "" {
		exe = DefaultSandboxExec
	}
	found, err := g.Config.lookPath(exe)
	if err != nil {
		return unavailable(m, g.Config, "sandbox-exec not available", err)
	}

	plan, err := NewPlan(m, rt)
	if err != nil {
		return nil, err
	}
	return &SeatbeltProfile{
		plugin:   plan.PluginID,
		version:  plan.Version,
		Exec:     found,
		Profile:  SeatbeltPolicy(plan),
		Network:  plan.Network,
		Commands: plan.Executables[1:],
	}, nil
}

// SeatbeltProfile is a deny-by-default Seatbelt profile for one launch.
type SeatbeltProfile struct {
	plugin  string
	version string

	// Exec is the sandbox-exec binary.
	Exec string
	// Profile is the SBPL source passed with -p.
	Profile string

	Network  bool
	Commands []string
}

func (p *SeatbeltProfile) Kind() Kind       { return KindSeatbelt }
func (p *SeatbeltProfile) PluginID() string { return p.plugin }
func (p *SeatbeltProfile) Version() string  { return p.version }

// Wrap prefixes argv with the sandbox-exec invocation.
func (p *SeatbeltProfile) Wrap(argv []string) []string {
	return append([]string{p.Exec, "-p", p.Profile}, argv...)
}

// SeatbeltPolicy renders plan as SBPL. Everything not allowed here is
// denied, including process-exec of any binary other than the entry and
// declared commands.
func SeatbeltPolicy(plan *Plan) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("(version 1)")
	line("(deny default)")
	line(";; plugin %s@%s", plan.PluginID, plan.Version)

	line("(allow process-exec")
	for _, exe := range plan.Executables {
		line("  (literal %s)", sbplString(exe))
	}
	line(")")
	if plan.Spawn {
		line("(allow process-fork)")
	}
	line("(allow signal (target self))")
	line("(allow sysctl-read)")
	line("(allow file-read-metadata)")
	line("(allow mach-lookup")
	line("  (global-name \"com.apple.system.opendirectoryd.libinfo\")")
	line("  (global-name \"com.apple.system.notification_center\")")
	line("  (global-name \"com.apple.system.logger\"))")
	line("(allow ipc-posix-shm-read-data (ipc-posix-name \"apple.shm.notification_center\"))")

	line("(allow file-read* file-write-data")
	for _, dev := range []string{"/dev/null", "/dev/zero", "/dev/dtracehelper"} {
		line("  (literal %s)", sbplString(dev))
	}
	line(")")
	line("(allow file-read* (literal \"/dev/random\") (literal \"/dev/urandom\"))")

	if reads := plan.Reads(); len(reads) > 0 {
		line("(allow file-read*")
		for _, path := range reads {
			line("  %s", sbplPath(path, plan.Executables))
		}
		line(")")
	}
	if writes := plan.Writes(); len(writes) > 0 {
		line("(allow file-read* file-write*")
		for _, path := range writes {
			line("  (subpath %s)", sbplString(path))
		}
		line(")")
	}

	if plan.Network {
		line("(allow network-outbound)")
		line("(allow system-socket)")
		line("(allow mach-lookup")
		line("  (global-name \"com.apple.dnssd.service\")")
		line("  (global-name \"com.apple.SystemConfiguration.configd\")")
		line("  (global-name \"com.apple.trustd.agent\"))")
		line("(allow file-read*")
		for _, path := range darwinNetworkPaths {
			line("  (subpath %s)", sbplString(path))
		}
		line(")")
	}
	return b.String()
}

// sbplPath filters executables with literal so nothing beside them in
// their directory becomes readable.
func sbplPath(path string, executables []string) string {
	for _, exe := range executables {
		if exe == path {
			return "(literal " + sbplString(path) + ")"
		}
	}
	return "(subpath " + sbplString(path) + ")"
}

// sbplString quotes s as an SBPL string literal.
func sbplString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
