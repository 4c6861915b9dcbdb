package sandbox

import (
	"path/filepath"
	"slices"
	"strings"

	"github.com/nox-hq/warden/manifest"
)

// Mount is one path exposed inside the sandbox.
type Mount struct {
	Path     string
	Writable bool
	// Optional mounts are skipped when the path does not exist on the host.
	Optional bool
}

// Plan is the platform-neutral form of what a plugin may reach. Every
// generator renders a Plan into its own descriptor format.
type Plan struct {
	PluginID  string
	Version   string
	PluginDir string
	TempDir   string

	// Entry is the first program executed: the interpreter, or the
	// plugin's own binary.
	Entry string

	// Mounts in application order: runtime libraries, executables, the
	// plugin directory, declared grants, the temp directory.
	Mounts []Mount

	// Executables may be run inside the sandbox: Entry plus the binaries
	// of declared shell commands.
	Executables []string

	Network bool
	Spawn   bool
}

// NewPlan checks the runtime paths and expands declared permissions into
// absolute mounts. Any inconsistency is a SandboxError.
func NewPlan(m *manifest.Manifest, rt RuntimePaths) (*Plan, error) {
	fail := func(reason, path string) (*Plan, error) {
		return nil, &SandboxError{PluginID: m.ID, Reason: reason, Path: path}
	}

	if !isAbs(rt.PluginDir) {
		return fail("plugin directory is not an absolute path", rt.PluginDir)
	}
	if !isAbs(rt.TempDir) {
		return fail("temp directory is not an absolute path", rt.TempDir)
	}

	p := &Plan{
		PluginID:  m.ID,
		Version:   m.Version,
		PluginDir: filepath.Clean(rt.PluginDir),
		TempDir:   filepath.Clean(rt.TempDir),
		Network:   m.Permissions.HasNetwork(),
		Spawn:     m.Permissions.HasShell(),
	}

	switch m.Runtime {
	case manifest.RuntimeNode, manifest.RuntimePython:
		if !isAbs(rt.Interpreter) {
			return fail("unresolved "+string(m.Runtime)+" interpreter", rt.Interpreter)
		}
		p.Entry = filepath.Clean(rt.Interpreter)
	case manifest.RuntimeBinary:
		if !filepath.IsLocal(filepath.FromSlash(m.Entry.Command)) {
			return fail("entry command escapes the plugin directory", m.Entry.Command)
		}
		p.Entry = filepath.Join(p.PluginDir, filepath.FromSlash(m.Entry.Command))
	default:
		return fail("unsupported runtime "+string(m.Runtime), "")
	}
	p.Executables = append(p.Executables, p.Entry)

	for _, lib := range rt.Libraries {
		if !isAbs(lib) {
			return fail("runtime library path is not absolute", lib)
		}
		p.Mounts = append(p.Mounts, Mount{Path: filepath.Clean(lib), Optional: true})
	}

	if shell := m.Permissions.Shell; shell != nil {
		for _, name := range shell.Commands {
			bin := rt.Commands[name]
			if !isAbs(bin) {
				return fail("unresolved shell command "+name, bin)
			}
			p.Executables = append(p.Executables, filepath.Clean(bin))
		}
	}
	for _, exe := range p.Executables {
		p.Mounts = append(p.Mounts, Mount{Path: exe})
	}

	p.Mounts = append(p.Mounts, Mount{Path: p.PluginDir})

	for _, g := range m.Permissions.Filesystem {
		path, ok := expandHome(g.Path, rt.Home)
		if !ok {
			return fail("cannot expand filesystem grant", g.Path)
		}
		var writable bool
		switch g.Access {
		case manifest.AccessRead:
		case manifest.AccessReadWrite:
			writable = true
		default:
			return fail("invalid access "+string(g.Access)+" for filesystem grant", g.Path)
		}
		p.Mounts = append(p.Mounts, Mount{Path: path, Writable: writable, Optional: true})
	}

	p.Mounts = append(p.Mounts, Mount{Path: p.TempDir, Writable: true})
	return p, nil
}

// Reads returns the read-only mount paths in order.
func (p *Plan) Reads() []string {
	var out []string
	for _, mt := range p.Mounts {
		if !mt.Writable {
			out = append(out, mt.Path)
		}
	}
	return out
}

// Writes returns the read-write mount paths in order.
func (p *Plan) Writes() []string {
	var out []string
	for _, mt := range p.Mounts {
		if mt.Writable {
			out = append(out, mt.Path)
		}
	}
	return out
}

// expandHome turns "~" and "~/x" into absolute paths under home. Other
// paths must already be absolute. Parent-directory components are refused
// even if validation was bypassed.
func expandHome(path, home string) (string, bool) {
	if slices.Contains(strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }), "..") {
		return "", false
	}
	switch {
	case path == "~":
		path = home
	case strings.HasPrefix(path, "~/"), strings.HasPrefix(path, `~\`):
		if home == "" {
			return "", false
		}
		path = filepath.Join(home, filepath.FromSlash(path[2:]))
	}
	if !isAbs(path) {
		return "", false
	}
	return filepath.Clean(path), true
}

// isAbs accepts native absolute paths and, so descriptors for unix
// platforms can be generated from any host, slash-rooted paths.
func isAbs(path string) bool {
	return path != "" && (filepath.IsAbs(path) || strings.HasPrefix(path, "/"))
}
