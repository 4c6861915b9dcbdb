package sandbox

import (
	"os"
	"path/filepath"

	"github.com/nox-hq/warden/manifest"
)

// Resolve inspects the host for what the sandbox must expose to m beyond
// its declared permissions: the interpreter, the libraries it loads, and
// the binaries behind declared shell commands. Symlinks are resolved so a
// descriptor never names a link whose target it does not also expose.
func Resolve(m *manifest.Manifest, tempDir string, cfg Config) (RuntimePaths, error) {
	fail := func(reason, path string, err error) (RuntimePaths, error) {
		return RuntimePaths{}, &SandboxError{PluginID: m.ID, Reason: reason, Path: path, Err: err}
	}

	pluginDir, err := filepath.EvalSymlinks(m.Dir)
	if err != nil {
		return fail("plugin directory", m.Dir, err)
	}
	pluginDir, err = filepath.Abs(pluginDir)
	if err != nil {
		return fail("plugin directory", m.Dir, err)
	}
	temp, err := filepath.EvalSymlinks(tempDir)
	if err != nil {
		return fail("temp directory", tempDir, err)
	}

	rt := RuntimePaths{
		Home:      cfg.home(),
		PluginDir: pluginDir,
		TempDir:   temp,
	}

	switch cfg.goos() {
	case "linux":
		rt.Libraries = append(rt.Libraries, LinuxSystemPaths...)
	case "darwin":
		rt.Libraries = append(rt.Libraries, DarwinSystemPaths...)
	}

	if m.Runtime != manifest.RuntimeBinary {
		interp, err := resolveInterpreter(m.Runtime, cfg)
		if err != nil {
			return fail("unresolved "+string(m.Runtime)+" interpreter", "", err)
		}
		rt.Interpreter = interp
		// Runtimes installed under a prefix keep their modules in
		// <prefix>/lib next to <prefix>/bin.
		lib := filepath.Join(filepath.Dir(filepath.Dir(interp)), "lib")
		if info, err := os.Stat(lib); err == nil && info.IsDir() {
			rt.Libraries = append(rt.Libraries, lib)
		}
	}

	for _, lib := range cfg.ExtraLibraries {
		rt.Libraries = append(rt.Libraries, filepath.Clean(lib))
	}

	if shell := m.Permissions.Shell; shell != nil {
		rt.Commands = make(map[string]string, len(shell.Commands))
		for _, name := range shell.Commands {
			bin, err := resolveBinary(cfg, name)
			if err != nil {
				return fail("unresolvable shell command "+name, "", err)
			}
			rt.Commands[name] = bin
		}
	}
	return rt, nil
}

func resolveInterpreter(rt manifest.Runtime, cfg Config) (string, error) {
	var candidates []string
	switch rt {
	case manifest.RuntimeNode:
		if cfg.NodePath != "" {
			return resolveBinary(cfg, cfg.NodePath)
		}
		candidates = []string{"node"}
	case manifest.RuntimePython:
		if cfg.PythonPath != "" {
			return resolveBinary(cfg, cfg.PythonPath)
		}
		candidates = []string{"python3", "python"}
	}

	var lastErr error
	for _, name := range candidates {
		bin, err := resolveBinary(cfg, name)
		if err == nil {
			return bin, nil
		}
		lastErr = err
	}
	return "", lastErr
}

func resolveBinary(cfg Config, name string) (string, error) {
	path, err := cfg.lookPath(name)
	if err != nil {
		return "", err
	}
	path, err = filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}
	return filepath.Abs(path)
}
