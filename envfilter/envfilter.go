// Package envfilter builds the environment handed to a plugin process.
//
// The contract is allow-by-declaration: a plugin sees a small set of
// variables every runtime needs plus exactly the variables it declared.
// There is no list of known secret names to block, so secrets whose names
// nobody anticipated are excluded automatically.
package envfilter

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Essential lists the variables passed through regardless of declaration.
var Essential = []string{
	"PATH",
	"HOME",
	"USER",
	"LANG",
	"LC_ALL",
	"LC_CTYPE",
	"LC_MESSAGES",
	"TZ",
	"TERM",
	"USERPROFILE",
	"SYSTEMROOT",
	"SYSTEMDRIVE",
	"WINDIR",
	"COMSPEC",
	"PATHEXT",
}

// TempVars are the temp-directory variables. They are passed through like
// essential variables but always point at the plugin's private temp dir.
var TempVars = []string{"TMPDIR", "TMP", "TEMP"}

// Windows environment names are case-insensitive.
var foldNames = runtime.GOOS == "windows"

// Filter returns the environment for a plugin. The result holds the
// variables of env whose names are essential or declared. When tempDir is
// set the result always carries TMPDIR (plus TMP and TEMP on Windows)
// pointing at it, whether or not the host defines them; host temp
// variables never pass through with their own value. With an empty
// tempDir they are dropped rather than leaking the shared temp root.
func Filter(declared []string, env map[string]string, tempDir string) map[string]string {
	out := make(map[string]string)
	for name, value := range env {
		switch {
		case matches(name, TempVars):
			// Windows names fold, so the canonical spellings below
			// replace whatever casing the host used.
			if tempDir != "" && !foldNames {
				out[name] = tempDir
			}
		case matches(name, Essential), matches(name, declared):
			out[name] = value
		}
	}
	if tempDir != "" {
		for _, name := range tempOverrides() {
			out[name] = tempDir
		}
	}
	return out
}

// tempOverrides are the temp variables set even when the host lacks them.
func tempOverrides() []string {
	if foldNames {
		return TempVars
	}
	return TempVars[:1]
}

func matches(name string, list []string) bool {
	if foldNames {
		return slices.ContainsFunc(list, func(s string) bool { return strings.EqualFold(s, name) })
	}
	return slices.Contains(list, name)
}

// Environ returns the current process environment as a map.
func Environ() map[string]string {
	return FromList(os.Environ())
}

// FromList converts "KEY=VALUE" entries to a map. Entries without "=" are
// skipped; later duplicates win.
func FromList(list []string) map[string]string {
	env := make(map[string]string, len(list))
	for _, kv := range list {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			continue
		}
		env[name] = value
	}
	return env
}

// List converts an environment map to sorted "KEY=VALUE" entries, the form
// os/exec expects.
func List(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for _, name := range Keys(env) {
		out = append(out, name+"="+env[name])
	}
	return out
}

// Keys returns the variable names of env in sorted order.
func Keys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// NewTempDir creates root/<pluginID>/<instance> with owner-only
// permissions and returns its absolute path. Each call yields a fresh
// directory, so two instances of the same plugin never share temp files.
func NewTempDir(root, pluginID string) (string, error) {
	if root == "" {
		root = os.TempDir()
	}
	dir := filepath.Join(root, pluginID, uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating plugin temp dir: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving plugin temp dir: %w", err)
	}
	return abs, nil
}
