// Package manifest parses and validates plugin manifests. It also derives
// the two values computed from a plugin's declared permissions: the
// permission hash used to detect escalation between versions, and the
// advisory risk level shown when the user is asked for approval.
//
// Parsing is a pure transform. Nothing in this package touches the
// filesystem except Load, and nothing executes plugin code.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the manifest file expected at the root of a plugin directory.
const FileName = "plugin.json"

// Runtime selects how a plugin's entry point is launched.
type Runtime string

const (
	RuntimeNode   Runtime = "node"
	RuntimePython Runtime = "python"
	RuntimeBinary Runtime = "binary"
)

func (r Runtime) valid() bool {
	switch r {
	case RuntimeNode, RuntimePython, RuntimeBinary:
		return true
	}
	return false
}

// Entry is the plugin's entry point. Command is relative to the plugin
// directory: a script for interpreted runtimes, an executable for binary.
type Entry struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// Tool describes a single invocable capability exposed by a plugin.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Manifest is the parsed, validated form of a plugin.json file.
// A Manifest is never mutated after Parse returns.
type Manifest struct {
	ID          string      `json:"id"`
	Name        string      `json:"name,omitempty"`
	Description string      `json:"description,omitempty"`
	Version     string      `json:"version"`
	Runtime     Runtime     `json:"runtime"`
	Entry       Entry       `json:"entry"`
	Permissions Permissions `json:"permissions"`
	Tools       []Tool      `json:"tools"`

	// Dir is the directory the manifest was loaded from. Empty when the
	// manifest was parsed from bytes.
	Dir string `json:"-"`
}

// Hash returns the content hash of the manifest's permissions.
func (m *Manifest) Hash() Digest {
	return PermissionHash(m.Permissions)
}

// Risk returns the advisory risk level of the manifest's permissions.
func (m *Manifest) Risk() RiskLevel {
	return Score(m.Permissions)
}

// Tool returns the declared tool with the given name.
func (m *Manifest) Tool(name string) (Tool, bool) {
	for _, t := range m.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// ToolNames returns the declared tool names in manifest order.
func (m *Manifest) ToolNames() []string {
	names := make([]string, len(m.Tools))
	for i, t := range m.Tools {
		names[i] = t.Name
	}
	return names
}

// Load reads and parses dir/plugin.json. The returned manifest records
// the absolute plugin directory in Dir.
func Load(dir string) (*Manifest, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving plugin directory %s: %w", dir, err)
	}
	data, err := os.ReadFile(filepath.Join(abs, FileName))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, err
	}
	m.Dir = abs
	return m, nil
}
