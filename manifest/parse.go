package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
)

var (
	idPattern      = regexp.MustCompile(`^[a-z][a-z0-9-]*(\.[a-z0-9][a-z0-9-]*)+$`)
	toolPattern    = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)
	envPattern     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	domainPattern  = regexp.MustCompile(`^(\*\.)?[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)*$`)
	commandPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+-]*$`)
)

var topLevelKeys = []string{"id", "name", "description", "version", "runtime", "entry", "permissions", "tools"}

var requiredKeys = []string{"id", "version", "runtime", "entry", "tools"}

var permissionKeys = []string{"network", "filesystem", "environment", "clipboard", "shell"}

// defaultInputSchema is used for tools that declare no input schema.
var defaultInputSchema = json.RawMessage(`{"type":"object"}`)

// Parse decodes and validates a manifest document. It returns a
// *ValidationError describing the first problem found.
func Parse(data []byte) (*Manifest, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, malformed("", "%v", err)
	}
	if fields == nil {
		return nil, malformed("", "manifest must be a JSON object")
	}
	for _, key := range sortedKeys(fields) {
		if !slices.Contains(topLevelKeys, key) {
			return nil, malformed(key, "unknown field")
		}
	}
	for _, key := range requiredKeys {
		if _, ok := fields[key]; !ok {
			return nil, missing(key)
		}
	}

	m := &Manifest{}

	if err := decodeStrict("id", fields["id"], &m.ID); err != nil {
		return nil, err
	}
	if m.ID == "" {
		return nil, missing("id")
	}
	if !idPattern.MatchString(m.ID) {
		return nil, malformed("id", "%q is not a reverse-domain identifier", m.ID)
	}

	for _, key := range []string{"name", "description"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		dst := &m.Name
		if key == "description" {
			dst = &m.Description
		}
		if err := decodeStrict(key, raw, dst); err != nil {
			return nil, err
		}
	}

	if err := decodeStrict("version", fields["version"], &m.Version); err != nil {
		return nil, err
	}
	if m.Version == "" {
		return nil, missing("version")
	}
	if _, err := semver.StrictNewVersion(m.Version); err != nil {
		return nil, malformed("version", "%q: %v", m.Version, err)
	}

	if err := decodeStrict("runtime", fields["runtime"], &m.Runtime); err != nil {
		return nil, err
	}
	if m.Runtime == "" {
		return nil, missing("runtime")
	}
	if !m.Runtime.valid() {
		return nil, malformed("runtime", "unsupported runtime %q", m.Runtime)
	}

	if err := decodeStrict("entry", fields["entry"], &m.Entry); err != nil {
		return nil, err
	}
	if m.Entry.Command == "" {
		return nil, missing("entry.command")
	}
	if !filepath.IsLocal(filepath.FromSlash(m.Entry.Command)) {
		return nil, malformed("entry.command", "%q must be a path inside the plugin directory", m.Entry.Command)
	}

	perms, err := parsePermissions(fields["permissions"])
	if err != nil {
		return nil, err
	}
	m.Permissions = perms

	tools, err := parseTools(fields["tools"])
	if err != nil {
		return nil, err
	}
	m.Tools = tools

	return m, nil
}

func parsePermissions(raw json.RawMessage) (Permissions, error) {
	var p Permissions
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return p, malformed("permissions", "%v", err)
	}
	for _, key := range sortedKeys(fields) {
		if !slices.Contains(permissionKeys, key) {
			return p, &ValidationError{Kind: ErrUnknownPermissionKey, Field: "permissions." + key}
		}
	}

	if raw, ok := fields["network"]; ok {
		if err := decodeStrict("permissions.network", raw, &p.Network); err != nil {
			return p, err
		}
		for i, d := range p.Network {
			d = strings.ToLower(d)
			if !domainPattern.MatchString(d) {
				return p, malformed(fmt.Sprintf("permissions.network[%d]", i), "%q is not a domain name", p.Network[i])
			}
			p.Network[i] = d
		}
	}

	if raw, ok := fields["filesystem"]; ok {
		var grants []json.RawMessage
		if err := decodeStrict("permissions.filesystem", raw, &grants); err != nil {
			return p, err
		}
		for i, g := range grants {
			field := fmt.Sprintf("permissions.filesystem[%d]", i)
			var grant FilesystemGrant
			if err := decodeStrict(field, g, &grant); err != nil {
				return p, err
			}
			if grant.Path == "" {
				return p, missing(field + ".path")
			}
			if err := validateGrantPath(grant.Path); err != nil {
				return p, malformed(field+".path", "%v", err)
			}
			switch grant.Access {
			case AccessRead, AccessReadWrite:
			case "":
				return p, missing(field + ".access")
			default:
				return p, malformed(field+".access", "access must be %q or %q, got %q", AccessRead, AccessReadWrite, grant.Access)
			}
			p.Filesystem = append(p.Filesystem, grant)
		}
	}

	if raw, ok := fields["environment"]; ok {
		if err := decodeStrict("permissions.environment", raw, &p.Environment); err != nil {
			return p, err
		}
		for i, name := range p.Environment {
			if !envPattern.MatchString(name) {
				return p, malformed(fmt.Sprintf("permissions.environment[%d]", i), "%q is not a variable name", name)
			}
		}
	}

	if raw, ok := fields["clipboard"]; ok {
		if err := decodeStrict("permissions.clipboard", raw, &p.Clipboard); err != nil {
			return p, err
		}
	}

	if raw, ok := fields["shell"]; ok && string(raw) != "null" {
		var shell ShellPermission
		if err := decodeStrict("permissions.shell", raw, &shell); err != nil {
			return p, err
		}
		for i, cmd := range shell.Commands {
			if !commandPattern.MatchString(cmd) {
				return p, malformed(fmt.Sprintf("permissions.shell.commands[%d]", i), "%q must be a bare command name", cmd)
			}
		}
		p.Shell = &shell
	}

	p.normalize()
	return p, nil
}

// validateGrantPath accepts absolute paths and home-relative paths
// ("~" or "~/..."). Parent-directory components are rejected so a grant
// always names the directory it appears to name.
func validateGrantPath(path string) error {
	switch {
	case path == "~", strings.HasPrefix(path, "~/"), strings.HasPrefix(path, `~\`):
	case filepath.IsAbs(path), strings.HasPrefix(path, "/"):
	default:
		return fmt.Errorf("%q must be absolute or start with ~/", path)
	}
	for _, elem := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if elem == ".." {
			return fmt.Errorf("%q contains a parent-directory component", path)
		}
	}
	return nil
}

func parseTools(raw json.RawMessage) ([]Tool, error) {
	var items []json.RawMessage
	if err := decodeStrict("tools", raw, &items); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, missing("tools")
	}

	seen := make(map[string]bool, len(items))
	tools := make([]Tool, 0, len(items))
	for i, item := range items {
		field := fmt.Sprintf("tools[%d]", i)
		var t Tool
		if err := decodeStrict(field, item, &t); err != nil {
			return nil, err
		}
		if t.Name == "" {
			return nil, missing(field + ".name")
		}
		if !toolPattern.MatchString(t.Name) {
			return nil, malformed(field+".name", "%q is not a valid tool name", t.Name)
		}
		if seen[t.Name] {
			return nil, &ValidationError{Kind: ErrDuplicateToolName, Field: field + ".name", Detail: t.Name}
		}
		seen[t.Name] = true

		if len(t.InputSchema) == 0 || string(t.InputSchema) == "null" {
			t.InputSchema = defaultInputSchema
		}
		if _, err := CompileSchema(t); err != nil {
			return nil, malformed(field+".input_schema", "%v", err)
		}
		tools = append(tools, t)
	}
	return tools, nil
}

// decodeStrict decodes raw into v, rejecting unknown object fields and
// trailing data.
func decodeStrict(field string, raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return malformed(field, "%v", err)
	}
	if dec.More() {
		return malformed(field, "unexpected trailing data")
	}
	return nil
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
