package safety

import (
	"path/filepath"
	"strings"

	"github.com/nox-hq/warden/tools"
)

// Process applies the post-processing rules to a tool result and returns
// a new result; r is not modified. A command result that matches the
// blocklist yields an *UnsafeCommandError and no result. Text and every
// string inside structured content are redacted, except the command
// field itself, which has already passed the blocklist.
func Process(r *tools.Result) (*tools.Result, error) {
	if r == nil {
		return &tools.Result{}, nil
	}
	if r.Command != "" {
		if err := CheckCommand(r.Command); err != nil {
			return nil, err
		}
	}

	out := &tools.Result{
		Command: r.Command,
		IsError: r.IsError,
	}
	out.Redactions = mergeRedactions(out.Redactions, r.Redactions)

	text, found := Redact(r.Text)
	out.Text = text
	out.Redactions = mergeRedactions(out.Redactions, found)

	if r.Structured != nil {
		var structured []tools.Redaction
		out.Structured = redactValue(r.Structured, true, &structured)
		out.Redactions = mergeRedactions(out.Redactions, structured)
	}
	return out, nil
}

// redactValue returns a redacted deep copy of v. At the top level of an
// object the "command" field is left untouched.
func redactValue(v any, top bool, found *[]tools.Redaction) any {
	switch val := v.(type) {
	case string:
		s, r := Redact(val)
		*found = mergeRedactions(*found, r)
		return s
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if top && k == "command" {
				out[k] = item
				continue
			}
			out[k] = redactValue(item, false, found)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue(item, false, found)
		}
		return out
	default:
		return v
	}
}

// IsPathSafe reports whether a path suggested by a tool stays inside the
// user's home directory. Relative paths are accepted; any path containing
// a parent-directory component is not.
func IsPathSafe(path, home string) bool {
	for _, elem := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if elem == ".." {
			return false
		}
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		return true
	}
	if !filepath.IsAbs(path) && !strings.HasPrefix(path, "/") {
		return true
	}
	if home == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(home), filepath.Clean(path))
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
