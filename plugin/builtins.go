package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/nox-hq/warden/manifest"
	"github.com/nox-hq/warden/protocol"
	"github.com/nox-hq/warden/safety"
	"github.com/nox-hq/warden/tools"
)

// Names of the tools the host provides itself.
const (
	BuiltinCheckCommand = "safety_check_command"
	BuiltinRedactText   = "safety_redact_text"
	BuiltinCheckPath    = "safety_check_path"
)

type builtin struct {
	tool manifest.Tool
	fn   tools.BuiltinFunc
}

func builtins() []builtin {
	return []builtin{
		{
			tool: manifest.Tool{
				Name:        BuiltinCheckCommand,
				Description: "Check a shell command against the blocklist of destructive commands.",
				InputSchema: stringArgSchema("command"),
			},
			fn: checkCommand,
		},
		{
			tool: manifest.Tool{
				Name:        BuiltinRedactText,
				Description: "Replace credit card numbers, SSNs, API keys and private keys in text with placeholders.",
				InputSchema: stringArgSchema("text"),
			},
			fn: redactText,
		},
		{
			tool: manifest.Tool{
				Name:        BuiltinCheckPath,
				Description: "Check that a file path stays inside the user's home directory.",
				InputSchema: stringArgSchema("path"),
			},
			fn: checkPath,
		},
	}
}

// registerBuiltins adds the host's own tools. They are registered before
// any plugin, so a plugin can never shadow them.
func (h *Host) registerBuiltins() {
	for _, b := range builtins() {
		sch, err := manifest.CompileSchema(b.tool)
		if err != nil {
			// Static schemas; a failure here is a programming error.
			panic(fmt.Sprintf("builtin %s: %v", b.tool.Name, err))
		}
		if !h.registry.RegisterBuiltin(b.tool, validated(b.tool.Name, sch, b.fn)) {
			h.logger.Warn("builtin tool already registered", "tool", b.tool.Name)
		}
	}
}

func validated(name string, sch *jsonschema.Schema, fn tools.BuiltinFunc) tools.BuiltinFunc {
	return func(ctx context.Context, args map[string]any) (*tools.Result, error) {
		if err := manifest.ValidateArguments(sch, args); err != nil {
			return nil, &protocol.InvalidArgumentsError{Tool: name, Err: err}
		}
		return fn(ctx, args)
	}
}

func stringArgSchema(name string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"type":"object","properties":{%q:{"type":"string"}},"required":[%q],"additionalProperties":false}`,
		name, name))
}

func checkCommand(_ context.Context, args map[string]any) (*tools.Result, error) {
	cmd, _ := args["command"].(string)
	err := safety.CheckCommand(cmd)
	var ue *safety.UnsafeCommandError
	switch {
	case err == nil:
		return &tools.Result{Text: "allowed", Structured: map[string]any{"safe": true}}, nil
	case errors.As(err, &ue):
		return &tools.Result{
			Text:       "blocked: " + ue.Reason,
			Structured: map[string]any{"safe": false, "reason": ue.Reason},
		}, nil
	default:
		return nil, err
	}
}

func redactText(_ context.Context, args map[string]any) (*tools.Result, error) {
	text, _ := args["text"].(string)
	redacted, found := safety.Redact(text)
	return &tools.Result{Text: redacted, Redactions: found}, nil
}

func checkPath(_ context.Context, args map[string]any) (*tools.Result, error) {
	path, _ := args["path"].(string)
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("locating home directory: %w", err)
	}
	safe := safety.IsPathSafe(path, home)
	text := "allowed"
	if !safe {
		text = "outside home directory"
	}
	return &tools.Result{Text: text, Structured: map[string]any{"safe": safe}}, nil
}
