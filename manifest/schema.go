package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// CompileSchema compiles a tool's input schema. The schema is registered
// under an in-memory URL, so no references are ever fetched from disk or
// network.
func CompileSchema(t Tool) (*jsonschema.Schema, error) {
	raw := t.InputSchema
	if len(raw) == 0 {
		raw = defaultInputSchema
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding input schema: %w", err)
	}

	loc := "mem://tools/" + url.PathEscape(t.Name) + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(loc, doc); err != nil {
		return nil, fmt.Errorf("adding input schema: %w", err)
	}
	sch, err := c.Compile(loc)
	if err != nil {
		return nil, fmt.Errorf("compiling input schema: %w", err)
	}
	return sch, nil
}

// ValidateArguments checks tool arguments against a compiled input schema.
// The arguments are round-tripped through JSON first so Go values are
// validated in the form the plugin will receive them.
func ValidateArguments(sch *jsonschema.Schema, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encoding arguments: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decoding arguments: %w", err)
	}
	return sch.Validate(inst)
}
