package assist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nox-hq/warden/manifest"
)

// systemPrompt instructs the model to answer with a bare argument object.
func systemPrompt() string {
	return `You generate JSON arguments for a tool call.
Given the tool's input schema and the user's text, produce one JSON object that matches the schema exactly.
Use only properties the schema defines and include every required property.
Respond ONLY with the JSON object. Do not include markdown fences or other text.`
}

// argumentPrompt describes the tool and carries the (already redacted)
// source text.
func argumentPrompt(tool manifest.Tool, sourceText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tool: %s\n", tool.Name)
	if tool.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", tool.Description)
	}
	b.WriteString("\nInput schema:\n")
	b.WriteString(indentSchema(tool.InputSchema))
	b.WriteString("\n\nUser text:\n")
	b.WriteString(sourceText)
	return b.String()
}

// retryPrompt tells the model why its previous answer was rejected.
func retryPrompt(err error) string {
	return fmt.Sprintf("That object was rejected: %v\nRespond again with ONLY a corrected JSON object.", err)
}

func indentSchema(raw json.RawMessage) string {
	if len(raw) == 0 {
		return `{"type":"object"}`
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

// extractObject pulls the outermost JSON object out of a model reply,
// tolerating code fences and prose around it.
func extractObject(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "", false
	}
	return s[start : end+1], true
}
