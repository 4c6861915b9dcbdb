package assist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nox-hq/warden/manifest"
	"github.com/nox-hq/warden/safety"
)

const defaultMaxAttempts = 2

// GenerationError reports that the model never produced arguments that
// satisfied the tool's schema.
type GenerationError struct {
	Tool     string
	Attempts int
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generating arguments for %s: no valid object after %d attempt(s): %v", e.Tool, e.Attempts, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Usage accumulates token counts across the requests made for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	Requests         int `json:"requests"`
}

// ArgumentGenerator asks a Provider for tool arguments.
type ArgumentGenerator struct {
	provider    Provider
	maxAttempts int
	logger      *slog.Logger
}

// Option configures an ArgumentGenerator.
type Option func(*ArgumentGenerator)

// WithMaxAttempts sets how many replies are requested before giving up
// (default 2). Each retry tells the model why the last reply was rejected.
func WithMaxAttempts(n int) Option {
	return func(g *ArgumentGenerator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithLogger sets the generator's logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *ArgumentGenerator) { g.logger = l }
}

// NewArgumentGenerator creates a generator backed by provider.
func NewArgumentGenerator(provider Provider, opts ...Option) *ArgumentGenerator {
	g := &ArgumentGenerator{
		provider:    provider,
		maxAttempts: defaultMaxAttempts,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// GenerateArguments produces arguments for tool from sourceText. Sensitive
// data in sourceText is replaced with placeholders before anything is
// sent to the provider. The returned object always validates against the
// tool's input schema.
func (g *ArgumentGenerator) GenerateArguments(ctx context.Context, tool manifest.Tool, sourceText string) (map[string]any, error) {
	args, _, err := g.Generate(ctx, tool, sourceText)
	return args, err
}

// Generate is GenerateArguments that also reports token usage.
func (g *ArgumentGenerator) Generate(ctx context.Context, tool manifest.Tool, sourceText string) (map[string]any, Usage, error) {
	var usage Usage

	sch, err := manifest.CompileSchema(tool)
	if err != nil {
		return nil, usage, err
	}

	redacted, found := safety.Redact(sourceText)
	if len(found) > 0 {
		g.logger.Info("source text redacted before generation", "tool", tool.Name, "redactions", len(found))
	}

	messages := []Message{
		{Role: RoleSystem, Content: systemPrompt()},
		{Role: RoleUser, Content: argumentPrompt(tool, redacted)},
	}

	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		resp, err := g.provider.Complete(ctx, Request{Messages: messages, JSONObject: true})
		if err != nil {
			return nil, usage, err
		}
		usage.PromptTokens += resp.PromptTokens
		usage.CompletionTokens += resp.CompletionTokens
		usage.Requests++

		args, err := parseArguments(resp.Content)
		if err == nil {
			err = manifest.ValidateArguments(sch, args)
		}
		if err == nil {
			g.logger.Debug("arguments generated", "tool", tool.Name, "attempts", attempt)
			return args, usage, nil
		}

		lastErr = err
		g.logger.Debug("generated arguments rejected", "tool", tool.Name, "attempt", attempt, "error", err)
		messages = append(messages,
			Message{Role: RoleAssistant, Content: resp.Content},
			Message{Role: RoleUser, Content: retryPrompt(err)},
		)
	}
	return nil, usage, &GenerationError{Tool: tool.Name, Attempts: g.maxAttempts, Err: lastErr}
}

// parseArguments decodes the JSON object in a model reply.
func parseArguments(raw string) (map[string]any, error) {
	obj, ok := extractObject(raw)
	if !ok {
		return nil, errors.New("reply contains no JSON object")
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(obj), &args); err != nil {
		return nil, fmt.Errorf("invalid JSON from model: %w", err)
	}
	return args, nil
}
