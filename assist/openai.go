package assist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = "gpt-4o-mini"

const defaultRequestTimeout = 60 * time.Second

// OpenAIProvider is a Provider for the OpenAI chat completions API and
// compatible servers (Ollama, vLLM, LM Studio) reached through WithBaseURL.
type OpenAIProvider struct {
	client    openai.Client
	model     string
	jsonMode  bool
	maxTokens int64
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*openaiSettings)

type openaiSettings struct {
	model     string
	apiKey    string
	baseURL   string
	timeout   time.Duration
	retries   int
	jsonMode  bool
	maxTokens int64
}

// WithModel selects the chat model (default DefaultModel).
func WithModel(model string) OpenAIOption {
	return func(s *openaiSettings) { s.model = model }
}

// WithAPIKey sets the API key. Without it the SDK reads OPENAI_API_KEY.
func WithAPIKey(key string) OpenAIOption {
	return func(s *openaiSettings) { s.apiKey = key }
}

// WithBaseURL points the provider at an OpenAI-compatible server.
func WithBaseURL(url string) OpenAIOption {
	return func(s *openaiSettings) { s.baseURL = url }
}

// WithTimeout bounds each HTTP request (default 60s).
func WithTimeout(d time.Duration) OpenAIOption {
	return func(s *openaiSettings) { s.timeout = d }
}

// WithMaxRetries sets how often the SDK retries a failed request. Negative
// values keep the SDK default.
func WithMaxRetries(n int) OpenAIOption {
	return func(s *openaiSettings) { s.retries = n }
}

// WithJSONMode controls whether requests that want a JSON object set the
// API's response_format. Some compatible servers reject the field.
// Enabled by default.
func WithJSONMode(enabled bool) OpenAIOption {
	return func(s *openaiSettings) { s.jsonMode = enabled }
}

// WithMaxTokens caps the completion length. Zero leaves it to the server.
func WithMaxTokens(n int) OpenAIOption {
	return func(s *openaiSettings) { s.maxTokens = int64(n) }
}

// NewOpenAIProvider creates an OpenAIProvider.
func NewOpenAIProvider(opts ...OpenAIOption) *OpenAIProvider {
	s := openaiSettings{
		model:    DefaultModel,
		timeout:  defaultRequestTimeout,
		retries:  -1,
		jsonMode: true,
	}
	for _, o := range opts {
		o(&s)
	}
	return &OpenAIProvider{
		client:    openai.NewClient(s.requestOptions()...),
		model:     s.model,
		jsonMode:  s.jsonMode,
		maxTokens: s.maxTokens,
	}
}

func (s openaiSettings) requestOptions() []option.RequestOption {
	var opts []option.RequestOption
	if s.apiKey != "" {
		opts = append(opts, option.WithAPIKey(s.apiKey))
	}
	if s.baseURL != "" {
		opts = append(opts, option.WithBaseURL(s.baseURL))
	}
	if s.timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(s.timeout))
	}
	if s.retries >= 0 {
		opts = append(opts, option.WithMaxRetries(s.retries))
	}
	return opts
}

// Complete sends one chat completion request and returns the first choice.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	params := p.params(req)

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion (%s): %w", p.model, err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}

	choice := completion.Choices[0]
	if choice.Message.Refusal != "" {
		return nil, fmt.Errorf("model refused: %s", choice.Message.Refusal)
	}
	return &Response{
		Content:          choice.Message.Content,
		Model:            completion.Model,
		PromptTokens:     int(completion.Usage.PromptTokens),
		CompletionTokens: int(completion.Usage.CompletionTokens),
	}, nil
}

func (p *OpenAIProvider) params(req Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    p.model,
		Messages: toOpenAIMessages(req.Messages),
	}
	if p.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(p.maxTokens)
	}
	if req.JSONObject && p.jsonMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
