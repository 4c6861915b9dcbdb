package assist

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// chatServer is a fake OpenAI-compatible endpoint. It replies with content
// (or refusal) and records the decoded request body.
type chatServer struct {
	*httptest.Server
	body map[string]any
}

func newChatServer(t *testing.T, content, refusal string, choices int) *chatServer {
	t.Helper()
	cs := &chatServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &cs.body); err != nil {
			t.Errorf("request body is not JSON: %v", err)
		}
		out := make([]map[string]any, 0, choices)
		for i := 0; i < choices; i++ {
			out = append(out, map[string]any{
				"index":         i,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content, "refusal": refusal},
				"logprobs":      nil,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1234567890,
			"model":   "served-model",
			"choices": out,
			"usage":   map[string]any{"prompt_tokens": 42, "completion_tokens": 15, "total_tokens": 57},
		})
	}))
	t.Cleanup(cs.Close)
	return cs
}

func userRequest(text string, jsonObject bool) Request {
	return Request{Messages: []Message{{Role: RoleUser, Content: text}}, JSONObject: jsonObject}
}

func TestNewOpenAIProvider_Defaults(t *testing.T) {
	p := NewOpenAIProvider()
	if p.model != DefaultModel {
		t.Errorf("model = %q, want %q", p.model, DefaultModel)
	}
	if !p.jsonMode {
		t.Error("JSON mode should be on by default")
	}
	if p.maxTokens != 0 {
		t.Errorf("maxTokens = %d, want 0", p.maxTokens)
	}
}

func TestNewOpenAIProvider_Options(t *testing.T) {
	p := NewOpenAIProvider(
		WithModel("llama3"),
		WithAPIKey("sk-test-key"),
		WithBaseURL("http://localhost:11434/v1"),
		WithTimeout(10*time.Second),
		WithMaxRetries(1),
		WithJSONMode(false),
		WithMaxTokens(256),
	)
	if p.model != "llama3" {
		t.Errorf("model = %q, want %q", p.model, "llama3")
	}
	if p.jsonMode {
		t.Error("WithJSONMode(false) ignored")
	}
	if p.maxTokens != 256 {
		t.Errorf("maxTokens = %d, want 256", p.maxTokens)
	}
}

func TestOpenAISettings_RequestOptions(t *testing.T) {
	tests := []struct {
		name string
		s    openaiSettings
		want int
	}{
		{"nothing set", openaiSettings{retries: -1}, 0},
		{"key and url", openaiSettings{apiKey: "k", baseURL: "http://x", retries: -1}, 2},
		{"timeout and retries", openaiSettings{timeout: time.Second, retries: 0}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(tt.s.requestOptions()); got != tt.want {
				t.Errorf("len(requestOptions()) = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestToOpenAIMessages(t *testing.T) {
	msgs := toOpenAIMessages([]Message{
		{Role: RoleSystem, Content: "You generate JSON arguments for a tool call."},
		{Role: RoleUser, Content: "Tool: echo"},
		{Role: RoleAssistant, Content: `{"text":"hi"}`},
		{Role: Role("unknown"), Content: "Defaults to user."},
	})
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	if msgs[0].OfSystem == nil || msgs[1].OfUser == nil || msgs[2].OfAssistant == nil || msgs[3].OfUser == nil {
		t.Errorf("roles were not mapped to the matching message variants")
	}
	if got := toOpenAIMessages(nil); len(got) != 0 {
		t.Errorf("toOpenAIMessages(nil) has %d messages, want 0", len(got))
	}
}

func TestComplete_Success(t *testing.T) {
	srv := newChatServer(t, `{"text":"hello"}`, "", 1)
	p := NewOpenAIProvider(WithBaseURL(srv.URL), WithAPIKey("test-key"), WithModel("gpt-4o"), WithMaxTokens(64))

	resp, err := p.Complete(context.Background(), Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "You are helpful."},
			{Role: RoleUser, Content: "Hello"},
		},
		JSONObject: true,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"text":"hello"}` {
		t.Errorf("Content = %q, want %q", resp.Content, `{"text":"hello"}`)
	}
	if resp.Model != "served-model" {
		t.Errorf("Model = %q, want %q", resp.Model, "served-model")
	}
	if resp.PromptTokens != 42 || resp.CompletionTokens != 15 {
		t.Errorf("tokens = %d/%d, want 42/15", resp.PromptTokens, resp.CompletionTokens)
	}

	if srv.body["model"] != "gpt-4o" {
		t.Errorf("request model = %v, want gpt-4o", srv.body["model"])
	}
	format, _ := srv.body["response_format"].(map[string]any)
	if format["type"] != "json_object" {
		t.Errorf("response_format = %v, want json_object", srv.body["response_format"])
	}
	if srv.body["max_completion_tokens"] != float64(64) {
		t.Errorf("max_completion_tokens = %v, want 64", srv.body["max_completion_tokens"])
	}
}

func TestComplete_JSONModeDisabled(t *testing.T) {
	srv := newChatServer(t, `{}`, "", 1)
	p := NewOpenAIProvider(WithBaseURL(srv.URL), WithAPIKey("test-key"), WithJSONMode(false))

	if _, err := p.Complete(context.Background(), userRequest("Hello", true)); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, ok := srv.body["response_format"]; ok {
		t.Errorf("response_format sent with JSON mode disabled: %v", srv.body["response_format"])
	}
}

func TestComplete_PlainRequest(t *testing.T) {
	srv := newChatServer(t, "hi", "", 1)
	p := NewOpenAIProvider(WithBaseURL(srv.URL), WithAPIKey("test-key"))

	if _, err := p.Complete(context.Background(), userRequest("Hello", false)); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, ok := srv.body["response_format"]; ok {
		t.Error("response_format sent for a request that did not ask for JSON")
	}
}

func TestComplete_NoChoices(t *testing.T) {
	srv := newChatServer(t, "", "", 0)
	p := NewOpenAIProvider(WithBaseURL(srv.URL), WithAPIKey("test-key"))

	_, err := p.Complete(context.Background(), userRequest("Hello", false))
	if err == nil || !strings.Contains(err.Error(), "no choices") {
		t.Fatalf("error = %v, want a no-choices error", err)
	}
}

func TestComplete_Refusal(t *testing.T) {
	srv := newChatServer(t, "", "I can't help with that.", 1)
	p := NewOpenAIProvider(WithBaseURL(srv.URL), WithAPIKey("test-key"))

	_, err := p.Complete(context.Background(), userRequest("Hello", true))
	if err == nil || !strings.Contains(err.Error(), "refused") {
		t.Fatalf("error = %v, want a refusal error", err)
	}
}

func TestComplete_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": {"message": "server error", "type": "server_error"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(WithBaseURL(srv.URL), WithAPIKey("test-key"), WithMaxRetries(0))

	_, err := p.Complete(context.Background(), userRequest("Hello", false))
	if err == nil {
		t.Fatal("expected error for HTTP 500")
	}
	if !strings.Contains(err.Error(), "openai chat completion") {
		t.Errorf("error = %q, want it wrapped", err)
	}
}
