// Package assist turns free text into tool arguments with a chat model.
// The text is redacted before it leaves the host, and every generated
// argument object is validated against the tool's input schema.
package assist

import "context"

// Role identifies the sender of a message in the chat conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry in the chat conversation sent to the model.
type Message struct {
	Role    Role
	Content string
}

// Request is one completion request.
type Request struct {
	Messages []Message
	// JSONObject asks for a reply that is a single JSON object. Providers
	// that cannot enforce it may ignore it; replies are validated anyway.
	JSONObject bool
}

// Response is the model's reply and what it cost.
type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Provider is a chat model backend. Implementations must be safe for
// concurrent use.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
