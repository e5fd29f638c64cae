// Package llm provides chat-completion clients for the skill executor.
// Providers are interchangeable behind Client; the executor never sees
// provider wire formats.
package llm

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a chat-completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is a chat-completion provider.
type Client interface {
	// Complete sends the message sequence and returns the full reply text.
	Complete(ctx context.Context, messages []Message) (string, error)

	// CompleteStream sends the message sequence and returns a channel of
	// incremental content deltas plus an error channel. Both channels are
	// closed when the stream ends; at most one error is sent.
	CompleteStream(ctx context.Context, messages []Message) (<-chan string, <-chan error)

	// Model returns the configured model identifier.
	Model() string
}
