// Package llm defines the Provider interface for language-model backends.
//
// A provider wraps a remote or local model API (OpenAI, Anthropic, a local
// Ollama instance, ...) and exposes one blocking completion call so the turn
// router can produce a mentor reply without coupling to any specific SDK.
//
// Implementors must be safe for concurrent use and must return promptly when
// the supplied context is cancelled.
package llm

import (
	"context"
	"errors"
)

// ErrNoMessages is returned for a request without conversation messages.
var ErrNoMessages = errors.New("llm: request has no messages")

// FinishLength is the finish reason reported when the reply hit MaxTokens.
const FinishLength = "length"

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is the
	// user turn that drives the response.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0].
	// Zero means use the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means provider default.
	MaxTokens int

	// SystemPrompt is injected before the conversation history. Providers
	// without a dedicated system field prepend it as a "system"-role message.
	SystemPrompt string
}

// Conversation returns the messages to send, with SystemPrompt first when
// set. It fails with [ErrNoMessages] on an empty history.
func (r CompletionRequest) Conversation() ([]Message, error) {
	if len(r.Messages) == 0 {
		return nil, ErrNoMessages
	}
	out := make([]Message, 0, len(r.Messages)+1)
	if r.SystemPrompt != "" {
		out = append(out, Message{Role: RoleSystem, Content: r.SystemPrompt})
	}
	return append(out, r.Messages...), nil
}

// CompletionResponse is the full reply returned by Complete.
type CompletionResponse struct {
	Content string
	Usage   Usage

	// FinishReason is the backend's stop reason ("stop", [FinishLength], ...),
	// empty when the backend does not report one.
	FinishReason string
}

// Truncated reports whether the reply was cut off by the token limit.
func (r *CompletionResponse) Truncated() bool { return r.FinishReason == FinishLength }

// Provider is the abstraction over any language-model backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
