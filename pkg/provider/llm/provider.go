// Package llm defines the Provider interface for text-generation backends.
//
// An LLM provider wraps a remote or local model API (OpenAI, Anthropic,
// Ollama, a llama.cpp server, …) and exposes a uniform completion interface
// for the clinical fact extractor, without coupling to any specific SDK.
//
// Providers are never expected to guarantee well-formed output — the
// extractor tolerates arbitrary text. What providers must honour is the
// decoding configuration: the Temperature field is always forwarded, so a
// zero value requests greedy (deterministic) decoding rather than the
// backend default.
//
// Implementations must be safe for concurrent use from multiple goroutines.
package llm

import "context"

// Message represents a single message in a model conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// CompletionRequest carries everything the model needs to produce a
// response. At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is typically
	// from the "user" role and drives the response.
	Messages []Message

	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation. Providers without a dedicated system slot prepend it
	// as a "system"-role message.
	SystemPrompt string

	// Temperature controls output randomness. Unlike most SDK defaults, a
	// zero value is forwarded as an explicit 0.0 — greedy decoding — because
	// reproducibility is part of this system's capability contract.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may
	// generate. Zero means use the provider default.
	MaxTokens int
}

// Usage holds token accounting information returned by the backend. Counts
// are in the model's native token unit.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is the full, non-streaming model reply.
type CompletionResponse struct {
	// Content is the raw text of the reply, exactly as generated.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any text-generation backend.
//
// Complete blocks until the full response is available or ctx is cancelled.
// Providers must not retry internally; a capability failure is returned to
// the caller as-is.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
