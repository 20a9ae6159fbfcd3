// Package llm defines the generation boundary used by the document
// orchestrator: a Generator interface, an OpenAI-compatible HTTP chat
// client, and a typed GenerationError so callers branch on error kind
// instead of matching provider message strings.
package llm

import "context"

// Request is a single generation call.
type Request struct {
	// System is the system instruction.
	System string

	// Prompt is the user payload.
	Prompt string

	// MaxTokens bounds the completion length.
	MaxTokens int

	// Temperature controls sampling randomness.
	Temperature float64
}

// Result is the provider response for one generation call.
type Result struct {
	// Content is the generated text.
	Content string

	// TokensUsed is the provider-reported total token usage for the call
	// (prompt + completion), 0 when the provider omits usage.
	TokensUsed int
}

// Generator issues LLM generation calls. Implementations must be safe for
// concurrent use.
type Generator interface {
	// Generate issues one generation call. Failures are returned as
	// *GenerationError so callers can branch on Kind.
	Generate(ctx context.Context, req Request) (*Result, error)

	// Available checks if the provider is reachable.
	Available(ctx context.Context) bool

	// ModelName returns the model identifier used for budget lookups.
	ModelName() string

	// Close releases resources.
	Close() error
}
