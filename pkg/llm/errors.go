package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies generation failures at the provider boundary.
type ErrorKind string

const (
	// KindContextLength means the prompt exceeded the model's context
	// window. The orchestrator escalates to chunked mode on this kind.
	KindContextLength ErrorKind = "CONTEXT_LENGTH_EXCEEDED"

	// KindRateLimited means the provider throttled the request. Retryable.
	KindRateLimited ErrorKind = "RATE_LIMITED"

	// KindUnavailable means the provider could not be reached. Retryable.
	KindUnavailable ErrorKind = "UNAVAILABLE"

	// KindOther covers everything else.
	KindOther ErrorKind = "OTHER"
)

// GenerationError is the structured error returned by Generator
// implementations. Provider message strings are classified into a Kind once,
// here, so no caller ever needs substring matching.
type GenerationError struct {
	// Kind is the failure classification.
	Kind ErrorKind

	// Message is the human-readable provider message.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *GenerationError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *GenerationError) Unwrap() error {
	return e.Cause
}

// Is matches GenerationErrors by Kind, enabling errors.Is with kind
// sentinels.
func (e *GenerationError) Is(target error) bool {
	if t, ok := target.(*GenerationError); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Retryable reports whether the failure is worth retrying at the transport
// layer.
func (e *GenerationError) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindUnavailable
}

// NewGenerationError creates a GenerationError with the given kind.
func NewGenerationError(kind ErrorKind, message string, cause error) *GenerationError {
	return &GenerationError{Kind: kind, Message: message, Cause: cause}
}

// IsContextLength reports whether err is a context-length failure.
func IsContextLength(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge) && ge.Kind == KindContextLength
}

// IsRateLimited reports whether err is a provider throttle.
func IsRateLimited(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge) && ge.Kind == KindRateLimited
}

// contextLengthMarkers are provider message fragments that indicate the
// prompt exceeded the context window. Matching happens only here, at the
// boundary; everything downstream branches on Kind.
var contextLengthMarkers = []string{
	"context length",
	"maximum context",
	"context_length_exceeded",
	"too many tokens",
	"prompt is too long",
}

// classifyMessage maps a provider error message and HTTP status to a Kind.
func classifyMessage(status int, message string) ErrorKind {
	lower := strings.ToLower(message)
	for _, marker := range contextLengthMarkers {
		if strings.Contains(lower, marker) {
			return KindContextLength
		}
	}

	switch {
	case status == 429:
		return KindRateLimited
	case status >= 500 || status == 0:
		return KindUnavailable
	default:
		return KindOther
	}
}
