package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient points a ChatClient at a test server with fast retries.
func newTestClient(url string) *ChatClient {
	return NewChatClient(ChatConfig{
		Endpoint: url,
		Model:    "gpt-4o-mini",
		Timeout:  5 * time.Second,
		Retry: RetryConfig{
			MaxRetries:   2,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2.0,
		},
	})
}

func completionOK(content string, tokens int) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
		"usage": map[string]any{"total_tokens": tokens},
	}
}

func TestChatClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 2)
		require.Equal(t, "system", req.Messages[0].Role)
		require.Equal(t, "user", req.Messages[1].Role)

		_ = json.NewEncoder(w).Encode(completionOK("generated text", 123))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	defer func() { _ = client.Close() }()

	result, err := client.Generate(context.Background(), Request{
		System:      "You are a writer.",
		Prompt:      "Write something.",
		MaxTokens:   100,
		Temperature: 0.7,
	})

	require.NoError(t, err)
	assert.Equal(t, "generated text", result.Content)
	assert.Equal(t, 123, result.TokensUsed)
}

func TestChatClient_ContextLengthNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"message": "This model's maximum context length is 8192 tokens",
				"type":    "invalid_request_error",
			},
		})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	defer func() { _ = client.Close() }()

	_, err := client.Generate(context.Background(), Request{Prompt: "huge prompt"})

	require.Error(t, err)
	assert.True(t, IsContextLength(err))
	assert.Equal(t, int32(1), calls.Load(), "context-length failures must not be retried")
}

func TestChatClient_RateLimitRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": "Rate limit reached"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(completionOK("after retry", 10))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	defer func() { _ = client.Close() }()

	result, err := client.Generate(context.Background(), Request{Prompt: "hello"})

	require.NoError(t, err)
	assert.Equal(t, "after retry", result.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestChatClient_ClosedClient(t *testing.T) {
	client := newTestClient("http://localhost:1")
	require.NoError(t, client.Close())

	_, err := client.Generate(context.Background(), Request{Prompt: "x"})
	assert.Error(t, err)
}

func TestChatClient_Available(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/models" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	defer func() { _ = client.Close() }()

	assert.True(t, client.Available(context.Background()))
}
