package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Chat client defaults.
const (
	DefaultChatEndpoint = "http://localhost:11434/v1"
	DefaultChatModel    = "gpt-4o-mini"
	DefaultChatTimeout  = 120 * time.Second
)

// ChatConfig holds configuration for the OpenAI-compatible chat client.
type ChatConfig struct {
	// Endpoint is the API base URL, without the /chat/completions suffix.
	Endpoint string

	// Model is the model name sent with every request.
	Model string

	// APIKey is sent as a bearer token when non-empty.
	APIKey string

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// Retry configures transport-level retries for retryable failures.
	Retry RetryConfig
}

// DefaultChatConfig returns default chat client configuration.
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		Endpoint: DefaultChatEndpoint,
		Model:    DefaultChatModel,
		Timeout:  DefaultChatTimeout,
		Retry:    DefaultRetryConfig(),
	}
}

// ChatClient talks to an OpenAI-compatible /chat/completions endpoint.
type ChatClient struct {
	client *http.Client
	config ChatConfig
	mu     sync.RWMutex
	closed bool
}

// Verify interface implementation at compile time
var _ Generator = (*ChatClient)(nil)

// chatMessage is one message in the request body.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the JSON request to /chat/completions.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

// chatResponse is the JSON response from /chat/completions.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewChatClient creates a chat client, filling zero config with defaults.
func NewChatClient(cfg ChatConfig) *ChatClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultChatEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultChatModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultChatTimeout
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialDelay == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     30 * time.Second,
		},
	}

	return &ChatClient{client: client, config: cfg}
}

// Generate issues one chat completion, retrying retryable failures per the
// configured retry policy. All failures come back as *GenerationError.
func (c *ChatClient) Generate(ctx context.Context, req Request) (*Result, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, NewGenerationError(KindOther, "client is closed", nil)
	}
	c.mu.RUnlock()

	start := time.Now()
	result, err := retryGenerate(ctx, c.config.Retry, func() (*Result, error) {
		return c.generateOnce(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("chat_completion",
		slog.String("model", c.config.Model),
		slog.Int("tokens_used", result.TokensUsed),
		slog.Duration("elapsed", time.Since(start)))

	return result, nil
}

// generateOnce performs a single HTTP round trip.
func (c *ChatClient) generateOnce(ctx context.Context, req Request) (*Result, error) {
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       c.config.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, NewGenerationError(KindOther, fmt.Sprintf("marshal request: %v", err), err)
	}

	url := c.config.Endpoint + "/chat/completions"
	timeoutCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewGenerationError(KindOther, fmt.Sprintf("create request: %v", err), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewGenerationError(KindUnavailable, fmt.Sprintf("execute request: %v", err), err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewGenerationError(KindUnavailable, fmt.Sprintf("read response: %v", err), err)
	}

	var parsed chatResponse
	if jsonErr := json.Unmarshal(respBody, &parsed); jsonErr != nil && resp.StatusCode == http.StatusOK {
		return nil, NewGenerationError(KindOther, fmt.Sprintf("decode response: %v", jsonErr), jsonErr)
	}

	if resp.StatusCode != http.StatusOK || parsed.Error != nil {
		message := string(respBody)
		if parsed.Error != nil {
			message = parsed.Error.Message
		}
		kind := classifyMessage(resp.StatusCode, message)
		return nil, NewGenerationError(kind,
			fmt.Sprintf("provider error (status %d): %s", resp.StatusCode, message), nil)
	}

	if len(parsed.Choices) == 0 {
		return nil, NewGenerationError(KindOther, "provider returned no choices", nil)
	}

	return &Result{
		Content:    parsed.Choices[0].Message.Content,
		TokensUsed: parsed.Usage.TotalTokens,
	}, nil
}

// Available checks if the chat endpoint is reachable.
func (c *ChatClient) Available(ctx context.Context) bool {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return false
	}
	c.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, c.config.Endpoint+"/models", nil)
	if err != nil {
		return false
	}
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode == http.StatusOK
}

// ModelName returns the configured model.
func (c *ChatClient) ModelName() string {
	return c.config.Model
}

// Close releases resources.
func (c *ChatClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if transport, ok := c.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}
