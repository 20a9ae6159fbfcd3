package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HTTP cross-encoder configuration defaults.
const (
	DefaultEncoderEndpoint = "http://localhost:9659"
	DefaultEncoderModel    = "reranker-small"
	DefaultEncoderTimeout  = 30 * time.Second
)

// HTTPEncoderConfig holds configuration for the HTTP cross-encoder client.
type HTTPEncoderConfig struct {
	// Endpoint is the reranker server URL.
	Endpoint string

	// Model is the cross-encoder model alias.
	Model string

	// Timeout is the per-request timeout.
	Timeout time.Duration
}

// DefaultHTTPEncoderConfig returns default encoder configuration.
func DefaultHTTPEncoderConfig() HTTPEncoderConfig {
	return HTTPEncoderConfig{
		Endpoint: DefaultEncoderEndpoint,
		Model:    DefaultEncoderModel,
		Timeout:  DefaultEncoderTimeout,
	}
}

// HTTPCrossEncoder scores query/candidate pairs via a reranker server's
// /rerank endpoint.
type HTTPCrossEncoder struct {
	client *http.Client
	config HTTPEncoderConfig
	mu     sync.RWMutex
	closed bool
}

// Verify interface implementation at compile time
var _ CrossEncoder = (*HTTPCrossEncoder)(nil)

// scoreRequest is the JSON request to the /rerank endpoint.
type scoreRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
}

// scoreResponse is the JSON response from the /rerank endpoint.
type scoreResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// NewHTTPCrossEncoder creates an encoder client, filling zero config with
// defaults. No connection is attempted here; availability is probed by the
// stage that wraps the encoder.
func NewHTTPCrossEncoder(cfg HTTPEncoderConfig) *HTTPCrossEncoder {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEncoderEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultEncoderModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultEncoderTimeout
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     30 * time.Second,
		},
	}

	return &HTTPCrossEncoder{client: client, config: cfg}
}

// Score returns one relevance score per text, in input order.
func (e *HTTPCrossEncoder) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("encoder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return []float64{}, nil
	}

	start := time.Now()
	body, err := json.Marshal(scoreRequest{
		Query:     query,
		Documents: texts,
		Model:     e.config.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost,
		e.config.Endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank failed (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	if len(parsed.Results) != len(texts) {
		return nil, fmt.Errorf("rerank returned %d scores for %d documents",
			len(parsed.Results), len(texts))
	}

	// The server may return results sorted by score; restore input order.
	sort.Slice(parsed.Results, func(i, j int) bool {
		return parsed.Results[i].Index < parsed.Results[j].Index
	})
	scores := make([]float64, len(texts))
	for i, r := range parsed.Results {
		scores[i] = r.Score
	}

	slog.Debug("cross_encoder_scored",
		slog.Int("doc_count", len(texts)),
		slog.Duration("elapsed", time.Since(start)))

	return scores, nil
}

// Available checks whether the reranker server is reachable and healthy.
func (e *HTTPCrossEncoder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet,
		e.config.Endpoint+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode == http.StatusOK
}

// Close releases resources.
func (e *HTTPCrossEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if transport, ok := e.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}
