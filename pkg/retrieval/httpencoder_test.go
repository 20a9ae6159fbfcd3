package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPCrossEncoder_Score(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rerank", r.URL.Path)

		var req scoreRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "query", req.Query)
		require.Len(t, req.Documents, 3)

		// Respond sorted by score, the way reranker servers usually do.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"index": 2, "score": 0.9},
				{"index": 0, "score": 0.5},
				{"index": 1, "score": 0.1},
			},
		})
	}))
	defer srv.Close()

	enc := NewHTTPCrossEncoder(HTTPEncoderConfig{Endpoint: srv.URL})
	defer func() { _ = enc.Close() }()

	scores, err := enc.Score(context.Background(), "query", []string{"a", "b", "c"})

	// Input order is restored regardless of server ordering
	require.NoError(t, err)
	require.Len(t, scores, 3)
	assert.InDelta(t, 0.5, scores[0], 1e-12)
	assert.InDelta(t, 0.1, scores[1], 1e-12)
	assert.InDelta(t, 0.9, scores[2], 1e-12)
}

func TestHTTPCrossEncoder_ScoreCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"index": 0, "score": 0.5}},
		})
	}))
	defer srv.Close()

	enc := NewHTTPCrossEncoder(HTTPEncoderConfig{Endpoint: srv.URL})
	defer func() { _ = enc.Close() }()

	_, err := enc.Score(context.Background(), "query", []string{"a", "b"})
	assert.Error(t, err)
}

func TestHTTPCrossEncoder_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	enc := NewHTTPCrossEncoder(HTTPEncoderConfig{Endpoint: srv.URL})
	defer func() { _ = enc.Close() }()

	_, err := enc.Score(context.Background(), "query", []string{"a"})
	assert.Error(t, err)
}

func TestHTTPCrossEncoder_Available(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	enc := NewHTTPCrossEncoder(HTTPEncoderConfig{Endpoint: srv.URL})
	defer func() { _ = enc.Close() }()

	assert.True(t, enc.Available(context.Background()))

	require.NoError(t, enc.Close())
	assert.False(t, enc.Available(context.Background()))
}

func TestHTTPCrossEncoder_ClosedScore(t *testing.T) {
	enc := NewHTTPCrossEncoder(HTTPEncoderConfig{Endpoint: "http://localhost:1"})
	require.NoError(t, enc.Close())

	_, err := enc.Score(context.Background(), "query", []string{"a"})
	assert.Error(t, err)
}

func TestHTTPCrossEncoder_EmptyInput(t *testing.T) {
	enc := NewHTTPCrossEncoder(HTTPEncoderConfig{Endpoint: "http://localhost:1"})
	defer func() { _ = enc.Close() }()

	scores, err := enc.Score(context.Background(), "query", nil)
	require.NoError(t, err)
	assert.Empty(t, scores)
}
