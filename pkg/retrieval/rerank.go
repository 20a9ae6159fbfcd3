package retrieval

import (
	"context"
	"log/slog"
	"sort"

	"github.com/ep-code-box/CoE-RagPipeline-sub000/pkg/token"
)

// DefaultRerankBatchTokens bounds the candidate text handed to the
// cross-encoder in one call. Pools above the budget are scored in
// sequential sub-batches.
const DefaultRerankBatchTokens = 12000

// CrossEncoder scores (query, candidate) pairs jointly. Absence of an
// encoder is a normal, expected condition.
type CrossEncoder interface {
	// Score returns one relevance score per text, in input order.
	Score(ctx context.Context, query string, texts []string) ([]float64, error)

	// Available reports whether the encoder can serve requests.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// RerankStage applies cross-encoder reranking to a fused candidate pool.
// The stage is strictly quality-improving: availability is probed once at
// construction, and every failure path falls open to the incoming fused
// order instead of surfacing an error.
type RerankStage struct {
	encoder     CrossEncoder
	available   bool
	batchTokens int
}

// NewRerankStage wraps the encoder, probing availability once. A nil or
// unavailable encoder yields a disabled stage, never an error.
func NewRerankStage(ctx context.Context, encoder CrossEncoder, batchTokens int) *RerankStage {
	if batchTokens <= 0 {
		batchTokens = DefaultRerankBatchTokens
	}

	available := encoder != nil && encoder.Available(ctx)
	if encoder != nil && !available {
		slog.Warn("rerank_stage_disabled", slog.String("reason", "encoder unavailable"))
	}

	return &RerankStage{
		encoder:     encoder,
		available:   available,
		batchTokens: batchTokens,
	}
}

// Enabled reports whether reranking will actually run.
func (s *RerankStage) Enabled() bool {
	return s.available
}

// Rerank scores every candidate against the query and returns the top n by
// rerank score. When the stage is disabled or scoring fails, the first n
// candidates come back in their incoming order with score 0.0.
func (s *RerankStage) Rerank(ctx context.Context, query string, candidates []*Candidate, topN int) []*Candidate {
	if topN > len(candidates) {
		topN = len(candidates)
	}
	if topN <= 0 {
		return []*Candidate{}
	}

	if !s.available {
		return failOpen(candidates, topN)
	}

	scores := make([]float64, 0, len(candidates))
	for start := 0; start < len(candidates); {
		end := s.batchEnd(candidates, start)
		texts := make([]string, 0, end-start)
		for _, c := range candidates[start:end] {
			texts = append(texts, c.Content)
		}

		batchScores, err := s.encoder.Score(ctx, query, texts)
		if err != nil || len(batchScores) != len(texts) {
			slog.Warn("rerank_failed_open",
				slog.Int("pool_size", len(candidates)),
				slog.Any("error", err))
			return failOpen(candidates, topN)
		}
		scores = append(scores, batchScores...)
		start = end
	}

	reranked := make([]*Candidate, len(candidates))
	for i, c := range candidates {
		c.RerankScore = scores[i]
		c.Reranked = true
		reranked[i] = c
	}
	sort.SliceStable(reranked, func(i, j int) bool {
		if reranked[i].RerankScore != reranked[j].RerankScore {
			return reranked[i].RerankScore > reranked[j].RerankScore
		}
		return reranked[i].ID < reranked[j].ID
	})

	return reranked[:topN]
}

// batchEnd extends the batch from start while the accumulated candidate
// text stays within the token budget. At least one candidate is always
// taken so oversized single candidates still get scored.
func (s *RerankStage) batchEnd(candidates []*Candidate, start int) int {
	used := 0
	end := start
	for end < len(candidates) {
		t := token.EstimateTokens(candidates[end].Content)
		if end > start && used+t > s.batchTokens {
			break
		}
		used += t
		end++
	}
	return end
}

// failOpen preserves the incoming fused order with zeroed rerank scores.
func failOpen(candidates []*Candidate, topN int) []*Candidate {
	out := make([]*Candidate, topN)
	for i := 0; i < topN; i++ {
		c := candidates[i]
		c.RerankScore = 0.0
		out[i] = c
	}
	return out
}
