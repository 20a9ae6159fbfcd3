package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Dual-field search defaults.
const (
	// DefaultMinFieldK is the per-field search depth floor. Each field is
	// searched at least this deep so fusion sees a meaningful pool even
	// for small k.
	DefaultMinFieldK = 50

	// DefaultPoolMultiplier sizes the fused pool handed to the rerank
	// stage relative to k.
	DefaultPoolMultiplier = 3
)

// Metric identifies the distance metric a Searcher reports.
type Metric int

const (
	MetricCosine Metric = iota
	MetricL2
)

// NormalizeDistance converts a provider distance into a similarity in [0,1].
// Cosine distance maps to 1-d clamped to [0,1]; other metrics use 1/(1+d).
func NormalizeDistance(metric Metric, distance float64) float64 {
	switch metric {
	case MetricCosine:
		sim := 1.0 - distance
		if sim < 0 {
			return 0
		}
		if sim > 1 {
			return 1
		}
		return sim
	default:
		if distance < 0 {
			distance = 0
		}
		return 1.0 / (1.0 + distance)
	}
}

// SearchHit is one raw result from a field search. ID must be stable across
// the two field searches so hits for the same underlying item can be joined.
type SearchHit struct {
	ID       string
	Content  string
	Metadata map[string]any
	Distance float64
}

// Searcher performs a similarity search over one embedded field, selected by
// the filter (e.g. {"field": "title"}). Distance is metric-specific and raw.
type Searcher interface {
	Search(ctx context.Context, query string, k int, filter map[string]any) ([]SearchHit, error)
}

// Candidate is one retrieval result after fusion and optional reranking.
type Candidate struct {
	ID       string
	Content  string
	Metadata map[string]any

	// FieldScores holds the best normalized similarity per field.
	FieldScores map[string]float64

	// FusedScore is populated by fusion. RerankScore replaces it as the
	// ordering key when Reranked is true.
	FusedScore  float64
	RerankScore float64
	Reranked    bool
}

// EngineConfig holds dual-field search tuning parameters.
type EngineConfig struct {
	Metric         Metric
	Fusion         FusionConfig
	MinFieldK      int
	PoolMultiplier int
}

// DefaultEngineConfig returns default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Metric:         MetricCosine,
		Fusion:         DefaultFusionConfig(),
		MinFieldK:      DefaultMinFieldK,
		PoolMultiplier: DefaultPoolMultiplier,
	}
}

// Engine joins title and content similarity searches into one ranked list.
// The two field searches run concurrently; a single field's failure degrades
// to the other field's results rather than failing the query.
type Engine struct {
	searcher Searcher
	fusion   *Fusion
	rerank   *RerankStage
	config   EngineConfig
}

// NewEngine creates an engine, filling zero config with defaults. The rerank
// stage is optional; pass nil to rank by fused score only.
func NewEngine(searcher Searcher, rerank *RerankStage, cfg EngineConfig) *Engine {
	if cfg.MinFieldK <= 0 {
		cfg.MinFieldK = DefaultMinFieldK
	}
	if cfg.PoolMultiplier <= 0 {
		cfg.PoolMultiplier = DefaultPoolMultiplier
	}
	return &Engine{
		searcher: searcher,
		fusion:   NewFusion(cfg.Fusion),
		rerank:   rerank,
		config:   cfg,
	}
}

// SearchDual runs the title and content searches for the query, fuses the
// two rankings, and returns the top k candidates, reranked when a rerank
// stage is attached and available.
func (e *Engine) SearchDual(ctx context.Context, query string, k int) ([]*Candidate, error) {
	if k <= 0 {
		return []*Candidate{}, nil
	}

	topKEach := k
	if topKEach < e.config.MinFieldK {
		topKEach = e.config.MinFieldK
	}

	var (
		titleHits, contentHits []SearchHit
		titleErr, contentErr   error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		titleHits, titleErr = e.searcher.Search(gctx, query, topKEach,
			map[string]any{"field": FieldTitle})
		return nil
	})
	g.Go(func() error {
		contentHits, contentErr = e.searcher.Search(gctx, query, topKEach,
			map[string]any{"field": FieldContent})
		return nil
	})
	_ = g.Wait()

	if titleErr != nil && contentErr != nil {
		return nil, fmt.Errorf("dual-field search failed: %w",
			errors.Join(titleErr, contentErr))
	}
	if titleErr != nil {
		slog.Warn("field_search_failed",
			slog.String("field", FieldTitle),
			slog.String("error", titleErr.Error()))
	}
	if contentErr != nil {
		slog.Warn("field_search_failed",
			slog.String("field", FieldContent),
			slog.String("error", contentErr.Error()))
	}

	candidates := e.aggregate(titleHits, contentHits)
	if len(candidates) == 0 {
		return []*Candidate{}, nil
	}

	similarities := make(map[string]map[string]float64, len(candidates))
	for id, c := range candidates {
		similarities[id] = c.FieldScores
	}

	var scores map[string]float64
	if e.config.Fusion.Weighted {
		scores = e.fusion.FuseWeighted(similarities)
	} else {
		scores = e.fusion.Fuse(fieldRanks(similarities))
	}

	ranked := e.fusion.Rank(scores)
	poolSize := k * e.config.PoolMultiplier
	if poolSize > len(ranked) {
		poolSize = len(ranked)
	}

	pool := make([]*Candidate, 0, poolSize)
	for _, entry := range ranked[:poolSize] {
		c := candidates[entry.ID]
		c.FusedScore = entry.Score
		pool = append(pool, c)
	}

	if e.rerank != nil && e.rerank.Enabled() {
		return e.rerank.Rerank(ctx, query, pool, k), nil
	}

	if len(pool) > k {
		pool = pool[:k]
	}
	return pool, nil
}

// aggregate joins per-fragment hits into per-item candidates, keeping the
// maximum similarity per field. One best-matching fragment represents the
// whole item; the content field's fragment is preferred over the title's.
// Hits without a stable id are skipped rather than failing the query.
func (e *Engine) aggregate(titleHits, contentHits []SearchHit) map[string]*Candidate {
	candidates := make(map[string]*Candidate, len(titleHits)+len(contentHits))
	hasContentRep := make(map[string]bool, len(contentHits))

	for _, hit := range contentHits {
		if hit.ID == "" {
			continue
		}
		sim := NormalizeDistance(e.config.Metric, hit.Distance)
		c := getOrCreate(candidates, hit.ID)
		if sim > c.FieldScores[FieldContent] || !hasContentRep[hit.ID] {
			c.Content = hit.Content
			c.Metadata = hit.Metadata
			hasContentRep[hit.ID] = true
		}
		if sim > c.FieldScores[FieldContent] {
			c.FieldScores[FieldContent] = sim
		}
	}

	for _, hit := range titleHits {
		if hit.ID == "" {
			continue
		}
		sim := NormalizeDistance(e.config.Metric, hit.Distance)
		c := getOrCreate(candidates, hit.ID)
		if !hasContentRep[hit.ID] && (c.Content == "" || sim > c.FieldScores[FieldTitle]) {
			c.Content = hit.Content
			c.Metadata = hit.Metadata
		}
		if sim > c.FieldScores[FieldTitle] {
			c.FieldScores[FieldTitle] = sim
		}
	}

	return candidates
}

func getOrCreate(m map[string]*Candidate, id string) *Candidate {
	if c, ok := m[id]; ok {
		return c
	}
	c := &Candidate{ID: id, FieldScores: make(map[string]float64, 2)}
	m[id] = c
	return c
}
