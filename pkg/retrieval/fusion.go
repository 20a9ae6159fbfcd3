// Package retrieval combines dual-field similarity search results into one
// ranked list. Title and content searches are fused via Reciprocal Rank
// Fusion (RRF) or weighted-sum scoring, with an optional cross-encoder
// rerank pass on top.
package retrieval

import (
	"sort"
)

// DefaultRRFK0 is the standard RRF smoothing parameter.
// k0=60 is empirically validated across domains (used by Azure AI Search,
// OpenSearch, etc.). Lower values let rank-1 positions dominate.
const DefaultRRFK0 = 60

// Default weighted-sum field weights. Content similarity carries more signal
// than title similarity for most queries.
const (
	DefaultTitleWeight   = 0.4
	DefaultContentWeight = 0.6
)

// Field names used across search, fusion, and aggregation.
const (
	FieldTitle   = "title"
	FieldContent = "content"
)

// FusionConfig selects the fusion mode and its parameters.
type FusionConfig struct {
	// Weighted switches from RRF (default) to weighted-sum fusion.
	Weighted bool

	// K0 is the RRF smoothing constant (default: 60).
	K0 int

	// TitleWeight and ContentWeight apply in weighted-sum mode.
	TitleWeight   float64
	ContentWeight float64
}

// DefaultFusionConfig returns RRF fusion with standard parameters.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		K0:            DefaultRRFK0,
		TitleWeight:   DefaultTitleWeight,
		ContentWeight: DefaultContentWeight,
	}
}

// ScoredID is one fused entry, ready for ordering.
type ScoredID struct {
	ID    string
	Score float64
}

// Fusion combines per-field rankings or similarities into fused scores.
//
// RRF: fused(id) = Σ_field 1 / (k0 + rank_field(id)), summing only over
// fields where the id appears. Rank-based fusion needs no knowledge of the
// underlying similarity scale, so it stays robust when the two fields use
// different embedding spaces or distance metrics.
type Fusion struct {
	config FusionConfig
}

// NewFusion creates a fusion engine, filling zero config with defaults.
func NewFusion(cfg FusionConfig) *Fusion {
	if cfg.K0 <= 0 {
		cfg.K0 = DefaultRRFK0
	}
	if cfg.TitleWeight == 0 && cfg.ContentWeight == 0 {
		cfg.TitleWeight = DefaultTitleWeight
		cfg.ContentWeight = DefaultContentWeight
	}
	return &Fusion{config: cfg}
}

// Fuse computes RRF scores from per-field 1-based ranks. An id absent from a
// field contributes nothing for that field. Ranks below 1 are clamped to 1.
func (f *Fusion) Fuse(rankings map[string]map[string]int) map[string]float64 {
	scores := make(map[string]float64, len(rankings))
	for id, fields := range rankings {
		total := 0.0
		for _, rank := range fields {
			if rank < 1 {
				rank = 1
			}
			total += 1.0 / float64(f.config.K0+rank)
		}
		scores[id] = total
	}
	return scores
}

// FuseWeighted computes weighted-sum scores from normalized per-field
// similarities. A field without a hit contributes zero. Similarities must
// already be in [0,1]; fusion never sees raw distances.
func (f *Fusion) FuseWeighted(similarities map[string]map[string]float64) map[string]float64 {
	scores := make(map[string]float64, len(similarities))
	for id, fields := range similarities {
		scores[id] = f.config.TitleWeight*fields[FieldTitle] +
			f.config.ContentWeight*fields[FieldContent]
	}
	return scores
}

// Rank orders fused scores descending, breaking ties by id ascending so the
// output is deterministic.
func (f *Fusion) Rank(scores map[string]float64) []ScoredID {
	ranked := make([]ScoredID, 0, len(scores))
	for id, score := range scores {
		ranked = append(ranked, ScoredID{ID: id, Score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ID < ranked[j].ID
	})
	return ranked
}

// fieldRanks converts per-field similarities into 1-based ranks per field,
// ordering each field's ids by similarity descending with id tie-breaks.
func fieldRanks(similarities map[string]map[string]float64) map[string]map[string]int {
	byField := make(map[string][]ScoredID)
	for id, fields := range similarities {
		for field, sim := range fields {
			byField[field] = append(byField[field], ScoredID{ID: id, Score: sim})
		}
	}

	rankings := make(map[string]map[string]int, len(similarities))
	for field, entries := range byField {
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].Score != entries[j].Score {
				return entries[i].Score > entries[j].Score
			}
			return entries[i].ID < entries[j].ID
		})
		for i, e := range entries {
			if rankings[e.ID] == nil {
				rankings[e.ID] = make(map[string]int, 2)
			}
			rankings[e.ID][field] = i + 1
		}
	}
	return rankings
}
