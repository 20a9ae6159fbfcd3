// Package generate drives long-document LLM generation, switching between a
// single completion call and sequential chunked generation based on the
// estimated prompt size.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ep-code-box/CoE-RagPipeline-sub000/pkg/chunk"
	"github.com/ep-code-box/CoE-RagPipeline-sub000/pkg/llm"
	"github.com/ep-code-box/CoE-RagPipeline-sub000/pkg/token"
)

// Orchestrator defaults.
const (
	DefaultMaxCompletionTokens = 4000
	DefaultTemperature         = 0.7
	DefaultChunkDelay          = 1 * time.Second
	DefaultMaxConcurrent       = 3

	// singleCallMargin keeps the single-call path comfortably below the
	// model's usable limit. Prompts above it are chunked up front.
	singleCallMargin = 0.95
)

// Config holds orchestrator tuning parameters.
type Config struct {
	// MaxCompletionTokens is reserved for the model's output on every call.
	MaxCompletionTokens int

	// Temperature is passed through to every generation call.
	Temperature float64

	// MaxTokensPerChunk is the per-chunk prompt budget in chunked mode.
	MaxTokensPerChunk int

	// OverlapTokens is carried between adjacent chunks. Negative disables
	// overlap. Zero selects the default.
	OverlapTokens int

	// ChunkDelay is the pause between consecutive chunk calls.
	ChunkDelay time.Duration

	// MaxConcurrent bounds concurrent document generations.
	MaxConcurrent int64
}

// DefaultConfig returns default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		MaxCompletionTokens: DefaultMaxCompletionTokens,
		Temperature:         DefaultTemperature,
		MaxTokensPerChunk:   chunk.DefaultMaxChunkTokens,
		OverlapTokens:       chunk.DefaultOverlapTokens,
		ChunkDelay:          DefaultChunkDelay,
		MaxConcurrent:       DefaultMaxConcurrent,
	}
}

// ChunkResult is one generation call's outcome for one chunk.
type ChunkResult struct {
	Content    string
	TokensUsed int
	ChunkIndex int

	// Err records a per-chunk failure. Content then holds a readable
	// placeholder so the merged document never silently drops a chunk.
	Err error
}

// Document is the merged generation output.
type Document struct {
	Content    string
	TokensUsed int

	// Chunked reports whether the document was produced by the chunked
	// path rather than a single completion call.
	Chunked bool

	// ChunkResults holds per-chunk outcomes when Chunked is true.
	ChunkResults []ChunkResult
}

// Orchestrator produces merged documents from prompts of any size. A single
// orchestrator is safe for concurrent use; the semaphore bounds how many
// documents generate at once.
type Orchestrator struct {
	gen       llm.Generator
	chunker   *chunk.Chunker
	estimator *token.CachedEstimator
	sem       *semaphore.Weighted
	config    Config
}

// NewOrchestrator creates an orchestrator around the given generator,
// filling zero config fields with defaults.
func NewOrchestrator(gen llm.Generator, cfg Config) *Orchestrator {
	if cfg.MaxCompletionTokens <= 0 {
		cfg.MaxCompletionTokens = DefaultMaxCompletionTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokensPerChunk <= 0 {
		cfg.MaxTokensPerChunk = chunk.DefaultMaxChunkTokens
	}
	if cfg.OverlapTokens == 0 {
		cfg.OverlapTokens = chunk.DefaultOverlapTokens
	}
	if cfg.ChunkDelay == 0 {
		cfg.ChunkDelay = DefaultChunkDelay
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}

	// Chunking re-estimates overlap-prefixed builders and the same units
	// repeatedly; a shared memoized estimator avoids rescanning them.
	estimator := token.NewCachedEstimator(0)
	chunker := chunk.NewChunker(chunk.Options{
		MaxTokensPerChunk: cfg.MaxTokensPerChunk,
		OverlapTokens:     cfg.OverlapTokens,
		Estimate:          estimator.EstimateTokens,
	})

	return &Orchestrator{
		gen:       gen,
		chunker:   chunker,
		estimator: estimator,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
		config:    cfg,
	}
}

// Generate produces one merged document for the given system instruction and
// user payload. Prompts that fit within the model's usable limit are issued
// as a single call; larger prompts are chunked, generated sequentially, and
// merged with section markers. A single-call failure that signals the prompt
// exceeded the context window escalates once into chunked mode with a halved
// per-chunk budget.
func (o *Orchestrator) Generate(ctx context.Context, system, prompt string) (*Document, error) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer o.sem.Release(1)

	estimated := o.estimator.EstimateTokens(system) + o.estimator.EstimateTokens(prompt)
	usable := token.ModelLimit(o.gen.ModelName(), o.config.MaxCompletionTokens)

	if float64(estimated) <= singleCallMargin*float64(usable) {
		result, err := o.gen.Generate(ctx, llm.Request{
			System:      system,
			Prompt:      prompt,
			MaxTokens:   o.config.MaxCompletionTokens,
			Temperature: o.config.Temperature,
		})
		if err == nil {
			return &Document{Content: result.Content, TokensUsed: result.TokensUsed}, nil
		}
		if !llm.IsContextLength(err) {
			return nil, err
		}

		// The estimate undershot the real tokenizer. Escalate once into
		// chunked mode with a smaller budget.
		slog.Warn("context_length_exceeded",
			slog.Int("estimated_tokens", estimated),
			slog.Int("usable_limit", usable))
		return o.generateChunked(ctx, system, prompt, o.config.MaxTokensPerChunk/2)
	}

	slog.Debug("chunked_generation_selected",
		slog.Int("estimated_tokens", estimated),
		slog.Int("usable_limit", usable))
	return o.generateChunked(ctx, system, prompt, o.config.MaxTokensPerChunk)
}

// generateChunked splits the payload and generates each chunk in order.
// Per-chunk failures become placeholder results; only cancellation stops the
// loop, and then the partial merge is returned alongside the context error.
func (o *Orchestrator) generateChunked(ctx context.Context, system, prompt string, budget int) (*Document, error) {
	chunks := o.chunker.ChunkWithBudget(prompt, budget)
	results := make([]ChunkResult, 0, len(chunks))

	for i, ch := range chunks {
		if ctx.Err() != nil {
			return mergeResults(results, len(chunks)), ctx.Err()
		}

		result, err := o.gen.Generate(ctx, llm.Request{
			System:      chunkSystemPrompt(system, i+1, len(chunks)),
			Prompt:      ch.Content,
			MaxTokens:   o.config.MaxCompletionTokens,
			Temperature: o.config.Temperature,
		})
		if err != nil {
			if ctx.Err() != nil {
				return mergeResults(results, len(chunks)), ctx.Err()
			}
			slog.Warn("chunk_generation_failed",
				slog.Int("chunk_index", i),
				slog.String("error", err.Error()))
			results = append(results, ChunkResult{
				Content:    fmt.Sprintf("[chunk %d failed: %v]", i, err),
				ChunkIndex: i,
				Err:        err,
			})
		} else {
			results = append(results, ChunkResult{
				Content:    result.Content,
				TokensUsed: result.TokensUsed,
				ChunkIndex: i,
			})
		}

		if i < len(chunks)-1 && o.config.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return mergeResults(results, len(chunks)), ctx.Err()
			case <-time.After(o.config.ChunkDelay):
			}
		}
	}

	return mergeResults(results, len(chunks)), nil
}

// chunkSystemPrompt wraps the caller's instruction with chunk positioning so
// each call knows its place in the larger document.
func chunkSystemPrompt(system string, part, total int) string {
	header := fmt.Sprintf(
		"You are writing part %d of %d of a longer document. "+
			"Maintain a consistent tone and style with the other parts, "+
			"and avoid repeating content already covered in earlier parts.",
		part, total)
	if system == "" {
		return header
	}
	return header + "\n\n" + system
}

// mergeResults concatenates chunk outputs in order, each under a section
// marker, and sums token usage. planned is the chunk count the job intended;
// a cancelled run merges fewer results but keeps the true denominator.
func mergeResults(results []ChunkResult, planned int) *Document {
	var sb strings.Builder
	total := 0
	for _, r := range results {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "## Part %d of %d\n\n", r.ChunkIndex+1, planned)
		sb.WriteString(r.Content)
		total += r.TokensUsed
	}
	return &Document{
		Content:      sb.String(),
		TokensUsed:   total,
		Chunked:      true,
		ChunkResults: results,
	}
}
