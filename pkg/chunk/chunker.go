// Package chunk splits long text into token-budgeted chunks for multi-call
// LLM processing. Splitting is structure-aware by default: fenced code blocks
// stay atomic and prose is cut at paragraph, then sentence, boundaries.
package chunk

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/ep-code-box/CoE-RagPipeline-sub000/pkg/token"
)

// Chunking defaults.
const (
	DefaultMaxChunkTokens = 8000 // Per-chunk token budget
	DefaultOverlapTokens  = 200  // Context carried across chunk boundaries
	CharsPerToken         = 3.5  // Rough chars-per-token for char-window math
)

// TokenChunk is a contiguous slice of an original text plus accounting
// metadata. Created only by Chunker, immutable afterward.
type TokenChunk struct {
	// Content is the chunk's text (may include an overlap tail from the
	// previous chunk when overlap is enabled).
	Content string

	// EstimatedTokens is the heuristic token count of Content.
	EstimatedTokens int

	// ChunkIndex is the 0-based position within the parent split.
	ChunkIndex int

	// TotalChunks is the number of chunks produced by the same split call.
	TotalChunks int

	// Metadata carries diagnostics: original_length, original_tokens.
	Metadata map[string]string
}

// EstimateFunc counts tokens in a text. Defaults to token.EstimateTokens;
// inject a token.CachedEstimator method for memoization.
type EstimateFunc func(string) int

// Options configures a Chunker.
type Options struct {
	// MaxTokensPerChunk is the per-chunk budget (default: DefaultMaxChunkTokens).
	MaxTokensPerChunk int

	// OverlapTokens is the approximate overlap carried into each new chunk
	// (default: DefaultOverlapTokens). Zero or negative disables overlap.
	OverlapTokens int

	// Simple disables structure preservation and uses plain character
	// windows. The zero value keeps the structure-preserving default.
	Simple bool

	// Estimate overrides the token estimator (default: token.EstimateTokens).
	Estimate EstimateFunc
}

// Chunker splits text under a token budget.
type Chunker struct {
	opts     Options
	estimate EstimateFunc
}

// Regex patterns for structural splitting.
var (
	// Matches fenced code blocks; these are atomic units.
	fencePattern = regexp.MustCompile("(?s)```.*?```")

	// Matches paragraph separators (blank lines).
	blankLinePattern = regexp.MustCompile(`\n[ \t]*\n`)
)

// NewChunker creates a chunker, filling zero options with defaults.
func NewChunker(opts Options) *Chunker {
	if opts.MaxTokensPerChunk <= 0 {
		opts.MaxTokensPerChunk = DefaultMaxChunkTokens
	}
	if opts.Estimate == nil {
		opts.Estimate = token.EstimateTokens
	}
	return &Chunker{opts: opts, estimate: opts.Estimate}
}

// Chunk splits text into chunks within the configured token budget.
//
// Texts that already fit return a single chunk with the input verbatim.
// Empty input returns nil. Every returned chunk has ChunkIndex 0..N-1 in
// order and TotalChunks == N.
func (c *Chunker) Chunk(text string) []TokenChunk {
	return c.ChunkWithBudget(text, c.opts.MaxTokensPerChunk)
}

// ChunkWithBudget is Chunk with a per-call budget override. Budgets <= 0
// fall back to the configured maximum. Used by callers that escalate to a
// smaller budget after a context-length rejection.
func (c *Chunker) ChunkWithBudget(text string, maxTokens int) []TokenChunk {
	if text == "" {
		return nil
	}
	if maxTokens <= 0 {
		maxTokens = c.opts.MaxTokensPerChunk
	}

	totalTokens := c.estimate(text)
	if totalTokens <= maxTokens {
		return []TokenChunk{{
			Content:         text,
			EstimatedTokens: totalTokens,
			ChunkIndex:      0,
			TotalChunks:     1,
			Metadata: map[string]string{
				"original_length": strconv.Itoa(len(text)),
				"original_tokens": strconv.Itoa(totalTokens),
			},
		}}
	}

	var chunks []TokenChunk
	if c.opts.Simple {
		chunks = c.chunkSimple(text, maxTokens)
	} else {
		chunks = c.chunkStructured(text, maxTokens)
	}

	for i := range chunks {
		chunks[i].ChunkIndex = i
		chunks[i].TotalChunks = len(chunks)
		if chunks[i].Metadata == nil {
			chunks[i].Metadata = make(map[string]string, 2)
		}
		chunks[i].Metadata["original_length"] = strconv.Itoa(len(text))
		chunks[i].Metadata["original_tokens"] = strconv.Itoa(totalTokens)
	}

	slog.Debug("text_chunked",
		slog.Int("chunks", len(chunks)),
		slog.Int("original_tokens", totalTokens),
		slog.Int("budget", maxTokens))

	return chunks
}

// chunkStructured splits on structural boundaries: fenced code blocks are
// atomic units, prose runs are paragraph units. Units are accumulated
// greedily; a unit that alone exceeds the budget is re-split by sentence.
func (c *Chunker) chunkStructured(text string, maxTokens int) []TokenChunk {
	units := splitByStructure(text)

	var (
		chunks        []TokenChunk
		current       strings.Builder
		currentTokens int
	)

	flush := func() {
		content := strings.TrimSpace(current.String())
		if content != "" {
			chunks = append(chunks, TokenChunk{
				Content:         content,
				EstimatedTokens: currentTokens,
			})
		}
		current.Reset()
		currentTokens = 0
	}

	for _, unit := range units {
		unitTokens := c.estimate(unit)

		switch {
		case unitTokens > maxTokens:
			// A single atomic unit over budget: flush what we have and
			// fall back to sentence splitting for this unit.
			flush()
			chunks = append(chunks, c.splitOversizedUnit(unit, maxTokens)...)

		case currentTokens+unitTokens > maxTokens:
			prev := current.String()
			flush()
			overlap := c.overlapTail(prev)
			current.WriteString(overlap)
			current.WriteString(unit)
			currentTokens = c.estimate(current.String())

		default:
			current.WriteString(unit)
			currentTokens += unitTokens
		}
	}

	flush()
	return chunks
}

// splitOversizedUnit splits a unit that exceeds the budget on its own by
// sentence boundaries, accumulating greedily. A single sentence over budget
// is kept as an oversized chunk: losing content is worse than exceeding the
// budget (the estimator overestimates anyway).
func (c *Chunker) splitOversizedUnit(unit string, maxTokens int) []TokenChunk {
	sentences := splitSentences(unit)

	var (
		chunks        []TokenChunk
		current       strings.Builder
		currentTokens int
	)

	flush := func() {
		content := strings.TrimSpace(current.String())
		if content != "" {
			chunks = append(chunks, TokenChunk{
				Content:         content,
				EstimatedTokens: currentTokens,
			})
		}
		current.Reset()
		currentTokens = 0
	}

	for _, sentence := range sentences {
		sentenceTokens := c.estimate(sentence)

		if currentTokens+sentenceTokens > maxTokens && current.Len() > 0 {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
		currentTokens += sentenceTokens
	}

	flush()
	return chunks
}

// chunkSimple splits by character windows of maxTokens*CharsPerToken runes,
// snapped to the nearest preceding space, carrying overlap runes forward.
func (c *Chunker) chunkSimple(text string, maxTokens int) []TokenChunk {
	runes := []rune(text)
	maxChars := int(float64(maxTokens) * CharsPerToken)
	overlapChars := 0
	if c.opts.OverlapTokens > 0 {
		overlapChars = int(float64(c.opts.OverlapTokens) * CharsPerToken)
	}

	var chunks []TokenChunk
	start := 0

	for start < len(runes) {
		end := start + maxChars
		if end > len(runes) {
			end = len(runes)
		}

		// Snap to a word boundary so windows don't cut words in half.
		if end < len(runes) {
			if space := lastSpaceBefore(runes, start, end); space > start {
				end = space
			}
		}

		content := string(runes[start:end])
		chunks = append(chunks, TokenChunk{
			Content:         content,
			EstimatedTokens: c.estimate(content),
		})

		next := end - overlapChars
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return chunks
}

// overlapTail returns the trailing ~OverlapTokens worth of text, cut at a
// word boundary and terminated with a paragraph break, for prepending to the
// next chunk. Returns "" when overlap is disabled or text is empty.
func (c *Chunker) overlapTail(text string) string {
	if text == "" || c.opts.OverlapTokens <= 0 {
		return ""
	}

	runes := []rune(text)
	overlapChars := int(float64(c.opts.OverlapTokens) * CharsPerToken)
	if len(runes) <= overlapChars {
		return text + "\n\n"
	}

	startPos := len(runes) - overlapChars
	for i := startPos; i < len(runes); i++ {
		if runes[i] == ' ' {
			return string(runes[i+1:]) + "\n\n"
		}
	}
	return string(runes[len(runes)-overlapChars:]) + "\n\n"
}

// splitByStructure splits text into units: fenced code blocks verbatim,
// prose between them as paragraph units.
func splitByStructure(text string) []string {
	var units []string
	last := 0

	for _, loc := range fencePattern.FindAllStringIndex(text, -1) {
		if loc[0] > last {
			units = append(units, splitParagraphs(text[last:loc[0]])...)
		}
		units = append(units, text[loc[0]:loc[1]])
		last = loc[1]
	}
	if last < len(text) {
		units = append(units, splitParagraphs(text[last:])...)
	}

	return units
}

// splitParagraphs splits prose on blank lines, dropping empty runs and
// normalizing each paragraph to end with a paragraph break.
func splitParagraphs(text string) []string {
	parts := blankLinePattern.Split(text, -1)

	var paragraphs []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			paragraphs = append(paragraphs, trimmed+"\n\n")
		}
	}
	return paragraphs
}

// splitSentences splits text after runs of sentence-ending punctuation
// (.!?) followed by whitespace. RE2 has no lookbehind, so this is a manual
// scan rather than a regex split.
func splitSentences(text string) []string {
	var (
		sentences []string
		start     int
	)

	runes := []rune(text)
	for i := 0; i < len(runes)-1; i++ {
		if !isSentenceEnd(runes[i]) {
			continue
		}
		// Consume the full punctuation run ("?!", "...").
		j := i
		for j+1 < len(runes) && isSentenceEnd(runes[j+1]) {
			j++
		}
		if j+1 < len(runes) && unicode.IsSpace(runes[j+1]) {
			sentence := strings.TrimSpace(string(runes[start : j+1]))
			if sentence != "" {
				sentences = append(sentences, sentence)
			}
			start = j + 1
		}
		i = j
	}

	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// lastSpaceBefore returns the index of the last space rune in runes[start:end),
// or -1 if none.
func lastSpaceBefore(runes []rune, start, end int) int {
	for i := end - 1; i > start; i-- {
		if runes[i] == ' ' {
			return i
		}
	}
	return -1
}
