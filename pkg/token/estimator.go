// Package token provides heuristic token counting for LLM budget checks.
// Estimates are deliberately conservative: underestimating a prompt risks a
// provider rejection mid-pipeline, overestimating only costs one extra chunk.
package token

import (
	"regexp"
	"unicode"
)

// Estimation constants. Tuned against GPT-family tokenizers on mixed
// prose/code corpora; not tied to any specific tokenizer.
const (
	// WordsPerToken scales whitespace-split word counts to account for
	// sub-word tokenization.
	WordsPerToken = 1.5

	// CharsPerTokenNarrow applies to mostly-Latin text.
	CharsPerTokenNarrow = 3.2

	// CharsPerTokenWide applies when the CJK rune ratio exceeds CJKThreshold.
	// Wide scripts tokenize at roughly 2-3 chars per token.
	CharsPerTokenWide = 2.5

	// CJKThreshold is the CJK rune fraction above which the wide-script
	// character ratio is used.
	CJKThreshold = 0.3

	// SafetyMargin inflates the final estimate by 20%.
	SafetyMargin = 1.2

	// ModelLimitMargin is reserved on top of the completion reserve for
	// system prompts and request metadata.
	ModelLimitMargin = 2000

	// MinUsableLimit is the floor returned by ModelLimit.
	MinUsableLimit = 1000

	// DefaultModelLimit is used for models absent from the limit table.
	DefaultModelLimit = 4096
)

// modelLimits maps model names to total context windows (input + output).
// Values are set conservatively below the published limits.
var modelLimits = map[string]int{
	"gpt-4":             8192,
	"gpt-4-32k":         32768,
	"gpt-4-turbo":       128000,
	"gpt-4o":            128000,
	"gpt-4o-mini":       128000,
	"gpt-3.5-turbo":     4096,
	"gpt-3.5-turbo-16k": 16384,
	"SKAX-O1-Preview":   120000,
	"SKAX-O1-Mini":      120000,
	"SKAX-4O":           120000,
	"SKAX-4O-Mini":      120000,
}

// fencePattern matches fenced code blocks, which tokenize less efficiently
// than prose.
var fencePattern = regexp.MustCompile("(?s)```.*?```")

// EstimateTokens returns a conservative token estimate for text.
// It takes the maximum of three independent estimates (word-based,
// character-based, structure-aware) and adds a 20% safety margin.
// Pure function, no I/O; returns 0 for empty input.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return estimate(text)
}

func estimate(text string) int {
	var (
		charCount    int
		wordCount    int
		punctCount   int
		bracketCount int
		cjkCount     int
		inWord       bool
	)

	for _, r := range text {
		charCount++

		if unicode.IsSpace(r) {
			inWord = false
		} else if !inWord {
			inWord = true
			wordCount++
		}

		switch r {
		case '{', '}', '[', ']':
			bracketCount++
		}

		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && !unicode.IsSpace(r) {
			punctCount++
		}

		if isCJK(r) {
			cjkCount++
		}
	}

	fenceCount := len(fencePattern.FindAllStringIndex(text, -1))

	charsPerToken := CharsPerTokenNarrow
	if float64(cjkCount)/float64(charCount) > CJKThreshold {
		charsPerToken = CharsPerTokenWide
	}

	wordEstimate := float64(wordCount) * WordsPerToken
	charEstimate := float64(charCount) / charsPerToken
	structEstimate := (float64(charCount) + float64(punctCount)*3 + float64(fenceCount)*15 + float64(bracketCount)*2) / 3.5

	best := wordEstimate
	if charEstimate > best {
		best = charEstimate
	}
	if structEstimate > best {
		best = structEstimate
	}

	return int(best * SafetyMargin)
}

// isCJK reports whether r belongs to a wide East Asian script.
func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hangul, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r)
}

// ModelLimit returns the usable input token budget for a model after
// reserving reserveForCompletion tokens for the response and a fixed margin
// for system prompts and metadata. Unknown models fall back to
// DefaultModelLimit. Never returns less than MinUsableLimit.
func ModelLimit(model string, reserveForCompletion int) int {
	total, ok := modelLimits[model]
	if !ok {
		total = DefaultModelLimit
	}

	usable := total - reserveForCompletion - ModelLimitMargin
	if usable < MinUsableLimit {
		return MinUsableLimit
	}
	return usable
}
