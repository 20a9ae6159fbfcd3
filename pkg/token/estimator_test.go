package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateTokens_Empty(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
}

func TestEstimateTokens_Deterministic(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog. It does so repeatedly."

	first := EstimateTokens(text)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, EstimateTokens(text))
	}
}

func TestEstimateTokens_NeverUnderestimatesWords(t *testing.T) {
	// Word-based estimate is words*1.5*1.2; the result must be at least that.
	text := strings.Repeat("alpha beta gamma delta ", 50)
	words := len(strings.Fields(text))

	got := EstimateTokens(text)
	assert.GreaterOrEqual(t, got, int(float64(words)*WordsPerToken))
}

func TestEstimateTokens_GrowsWithLength(t *testing.T) {
	short := strings.Repeat("some prose here ", 10)
	long := strings.Repeat("some prose here ", 100)

	assert.Greater(t, EstimateTokens(long), EstimateTokens(short))
}

func TestEstimateTokens_WideScriptCostsMore(t *testing.T) {
	// Same character count, but a CJK-dominant text divides by 2.5 not 3.2.
	latin := strings.Repeat("ab", 200)
	korean := strings.Repeat("가나", 200) // 가나

	assert.Greater(t, EstimateTokens(korean), EstimateTokens(latin))
}

func TestEstimateTokens_CodeCostsMoreThanProse(t *testing.T) {
	prose := strings.Repeat("plain readable sentence without structure at all ", 20)
	code := "```go\n" + strings.Repeat("if x { y[0] = {1, 2}; }\n", 38) + "```"
	require.LessOrEqual(t, len(code), len(prose), "test setup: code must not be longer")

	// Structural estimate counts brackets and fences on top of raw length.
	assert.Greater(t,
		float64(EstimateTokens(code))/float64(len(code)),
		float64(EstimateTokens(prose))/float64(len(prose)),
		"code should estimate more tokens per character than prose")
}

func TestModelLimit_KnownModel(t *testing.T) {
	// gpt-4-turbo: 128000 - 4000 reserve - 2000 margin
	assert.Equal(t, 122000, ModelLimit("gpt-4-turbo", 4000))
}

func TestModelLimit_UnknownModelFallsBack(t *testing.T) {
	// default 4096 - 1000 - 2000 = 1096
	assert.Equal(t, 1096, ModelLimit("some-unknown-model", 1000))
}

func TestModelLimit_Floor(t *testing.T) {
	// gpt-3.5-turbo: 4096 - 4000 - 2000 < 1000 → floor
	assert.Equal(t, MinUsableLimit, ModelLimit("gpt-3.5-turbo", 4000))
}

func TestCachedEstimator_MatchesUncached(t *testing.T) {
	c := NewCachedEstimator(16)
	texts := []string{
		"",
		"one two three",
		strings.Repeat("repeated paragraph content. ", 40),
		"```\ncode block\n```",
	}

	for _, text := range texts {
		assert.Equal(t, EstimateTokens(text), c.EstimateTokens(text))
		// Second call hits the cache and must agree.
		assert.Equal(t, EstimateTokens(text), c.EstimateTokens(text))
	}
}

func TestCachedEstimator_Caches(t *testing.T) {
	c := NewCachedEstimator(16)
	require.Equal(t, 0, c.Len())

	c.EstimateTokens("hello world")
	assert.Equal(t, 1, c.Len())

	c.EstimateTokens("hello world")
	assert.Equal(t, 1, c.Len())

	c.EstimateTokens("another text")
	assert.Equal(t, 2, c.Len())
}
