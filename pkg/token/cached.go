package token

import (
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEstimateCacheSize is the default number of memoized estimates.
// Keys are 64-byte hex digests, values are ints, so memory cost is trivial.
const DefaultEstimateCacheSize = 4096

// CachedEstimator memoizes EstimateTokens results behind an LRU cache.
// Chunking re-estimates the same paragraphs and overlap tails repeatedly;
// caching avoids rescanning large texts. Safe for concurrent use. A race
// that recomputes an estimate is harmless since estimation is deterministic.
type CachedEstimator struct {
	cache *lru.Cache[string, int]
}

// NewCachedEstimator creates a memoizing estimator with the given cache size.
// Sizes <= 0 use DefaultEstimateCacheSize.
func NewCachedEstimator(cacheSize int) *CachedEstimator {
	if cacheSize <= 0 {
		cacheSize = DefaultEstimateCacheSize
	}
	cache, _ := lru.New[string, int](cacheSize)
	return &CachedEstimator{cache: cache}
}

// cacheKey hashes the text so arbitrarily long inputs get fixed-size keys.
func (c *CachedEstimator) cacheKey(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:])
}

// EstimateTokens returns the cached estimate if present, otherwise computes
// and caches it.
func (c *CachedEstimator) EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	key := c.cacheKey(text)
	if n, ok := c.cache.Get(key); ok {
		return n
	}

	n := EstimateTokens(text)
	c.cache.Add(key, n)
	return n
}

// Len returns the number of cached entries.
func (c *CachedEstimator) Len() int {
	return c.cache.Len()
}
