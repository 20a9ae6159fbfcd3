// Package config loads pipeline configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Fusion mode names accepted in configuration.
const (
	FusionModeRRF      = "rrf"
	FusionModeWeighted = "weighted"
)

// Duration accepts "30s"/"250ms" style YAML values; yaml.v3 cannot decode
// those into time.Duration directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete pipeline configuration.
type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Generation GenerationConfig `yaml:"generation"`
	Fusion     FusionConfig     `yaml:"fusion"`
	Rerank     RerankConfig     `yaml:"rerank"`
}

// LLMConfig configures the chat completion client.
type LLMConfig struct {
	// Endpoint is the OpenAI-compatible API base URL.
	Endpoint string `yaml:"endpoint"`

	// Model is the completion model name used for limits and requests.
	Model string `yaml:"model"`

	// APIKey is sent as a bearer token when non-empty. Prefer the
	// COERAG_LLM_API_KEY environment variable over the config file.
	APIKey string `yaml:"api_key"`

	// Timeout is the per-request timeout.
	Timeout Duration `yaml:"timeout"`
}

// GenerationConfig configures chunked document generation.
type GenerationConfig struct {
	// MaxCompletionTokens is reserved for the model's output per call.
	MaxCompletionTokens int `yaml:"max_completion_tokens"`

	// Temperature is passed to every generation call.
	Temperature float64 `yaml:"temperature"`

	// MaxTokensPerChunk is the per-chunk prompt budget in chunked mode.
	MaxTokensPerChunk int `yaml:"max_tokens_per_chunk"`

	// OverlapTokens is carried between adjacent chunks.
	OverlapTokens int `yaml:"overlap_tokens"`

	// ChunkDelay is the pause between consecutive chunk calls.
	ChunkDelay Duration `yaml:"chunk_delay"`

	// MaxConcurrent bounds concurrent document generations.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// FusionConfig configures dual-field result fusion.
//
// Parameters are configurable via the config file or env vars
// (COERAG_FUSION_MODE, COERAG_FUSION_K0, COERAG_TITLE_WEIGHT,
// COERAG_CONTENT_WEIGHT), env taking precedence.
type FusionConfig struct {
	// Mode selects "rrf" (default) or "weighted".
	Mode string `yaml:"mode"`

	// K0 is the RRF smoothing constant (default: 60).
	K0 int `yaml:"k0"`

	// TitleWeight and ContentWeight apply in weighted mode and must sum
	// to 1.0.
	TitleWeight   float64 `yaml:"title_weight"`
	ContentWeight float64 `yaml:"content_weight"`

	// MinFieldK is the per-field search depth floor.
	MinFieldK int `yaml:"min_field_k"`

	// PoolMultiplier sizes the rerank pool relative to k.
	PoolMultiplier int `yaml:"pool_multiplier"`
}

// RerankConfig configures the optional cross-encoder stage.
type RerankConfig struct {
	// Enabled attaches the rerank stage when true. The stage still
	// disables itself when the encoder is unreachable.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the reranker server URL.
	Endpoint string `yaml:"endpoint"`

	// Model is the cross-encoder model alias.
	Model string `yaml:"model"`

	// Timeout is the per-request timeout.
	Timeout Duration `yaml:"timeout"`

	// BatchTokens bounds candidate text per encoder call.
	BatchTokens int `yaml:"batch_tokens"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Endpoint: "http://localhost:11434/v1",
			Model:    "gpt-4o-mini",
			Timeout:  Duration(120 * time.Second),
		},
		Generation: GenerationConfig{
			MaxCompletionTokens: 4000,
			Temperature:         0.7,
			MaxTokensPerChunk:   8000,
			OverlapTokens:       200,
			ChunkDelay:          Duration(time.Second),
			MaxConcurrent:       3,
		},
		Fusion: FusionConfig{
			Mode:           FusionModeRRF,
			K0:             60,
			TitleWeight:    0.4,
			ContentWeight:  0.6,
			MinFieldK:      50,
			PoolMultiplier: 3,
		},
		Rerank: RerankConfig{
			Endpoint:    "http://localhost:9659",
			Model:       "reranker-small",
			Timeout:     Duration(30 * time.Second),
			BatchTokens: 12000,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// COERAG_* environment variables, in that precedence order. An empty path
// skips the file step; a missing file at a given path is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies COERAG_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("COERAG_LLM_ENDPOINT"); v != "" {
		c.LLM.Endpoint = v
	}
	if v := os.Getenv("COERAG_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("COERAG_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}

	if v := os.Getenv("COERAG_FUSION_MODE"); v != "" {
		c.Fusion.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("COERAG_FUSION_K0"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Fusion.K0 = k
		}
	}
	if v := os.Getenv("COERAG_TITLE_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 && w <= 1 {
			c.Fusion.TitleWeight = w
		}
	}
	if v := os.Getenv("COERAG_CONTENT_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 && w <= 1 {
			c.Fusion.ContentWeight = w
		}
	}

	if v := os.Getenv("COERAG_RERANK_ENABLED"); v != "" {
		c.Rerank.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("COERAG_RERANK_ENDPOINT"); v != "" {
		c.Rerank.Endpoint = v
	}
}

// Validate checks the final configuration for consistency.
func (c *Config) Validate() error {
	switch c.Fusion.Mode {
	case FusionModeRRF, FusionModeWeighted:
	default:
		return fmt.Errorf("fusion.mode must be %q or %q, got %q",
			FusionModeRRF, FusionModeWeighted, c.Fusion.Mode)
	}

	if c.Fusion.K0 <= 0 {
		return fmt.Errorf("fusion.k0 must be positive, got %d", c.Fusion.K0)
	}
	if c.Fusion.TitleWeight < 0 || c.Fusion.TitleWeight > 1 {
		return fmt.Errorf("fusion.title_weight must be between 0 and 1, got %f", c.Fusion.TitleWeight)
	}
	if c.Fusion.ContentWeight < 0 || c.Fusion.ContentWeight > 1 {
		return fmt.Errorf("fusion.content_weight must be between 0 and 1, got %f", c.Fusion.ContentWeight)
	}
	if sum := c.Fusion.TitleWeight + c.Fusion.ContentWeight; math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("fusion title_weight + content_weight must equal 1.0, got %.2f", sum)
	}

	if c.Generation.MaxCompletionTokens <= 0 {
		return fmt.Errorf("generation.max_completion_tokens must be positive, got %d",
			c.Generation.MaxCompletionTokens)
	}
	if c.Generation.MaxTokensPerChunk <= 0 {
		return fmt.Errorf("generation.max_tokens_per_chunk must be positive, got %d",
			c.Generation.MaxTokensPerChunk)
	}
	if c.Generation.MaxConcurrent <= 0 {
		return fmt.Errorf("generation.max_concurrent must be positive, got %d",
			c.Generation.MaxConcurrent)
	}

	if c.Rerank.BatchTokens <= 0 {
		return fmt.Errorf("rerank.batch_tokens must be positive, got %d", c.Rerank.BatchTokens)
	}

	return nil
}
