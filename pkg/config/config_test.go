package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, FusionModeRRF, cfg.Fusion.Mode)
	assert.Equal(t, 60, cfg.Fusion.K0)
	assert.InDelta(t, 0.4, cfg.Fusion.TitleWeight, 1e-12)
	assert.InDelta(t, 0.6, cfg.Fusion.ContentWeight, 1e-12)
	assert.Equal(t, 8000, cfg.Generation.MaxTokensPerChunk)
	assert.False(t, cfg.Rerank.Enabled)
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	yaml := `
fusion:
  mode: weighted
  title_weight: 0.3
  content_weight: 0.7
generation:
  max_tokens_per_chunk: 2000
  chunk_delay: 250ms
rerank:
  enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, FusionModeWeighted, cfg.Fusion.Mode)
	assert.InDelta(t, 0.3, cfg.Fusion.TitleWeight, 1e-12)
	assert.InDelta(t, 0.7, cfg.Fusion.ContentWeight, 1e-12)
	assert.Equal(t, 2000, cfg.Generation.MaxTokensPerChunk)
	assert.Equal(t, 250*time.Millisecond, cfg.Generation.ChunkDelay.Std())
	assert.True(t, cfg.Rerank.Enabled)

	// Untouched sections keep defaults
	assert.Equal(t, 60, cfg.Fusion.K0)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
}

func TestLoad_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  timeout: soon\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("COERAG_FUSION_MODE", "weighted")
	t.Setenv("COERAG_FUSION_K0", "30")
	t.Setenv("COERAG_TITLE_WEIGHT", "0.5")
	t.Setenv("COERAG_CONTENT_WEIGHT", "0.5")
	t.Setenv("COERAG_LLM_MODEL", "gpt-4o")
	t.Setenv("COERAG_RERANK_ENABLED", "true")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, FusionModeWeighted, cfg.Fusion.Mode)
	assert.Equal(t, 30, cfg.Fusion.K0)
	assert.InDelta(t, 0.5, cfg.Fusion.TitleWeight, 1e-12)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.True(t, cfg.Rerank.Enabled)
}

func TestLoad_EnvIgnoresInvalidValues(t *testing.T) {
	t.Setenv("COERAG_FUSION_K0", "not-a-number")
	t.Setenv("COERAG_TITLE_WEIGHT", "1.5")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Fusion.K0)
	assert.InDelta(t, 0.4, cfg.Fusion.TitleWeight, 1e-12)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad fusion mode", func(c *Config) { c.Fusion.Mode = "average" }},
		{"zero k0", func(c *Config) { c.Fusion.K0 = 0 }},
		{"weights not summing", func(c *Config) { c.Fusion.TitleWeight = 0.9 }},
		{"title weight out of range", func(c *Config) {
			c.Fusion.TitleWeight = 1.4
			c.Fusion.ContentWeight = -0.4
		}},
		{"zero completion tokens", func(c *Config) { c.Generation.MaxCompletionTokens = 0 }},
		{"zero chunk budget", func(c *Config) { c.Generation.MaxTokensPerChunk = 0 }},
		{"zero concurrency", func(c *Config) { c.Generation.MaxConcurrent = 0 }},
		{"zero rerank budget", func(c *Config) { c.Rerank.BatchTokens = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
