package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("missing file", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.Batch.MaxConcurrency)
		assert.Equal(t, 30, cfg.Matching.HeaderScanRows)
		assert.InDelta(t, 0.70, cfg.Matching.ColumnSimilarity, 1e-9)
	})

	t.Run("defaults validate", func(t *testing.T) {
		assert.NoError(t, Default().Validate())
	})
}

func TestLoadPartialFile(t *testing.T) {
	path := writeConfig(t, `
matching:
  mode: Fallback
  vector:
    weights:
      item: 0.5
batch:
  max_concurrency: 8
  progress_interval: 2s
writer:
  auto_width: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "fallback", cfg.Matching.Mode)
	assert.InDelta(t, 0.5, cfg.Matching.Vector.Weights.Item, 1e-9)
	assert.InDelta(t, 0.35, cfg.Matching.Vector.Weights.Description, 1e-9, "unset siblings keep defaults")
	assert.Equal(t, 8, cfg.Batch.MaxConcurrency)
	assert.Equal(t, 2*time.Second, cfg.Batch.ProgressInterval)
	assert.False(t, cfg.Writer.AutoWidth)
	assert.True(t, cfg.Writer.ClearStyle)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "matching: [unclosed"},
		{"unknown mode", "matching:\n  mode: psychic\n"},
		{"similarity out of range", "matching:\n  column_similarity: 1.5\n"},
		{"concurrency too high", "batch:\n  max_concurrency: 1000\n"},
		{"bands inverted", "matching:\n  vector:\n    weak:\n      min_similarity: 0.95\n      max_score: 0.6\n"},
		{"bad log format", "log:\n  format: xml\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	mode := "BEST-MATCH"
	n := 5
	require.NoError(t, cfg.ApplyOverrides(Overrides{Mode: &mode, MaxConcurrency: &n}))
	assert.Equal(t, "best-match", cfg.Matching.Mode)
	assert.Equal(t, 5, cfg.Batch.MaxConcurrency)

	zero := 0
	assert.Error(t, cfg.ApplyOverrides(Overrides{MaxConcurrency: &zero}))
}
