package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.toml"))
	// A missing explicit file is an error only when its content is needed;
	// viper surfaces it, so point at an empty file instead.
	if err != nil {
		empty := filepath.Join(t.TempDir(), "config.toml")
		require.NoError(t, os.WriteFile(empty, nil, 0o644))
		cfg, err = Load(empty)
	}
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Scraping.Workers)
	assert.Equal(t, 5*time.Minute, cfg.Scraping.SourceTimeout)
	assert.Equal(t, 0.85, cfg.Dedup.SimilarityThreshold)
	assert.Equal(t, 48*time.Hour, cfg.Dedup.WindowAge)
	assert.Equal(t, 500, cfg.Dedup.WindowSize)
	assert.Equal(t, 50, cfg.Spam.ScoreThreshold)
	assert.Equal(t, 24*time.Hour, cfg.Preview.TTL)
	assert.Equal(t, 3, cfg.Preview.MaxPerBody)
	assert.Equal(t, 30, cfg.Retention.ArticleDays)
	assert.Equal(t, "127.0.0.1:8654", cfg.Server.Addr)
	assert.NotEmpty(t, cfg.Store.DataDir)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	content := `
[store]
data_dir = "` + dir + `/data"

[scraping]
workers = 5
source_timeout = "2m"

[dedup]
similarity_threshold = 0.9

[spam]
score_threshold = 40
trusted_sources = ["city desk"]

[log]
level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Scraping.Workers)
	assert.Equal(t, 2*time.Minute, cfg.Scraping.SourceTimeout)
	assert.Equal(t, 0.9, cfg.Dedup.SimilarityThreshold)
	assert.Equal(t, 40, cfg.Spam.ScoreThreshold)
	assert.Equal(t, []string{"city desk"}, cfg.Spam.TrustedSources)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Values absent from the file keep their defaults.
	assert.Equal(t, 500, cfg.Dedup.WindowSize)
}

func TestLoad_InvalidValuesRejected(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero workers", "[scraping]\nworkers = 0\n"},
		{"threshold above one", "[dedup]\nsimilarity_threshold = 1.5\n"},
		{"zero window size", "[dedup]\nwindow_size = 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	expanded := expandPath("~/data")
	assert.Equal(t, filepath.Join(home, "data"), expanded)

	abs := expandPath("relative/dir")
	assert.True(t, filepath.IsAbs(abs))

	assert.Equal(t, "", expandPath(""))
}

func TestGenerateAndReloadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	require.NoError(t, GenerateDefaultConfig(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Scraping.Workers)
	assert.Equal(t, 5*time.Minute, cfg.Scraping.SourceTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Preview.TTL)
}
