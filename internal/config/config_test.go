// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidvec Contributors

package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidvec-dev/tidvec/internal/config"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8580", cfg.Server.Listen)
	assert.Equal(t, "default", cfg.Wiki.Recipe)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.Model)
	assert.Equal(t, 768, cfg.Embedding.Dimensions)
	assert.Equal(t, 5*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 5, cfg.Sync.BatchSize)
	assert.Equal(t, 512, cfg.Sync.ChunkTokens)
	assert.Equal(t, 24*time.Hour, cfg.Sync.RetryCooldown)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.Equal(t, 20000, cfg.Search.ResponseTokenBudget)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.NotEmpty(t, cfg.Storage.Path, "sqlite backend gets a default path")
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "tidvec.yaml")

	content := `
server:
  listen: "0.0.0.0:9999"
wiki:
  url: "http://wiki.internal:8080"
  filter: "[tag[notes]]"
sync:
  interval: 30s
storage:
  backend: memory
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9999", cfg.Server.Listen)
	assert.Equal(t, "http://wiki.internal:8080", cfg.Wiki.URL)
	assert.Equal(t, "[tag[notes]]", cfg.Wiki.Filter)
	assert.Equal(t, 30*time.Second, cfg.Sync.Interval)
	assert.Equal(t, "memory", cfg.Storage.Backend)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TIDVEC_SERVER_LISTEN", "10.0.0.1:8080")
	t.Setenv("TIDVEC_WIKI_PASSWORD", "hunter2")
	t.Setenv("TIDVEC_WIKI_USERNAME", "sync-bot")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:8080", cfg.Server.Listen)
	assert.Equal(t, "sync-bot", cfg.Wiki.Username)
	assert.Equal(t, "hunter2", cfg.Wiki.Password)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_ValidationCalledAtLoadTime(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "tidvec.yaml")

	content := `
embedding:
  dimensions: -5
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))

	_, err := config.Load(cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding.dimensions")
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := &config.Config{
		Server:    config.ServerConfig{Listen: "not-an-address"},
		Wiki:      config.WikiConfig{URL: "", Recipe: ""},
		Embedding: config.EmbeddingConfig{URL: "ftp://nope", Model: "", Dimensions: 0},
		Storage:   config.StorageConfig{Backend: "postgres"},
	}

	errs := cfg.Validate()
	require.NotEmpty(t, errs)

	joined := make([]string, len(errs))
	for i, e := range errs {
		joined[i] = e.Error()
	}
	all := strings.Join(joined, "\n")
	assert.Contains(t, all, "server.listen")
	assert.Contains(t, all, "wiki.url")
	assert.Contains(t, all, "wiki.recipe")
	assert.Contains(t, all, "embedding.url")
	assert.Contains(t, all, "embedding.model")
	assert.Contains(t, all, "embedding.dimensions")
	assert.Contains(t, all, "storage.backend")
}

func TestValidate_ListenPortRange(t *testing.T) {
	cases := []struct {
		listen string
		ok     bool
	}{
		{"127.0.0.1:8580", true},
		{":8080", true},
		{"127.0.0.1:0", false},
		{"127.0.0.1:70000", false},
		{"127.0.0.1:http", false},
	}
	for _, tc := range cases {
		t.Run(tc.listen, func(t *testing.T) {
			cfg := validConfig()
			cfg.Server.Listen = tc.listen
			errs := cfg.Validate()
			if tc.ok {
				assert.Empty(t, errs)
			} else {
				assert.NotEmpty(t, errs)
			}
		})
	}
}

func TestValidate_PasswordWithoutUsername(t *testing.T) {
	cfg := validConfig()
	cfg.Wiki.Password = "secret"
	cfg.Wiki.Username = ""

	errs := cfg.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "wiki.username")
}

func TestValidate_MemoryBackendNeedsNoPath(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.Backend = "memory"
	cfg.Storage.Path = ""

	assert.Empty(t, cfg.Validate())
}

func validConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Listen: "127.0.0.1:8580"},
		Wiki:   config.WikiConfig{URL: "http://127.0.0.1:8080", Recipe: "default"},
		Embedding: config.EmbeddingConfig{
			URL:               "http://127.0.0.1:11434/v1",
			Model:             "nomic-embed-text",
			Dimensions:        768,
			Timeout:           2 * time.Minute,
			HealthTimeout:     10 * time.Second,
			RequestsPerSecond: 10,
		},
		Sync: config.SyncConfig{
			Interval:      5 * time.Minute,
			BatchSize:     5,
			ChunkTokens:   512,
			RetryCooldown: 24 * time.Hour,
		},
		Search:  config.SearchConfig{DefaultLimit: 10, ResponseTokenBudget: 20000},
		Storage: config.StorageConfig{Backend: "sqlite", Path: "/tmp/tidvec.db"},
	}
}
