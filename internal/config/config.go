// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidvec Contributors

package config

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	tidvecerr "github.com/tidvec-dev/tidvec/pkg/errors"
)

// Config is the top-level Tidvec configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Wiki      WikiConfig      `mapstructure:"wiki"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Search    SearchConfig    `mapstructure:"search"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// ServerConfig controls how Tidvec listens for connections.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// WikiConfig points at the TiddlyWiki server to index.
type WikiConfig struct {
	URL      string `mapstructure:"url"`
	Recipe   string `mapstructure:"recipe"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// Filter restricts which tiddlers are synchronized; empty means all.
	Filter string `mapstructure:"filter"`
}

// EmbeddingConfig points at the OpenAI-compatible embedding endpoint.
type EmbeddingConfig struct {
	URL           string        `mapstructure:"url"`
	APIKey        string        `mapstructure:"api_key"`
	Model         string        `mapstructure:"model"`
	Dimensions    int           `mapstructure:"dimensions"`
	Timeout       time.Duration `mapstructure:"timeout"`
	HealthTimeout time.Duration `mapstructure:"health_timeout"`
	// RequestsPerSecond throttles embedding calls.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// SyncConfig controls the reconciliation loop.
type SyncConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	ChunkTokens   int           `mapstructure:"chunk_tokens"`
	RetryCooldown time.Duration `mapstructure:"retry_cooldown"`
}

// SearchConfig controls the retrieval engine.
type SearchConfig struct {
	DefaultLimit        int `mapstructure:"default_limit"`
	ResponseTokenBudget int `mapstructure:"response_token_budget"`
}

// StorageConfig selects and locates the vector store backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix TIDVEC_).
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.listen", "127.0.0.1:8580")
	v.SetDefault("wiki.url", "http://127.0.0.1:8080")
	v.SetDefault("wiki.recipe", "default")
	v.SetDefault("embedding.url", "http://127.0.0.1:11434/v1")
	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("embedding.dimensions", 768)
	v.SetDefault("embedding.timeout", 2*time.Minute)
	v.SetDefault("embedding.health_timeout", 10*time.Second)
	v.SetDefault("embedding.requests_per_second", 10.0)
	v.SetDefault("sync.interval", 5*time.Minute)
	v.SetDefault("sync.batch_size", 5)
	v.SetDefault("sync.chunk_tokens", 512)
	v.SetDefault("sync.retry_cooldown", 24*time.Hour)
	v.SetDefault("search.default_limit", 10)
	v.SetDefault("search.response_token_budget", 20000)
	v.SetDefault("storage.backend", "sqlite")

	// Environment
	v.SetEnvPrefix("TIDVEC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// File
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, tidvecerr.Errorf(tidvecerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, tidvecerr.Errorf(tidvecerr.CodeConfigValidateInvalidValue, "unmarshalling config: %w", err)
	}

	if cfg.Storage.Path == "" && cfg.Storage.Backend == "sqlite" {
		p, err := DefaultDataPath()
		if err != nil {
			return nil, err
		}
		cfg.Storage.Path = p
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, tidvecerr.Errorf(tidvecerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors.
// It returns a slice of all validation errors found, collecting all issues
// rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateWiki()...)
	errs = append(errs, c.validateEmbedding()...)
	errs = append(errs, c.validateSync()...)
	errs = append(errs, c.validateSearch()...)
	errs = append(errs, c.validateStorage()...)

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, tidvecerr.Errorf(tidvecerr.CodeConfigValidateInvalidValue, "config: server.listen must not be empty"))
		return errs
	}
	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		errs = append(errs, tidvecerr.Errorf(tidvecerr.CodeConfigValidateInvalidValue,
			"config: server.listen must be a valid host:port address, got %q: %w",
			c.Server.Listen, err,
		))
		return errs
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, tidvecerr.Errorf(tidvecerr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be a number, got %q",
			portStr,
		))
	} else if port < 1 || port > 65535 {
		errs = append(errs, tidvecerr.Errorf(tidvecerr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be between 1 and 65535, got %d",
			port,
		))
	}

	return errs
}

func (c *Config) validateWiki() []error {
	var errs []error

	errs = append(errs, validateBaseURL("wiki.url", c.Wiki.URL)...)

	if c.Wiki.Recipe == "" {
		errs = append(errs, tidvecerr.Errorf(tidvecerr.CodeConfigValidateInvalidValue, "config: wiki.recipe must not be empty"))
	}
	if c.Wiki.Password != "" && c.Wiki.Username == "" {
		errs = append(errs, tidvecerr.Errorf(tidvecerr.CodeConfigValidateInvalidValue,
			"config: wiki.password is set but wiki.username is empty"))
	}

	return errs
}

func (c *Config) validateEmbedding() []error {
	var errs []error

	errs = append(errs, validateBaseURL("embedding.url", c.Embedding.URL)...)

	if c.Embedding.Model == "" {
		errs = append(errs, tidvecerr.Errorf(tidvecerr.CodeConfigValidateInvalidValue, "config: embedding.model must not be empty"))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, tidvecerr.Errorf(tidvecerr.CodeConfigValidateInvalidValue,
			"config: embedding.dimensions must be greater than 0, got %d",
			c.Embedding.Dimensions,
		))
	}
	if c.Embedding.Timeout <= 0 {
		errs = append(errs, tidvecerr.Errorf(tidvecerr.CodeConfigValidateInvalidValue,
			"config: embedding.timeout must be greater than 0, got %s",
			c.Embedding.Timeout,
		))
	}
	if c.Embedding.RequestsPerSecond <= 0 {
		errs = append(errs, tidvecerr.Errorf(tidvecerr.CodeConfigValidateInvalidValue,
			"config: embedding.requests_per_second must be greater than 0, got %g",
			c.Embedding.RequestsPerSecond,
		))
	}

	return errs
}

func (c *Config) validateSync() []error {
	var errs []error

	if c.Sync.Interval <= 0 {
		errs = append(errs, tidvecerr.Errorf(tidvecerr.CodeConfigValidateInvalidValue,
			"config: sync.interval must be greater than 0, got %s", c.Sync.Interval))
	}
	if c.Sync.BatchSize <= 0 {
		errs = append(errs, tidvecerr.Errorf(tidvecerr.CodeConfigValidateInvalidValue,
			"config: sync.batch_size must be greater than 0, got %d", c.Sync.BatchSize))
	}
	if c.Sync.ChunkTokens <= 0 {
		errs = append(errs, tidvecerr.Errorf(tidvecerr.CodeConfigValidateInvalidValue,
			"config: sync.chunk_tokens must be greater than 0, got %d", c.Sync.ChunkTokens))
	}
	if c.Sync.RetryCooldown <= 0 {
		errs = append(errs, tidvecerr.Errorf(tidvecerr.CodeConfigValidateInvalidValue,
			"config: sync.retry_cooldown must be greater than 0, got %s", c.Sync.RetryCooldown))
	}

	return errs
}

func (c *Config) validateSearch() []error {
	var errs []error

	if c.Search.DefaultLimit <= 0 {
		errs = append(errs, tidvecerr.Errorf(tidvecerr.CodeConfigValidateInvalidValue,
			"config: search.default_limit must be greater than 0, got %d", c.Search.DefaultLimit))
	}
	if c.Search.ResponseTokenBudget <= 0 {
		errs = append(errs, tidvecerr.Errorf(tidvecerr.CodeConfigValidateInvalidValue,
			"config: search.response_token_budget must be greater than 0, got %d", c.Search.ResponseTokenBudget))
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true, "memory": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, tidvecerr.Errorf(tidvecerr.CodeConfigValidateInvalidValue,
			"config: storage.backend must be one of [sqlite, memory], got %q",
			c.Storage.Backend,
		))
	}
	if c.Storage.Backend == "sqlite" && c.Storage.Path == "" {
		errs = append(errs, tidvecerr.Errorf(tidvecerr.CodeConfigValidateInvalidValue,
			"config: storage.path must not be empty for the sqlite backend"))
	}

	return errs
}

func validateBaseURL(key, raw string) []error {
	if raw == "" {
		return []error{tidvecerr.Errorf(tidvecerr.CodeConfigValidateInvalidValue,
			"config: %s must not be empty", key)}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return []error{tidvecerr.Errorf(tidvecerr.CodeConfigValidateInvalidValue,
			"config: %s must be an absolute http(s) URL, got %q", key, raw)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return []error{tidvecerr.Errorf(tidvecerr.CodeConfigValidateInvalidValue,
			"config: %s scheme must be http or https, got %q", key, u.Scheme)}
	}
	return nil
}
