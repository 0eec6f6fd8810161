// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidvec Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/tidvec-dev/tidvec/internal/config"
	"github.com/tidvec-dev/tidvec/internal/embedding"
	"github.com/tidvec-dev/tidvec/internal/search"
	"github.com/tidvec-dev/tidvec/internal/store"
	"github.com/tidvec-dev/tidvec/internal/store/memory"
	sqlitestore "github.com/tidvec-dev/tidvec/internal/store/sqlite"
	"github.com/tidvec-dev/tidvec/internal/syncer"
	"github.com/tidvec-dev/tidvec/internal/wiki"
	tidvecerr "github.com/tidvec-dev/tidvec/pkg/errors"
)

// Backends holds all wired subsystems and manages their lifecycle.
type Backends struct {
	Store  store.VectorStore
	Wiki   wiki.Client
	Embed  embedding.Embedder
	Syncer *syncer.Syncer
	Search *search.Engine
}

// Close releases the store.
func (b *Backends) Close() error {
	return b.Store.Close()
}

// wireBackends creates all subsystems from the loaded configuration.
func wireBackends(cfg *config.Config) (*Backends, error) {
	w, err := wiki.NewHTTPClient(wiki.Config{
		BaseURL:  cfg.Wiki.URL,
		Recipe:   cfg.Wiki.Recipe,
		Username: cfg.Wiki.Username,
		Password: cfg.Wiki.Password,
	})
	if err != nil {
		return nil, tidvecerr.Wrap(err, tidvecerr.CodeCLISetupFailure, "creating wiki client")
	}

	emb, err := embedding.New(embedding.Config{
		BaseURL:        cfg.Embedding.URL,
		APIKey:         cfg.Embedding.APIKey,
		Model:          cfg.Embedding.Model,
		Dimensions:     cfg.Embedding.Dimensions,
		Timeout:        cfg.Embedding.Timeout,
		HealthTimeout:  cfg.Embedding.HealthTimeout,
		RequestsPerSec: cfg.Embedding.RequestsPerSecond,
	})
	if err != nil {
		return nil, tidvecerr.Wrap(err, tidvecerr.CodeCLISetupFailure, "creating embedding client")
	}

	var vs store.VectorStore
	switch cfg.Storage.Backend {
	case "memory":
		vs = memory.New(cfg.Embedding.Dimensions)
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o700); err != nil {
			return nil, tidvecerr.Wrapf(err, tidvecerr.CodeCLISetupFailure,
				"creating data directory for %s", cfg.Storage.Path)
		}
		vs, err = sqlitestore.Open(cfg.Storage.Path, cfg.Embedding.Dimensions)
		if err != nil {
			return nil, tidvecerr.Wrap(err, tidvecerr.CodeCLISetupFailure, "opening vector store")
		}
	}

	sy := syncer.New(w, emb, vs, syncer.Config{
		Interval:       cfg.Sync.Interval,
		BatchSize:      cfg.Sync.BatchSize,
		MaxChunkTokens: cfg.Sync.ChunkTokens,
		RetryCooldown:  cfg.Sync.RetryCooldown,
		Filter:         cfg.Wiki.Filter,
	})

	eng := search.New(w, emb, vs, search.Config{
		DefaultLimit:        cfg.Search.DefaultLimit,
		ResponseTokenBudget: cfg.Search.ResponseTokenBudget,
	})

	return &Backends{Store: vs, Wiki: w, Embed: emb, Syncer: sy, Search: eng}, nil
}
