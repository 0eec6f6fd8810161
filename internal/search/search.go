// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidvec Contributors

// Package search answers retrieval queries over the synchronized index.
// A request carries a free-text query, a wiki filter expression, or
// both; the engine picks the matching mode and returns chunk-level
// results ordered by semantic relevance.
package search

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/tidvec-dev/tidvec/internal/chunker"
	"github.com/tidvec-dev/tidvec/internal/embedding"
	"github.com/tidvec-dev/tidvec/internal/store"
	"github.com/tidvec-dev/tidvec/internal/wiki"
	tidvecerr "github.com/tidvec-dev/tidvec/pkg/errors"
)

// Defaults.
const (
	DefaultLimit               = 10
	DefaultResponseTokenBudget = 20000
)

// Modes reported back to the caller.
const (
	ModeFilter   = "filter"
	ModeSemantic = "semantic"
	ModeHybrid   = "hybrid"
)

// Request is one retrieval query. At least one of Query and Filter must
// be set.
type Request struct {
	// Query is free text matched semantically against chunk embeddings.
	Query string `json:"query,omitempty"`
	// Filter is a wiki filter expression evaluated by the wiki itself.
	Filter string `json:"filter,omitempty"`
	// Limit caps the number of results; zero means the default.
	Limit int `json:"limit,omitempty"`
	// Offset skips results in filter-only mode, for paging through
	// large filter matches. Semantic modes ignore it.
	Offset int `json:"offset,omitempty"`
	// IncludeText hydrates each result's full tiddler text.
	IncludeText bool `json:"include_text,omitempty"`
}

// Result is one retrieval hit. Similarity is 1 − distance and is zero
// in filter-only mode, where no embedding comparison happens.
type Result struct {
	Title      string   `json:"title" yaml:"title"`
	ChunkID    int      `json:"chunk_id" yaml:"chunk_id"`
	Snippet    string   `json:"snippet,omitempty" yaml:"snippet,omitempty"`
	Text       string   `json:"text,omitempty" yaml:"text,omitempty"`
	Similarity float64  `json:"similarity" yaml:"similarity"`
	Tags       []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Modified   string   `json:"modified,omitempty" yaml:"modified,omitempty"`
}

// Response is a complete answer to one Request.
type Response struct {
	Mode    string   `json:"mode" yaml:"mode"`
	Count   int      `json:"count" yaml:"count"`
	Results []Result `json:"results" yaml:"results"`
}

// Config holds engine settings.
type Config struct {
	DefaultLimit        int
	ResponseTokenBudget int
}

func (c *Config) applyDefaults() {
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = DefaultLimit
	}
	if c.ResponseTokenBudget <= 0 {
		c.ResponseTokenBudget = DefaultResponseTokenBudget
	}
}

// Engine executes retrieval queries. It only ever reads from the store;
// writing is the sync worker's job.
type Engine struct {
	wiki   wiki.Client
	embed  embedding.Embedder
	store  store.VectorStore
	cfg    Config
	logger *slog.Logger
}

// New creates an Engine.
func New(w wiki.Client, e embedding.Embedder, vs store.VectorStore, cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		wiki:   w,
		embed:  e,
		store:  vs,
		cfg:    cfg,
		logger: slog.Default(),
	}
}

// Search runs one query in whichever mode the request selects.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	if req.Query == "" && req.Filter == "" {
		return nil, tidvecerr.New(tidvecerr.CodeSearchQueryInvalid,
			"a search needs a query, a filter, or both")
	}
	if req.Limit < 0 || req.Offset < 0 {
		return nil, tidvecerr.New(tidvecerr.CodeSearchQueryInvalid, "limit and offset must not be negative")
	}
	limit := req.Limit
	if limit == 0 {
		limit = e.cfg.DefaultLimit
	}

	var (
		resp *Response
		err  error
	)
	switch {
	case req.Query == "":
		resp, err = e.filterOnly(ctx, req.Filter, req.Offset, limit)
	case req.Filter == "":
		resp, err = e.semantic(ctx, req.Query, limit)
	default:
		resp, err = e.hybrid(ctx, req.Query, req.Filter, limit)
	}
	if err != nil {
		return nil, err
	}

	if req.IncludeText {
		if err := e.hydrate(ctx, resp.Results); err != nil {
			return nil, err
		}
	}

	if err := e.checkBudget(resp, limit); err != nil {
		return nil, err
	}
	return resp, nil
}

// filterOnly delegates matching entirely to the wiki's filter engine.
// No embeddings are involved, so results carry zero similarity and keep
// the wiki's own ordering.
func (e *Engine) filterOnly(ctx context.Context, filter string, offset, limit int) (*Response, error) {
	tiddlers, err := e.wiki.List(ctx, filter)
	if err != nil {
		return nil, tidvecerr.Wrap(err, tidvecerr.CodeSearchFilterFailure,
			"evaluating filter expression", tidvecerr.FieldFilter(filter))
	}
	if offset >= len(tiddlers) {
		tiddlers = nil
	} else {
		tiddlers = tiddlers[offset:]
	}
	if len(tiddlers) > limit {
		tiddlers = tiddlers[:limit]
	}
	results := make([]Result, len(tiddlers))
	for i, t := range tiddlers {
		results[i] = Result{
			Title:    t.Title,
			Tags:     t.Tags,
			Modified: t.Modified,
		}
	}
	return &Response{Mode: ModeFilter, Count: len(results), Results: results}, nil
}

// semantic embeds the query and ranks chunks by vector distance.
func (e *Engine) semantic(ctx context.Context, query string, limit int) (*Response, error) {
	hits, err := e.nearest(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	results := hitsToResults(hits)
	return &Response{Mode: ModeSemantic, Count: len(results), Results: results}, nil
}

// hybrid runs the semantic query at the requested limit, then keeps
// only hits whose title passes the structural filter. The hybrid result
// set is therefore always a subset of the semantic one: the filter
// narrows the candidates, it never reranks or replaces them.
func (e *Engine) hybrid(ctx context.Context, query, filter string, limit int) (*Response, error) {
	hits, err := e.nearest(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	tiddlers, err := e.wiki.List(ctx, filter)
	if err != nil {
		return nil, tidvecerr.Wrap(err, tidvecerr.CodeSearchFilterFailure,
			"evaluating filter expression", tidvecerr.FieldFilter(filter))
	}
	allowed := make(map[string]struct{}, len(tiddlers))
	for _, t := range tiddlers {
		allowed[t.Title] = struct{}{}
	}

	var kept []store.VectorHit
	for _, h := range hits {
		if _, ok := allowed[h.Title]; ok {
			kept = append(kept, h)
		}
	}
	results := hitsToResults(kept)
	return &Response{Mode: ModeHybrid, Count: len(results), Results: results}, nil
}

// nearest guards the semantic path: the index must hold at least one
// chunk before distances mean anything.
func (e *Engine) nearest(ctx context.Context, query string, k int) ([]store.VectorHit, error) {
	if e.embed == nil {
		return nil, tidvecerr.New(tidvecerr.CodeSearchNotReady,
			"the embedding subsystem is not initialized")
	}
	chunks, err := e.store.CountChunks(ctx)
	if err != nil {
		return nil, err
	}
	if chunks == 0 {
		return nil, tidvecerr.New(tidvecerr.CodeSearchNotReady,
			"the semantic index is empty, wait for a sync cycle to complete")
	}

	vec, err := e.embed.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return e.store.NearestNeighbors(ctx, vec, k)
}

func hitsToResults(hits []store.VectorHit) []Result {
	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{
			Title:      h.Title,
			ChunkID:    h.ChunkID,
			Snippet:    h.Text,
			Similarity: 1 - h.Distance,
			Tags:       h.Tags,
			Modified:   h.Modified,
		}
	}
	return results
}

// hydrate replaces each result's chunk snippet with the tiddler's full
// text. Fetches are deduplicated per title; sorting keeps the fetch
// order deterministic for tests and logs.
func (e *Engine) hydrate(ctx context.Context, results []Result) error {
	titles := make(map[string][]int)
	for i, r := range results {
		titles[r.Title] = append(titles[r.Title], i)
	}

	ordered := make([]string, 0, len(titles))
	for t := range titles {
		ordered = append(ordered, t)
	}
	sort.Strings(ordered)

	for _, title := range ordered {
		t, err := e.wiki.Get(ctx, title)
		if err != nil {
			if tidvecerr.IsNotFound(err) {
				continue // deleted between sync and query, skip quietly
			}
			return err
		}
		for _, i := range titles[title] {
			results[i].Text = t.Text
		}
	}
	return nil
}

// checkBudget rejects responses whose serialized size would overwhelm
// the caller, suggesting a smaller limit derived from the observed
// per-result cost.
func (e *Engine) checkBudget(resp *Response, limit int) error {
	if len(resp.Results) == 0 {
		return nil
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return tidvecerr.Wrap(err, tidvecerr.CodeServerInternalFailure, "serializing search response")
	}
	tokens := chunker.EstimateTokens(string(raw))
	if tokens <= e.cfg.ResponseTokenBudget {
		return nil
	}

	// budget / (tokens / count), floored once. Multiplying first avoids
	// the intermediate floor on the per-result cost, which could round
	// the suggestion up past the budget.
	suggested := e.cfg.ResponseTokenBudget * len(resp.Results) / tokens
	if suggested >= limit {
		suggested = limit - 1
	}
	if suggested < 0 {
		suggested = 0
	}

	e.logger.Warn("search response over token budget",
		"matches", len(resp.Results), "estimated_tokens", tokens,
		"budget", e.cfg.ResponseTokenBudget, "suggested_limit", suggested)

	return tidvecerr.New(tidvecerr.CodeSearchOverBudget,
		"the response is too large to return, narrow the query or lower the limit",
		tidvecerr.Field("matches", len(resp.Results)),
		tidvecerr.Field("estimated_tokens", tokens),
		tidvecerr.Field("budget", e.cfg.ResponseTokenBudget),
		tidvecerr.Field("suggested_limit", suggested))
}
