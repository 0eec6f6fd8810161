// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidvec Contributors

package search

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidvec-dev/tidvec/internal/store"
	"github.com/tidvec-dev/tidvec/internal/store/memory"
	"github.com/tidvec-dev/tidvec/internal/wiki"
	tidvecerr "github.com/tidvec-dev/tidvec/pkg/errors"
)

type fakeWiki struct {
	tiddlers map[string]wiki.Tiddler
	// listed restricts List to a fixed title set, emulating a filter
	// expression the real wiki would evaluate.
	listed []string
}

func (f *fakeWiki) List(ctx context.Context, filter string) ([]wiki.Tiddler, error) {
	var out []wiki.Tiddler
	for _, title := range f.listed {
		t := f.tiddlers[title]
		t.Text = ""
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeWiki) Get(ctx context.Context, title string) (*wiki.Tiddler, error) {
	t, ok := f.tiddlers[title]
	if !ok {
		return nil, tidvecerr.New(tidvecerr.CodeWikiTiddlerNotFound, "no such tiddler")
	}
	return &t, nil
}

type fakeEmbedder struct {
	queryVec []float32
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return f.queryVec, nil
}

func (f *fakeEmbedder) Health(ctx context.Context) bool { return true }
func (f *fakeEmbedder) Dimensions() int                 { return 3 }

// seed inserts one single-chunk document at the given vector so
// distances to the query vector are fully controlled by the test.
func seed(t *testing.T, vs store.VectorStore, title, text string, vec []float32) {
	t.Helper()
	rec := store.ChunkRecord{Title: title, ChunkID: 0, Text: text, Modified: "20260301110000000"}
	require.NoError(t, vs.Insert(context.Background(), rec, vec))
}

func newEngine(t *testing.T, w *fakeWiki, cfg Config) (*Engine, store.VectorStore) {
	t.Helper()
	vs := memory.New(3)
	t.Cleanup(func() { vs.Close() })
	if w.tiddlers == nil {
		w.tiddlers = make(map[string]wiki.Tiddler)
	}
	return New(w, &fakeEmbedder{queryVec: []float32{1, 0, 0}}, vs, cfg), vs
}

func TestSearchRequiresQueryOrFilter(t *testing.T) {
	e, _ := newEngine(t, &fakeWiki{}, Config{})
	_, err := e.Search(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, tidvecerr.IsInvalidInput(err))

	_, err = e.Search(context.Background(), Request{Query: "x", Limit: -1})
	require.Error(t, err)
	assert.True(t, tidvecerr.IsInvalidInput(err))
}

func TestSemanticSearchOrdersByDistance(t *testing.T) {
	e, vs := newEngine(t, &fakeWiki{}, Config{})
	seed(t, vs, "Near", "closest text", []float32{1, 0, 0})
	seed(t, vs, "Mid", "middling text", []float32{0.5, 0.5, 0})
	seed(t, vs, "Far", "distant text", []float32{0, 0, 1})

	resp, err := e.Search(context.Background(), Request{Query: "anything", Limit: 2})
	require.NoError(t, err)

	assert.Equal(t, ModeSemantic, resp.Mode)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "Near", resp.Results[0].Title)
	assert.Equal(t, "Mid", resp.Results[1].Title)
	assert.Greater(t, resp.Results[0].Similarity, resp.Results[1].Similarity)
	assert.InDelta(t, 1.0, resp.Results[0].Similarity, 1e-6)
}

func TestSemanticSearchOnEmptyIndexIsNotReady(t *testing.T) {
	e, _ := newEngine(t, &fakeWiki{}, Config{})
	_, err := e.Search(context.Background(), Request{Query: "anything"})
	require.Error(t, err)
	assert.True(t, tidvecerr.IsUnavailable(err))
}

func TestFilterOnlySearchKeepsWikiOrder(t *testing.T) {
	w := &fakeWiki{
		tiddlers: map[string]wiki.Tiddler{
			"B": {Title: "B", Tags: []string{"journal"}},
			"A": {Title: "A"},
		},
		listed: []string{"B", "A"},
	}
	e, _ := newEngine(t, w, Config{})

	resp, err := e.Search(context.Background(), Request{Filter: "[tag[journal]]"})
	require.NoError(t, err)

	assert.Equal(t, ModeFilter, resp.Mode)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "B", resp.Results[0].Title)
	assert.Equal(t, "A", resp.Results[1].Title)
	assert.Zero(t, resp.Results[0].Similarity)
}

func TestFilterOnlySearchPaginates(t *testing.T) {
	w := &fakeWiki{
		tiddlers: map[string]wiki.Tiddler{
			"A": {Title: "A"}, "B": {Title: "B"}, "C": {Title: "C"},
		},
		listed: []string{"A", "B", "C"},
	}
	e, _ := newEngine(t, w, Config{})

	resp, err := e.Search(context.Background(), Request{Filter: "[all[]]", Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "B", resp.Results[0].Title)

	// Offset past the end yields an empty page, not an error.
	resp, err = e.Search(context.Background(), Request{Filter: "[all[]]", Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestHybridSearchIntersectsByTitleInSemanticOrder(t *testing.T) {
	w := &fakeWiki{
		tiddlers: map[string]wiki.Tiddler{
			"Mid": {Title: "Mid"},
			"Far": {Title: "Far"},
		},
		listed: []string{"Far", "Mid"},
	}
	e, vs := newEngine(t, w, Config{})
	seed(t, vs, "Near", "closest but filtered out", []float32{1, 0, 0})
	seed(t, vs, "Mid", "kept", []float32{0.5, 0.5, 0})
	seed(t, vs, "Far", "also kept", []float32{0, 0, 1})

	resp, err := e.Search(context.Background(), Request{Query: "q", Filter: "[tag[x]]"})
	require.NoError(t, err)

	assert.Equal(t, ModeHybrid, resp.Mode)
	require.Len(t, resp.Results, 2)
	// Semantic order survives the intersection; "Near" is gone because
	// the filter did not list it.
	assert.Equal(t, "Mid", resp.Results[0].Title)
	assert.Equal(t, "Far", resp.Results[1].Title)
}

func TestHybridSearchRespectsLimitAfterIntersection(t *testing.T) {
	w := &fakeWiki{
		tiddlers: map[string]wiki.Tiddler{"A": {Title: "A"}, "B": {Title: "B"}},
		listed:   []string{"A", "B"},
	}
	e, vs := newEngine(t, w, Config{})
	seed(t, vs, "A", "a", []float32{1, 0, 0})
	seed(t, vs, "B", "b", []float32{0.9, 0.1, 0})

	resp, err := e.Search(context.Background(), Request{Query: "q", Filter: "[all[]]", Limit: 1})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "A", resp.Results[0].Title)
}

func TestHybridResultsAreSubsetOfSemantic(t *testing.T) {
	w := &fakeWiki{
		tiddlers: map[string]wiki.Tiddler{"Mid": {Title: "Mid"}},
		listed:   []string{"Mid"},
	}
	e, vs := newEngine(t, w, Config{})
	seed(t, vs, "Near", "closest text", []float32{1, 0, 0})
	seed(t, vs, "Mid", "middling text", []float32{0.5, 0.5, 0})

	// At limit 1 the semantic pass only reaches "Near"; the filter admits
	// only "Mid", so the intersection is empty rather than backfilled
	// with neighbors a semantic-only query at the same limit never sees.
	hybrid, err := e.Search(context.Background(), Request{Query: "q", Filter: "[tag[x]]", Limit: 1})
	require.NoError(t, err)
	assert.Empty(t, hybrid.Results)

	// At limit 2 the semantic pass reaches "Mid" and the intersection
	// keeps it. Every hybrid hit appears in the semantic result set for
	// the same query and limit.
	semantic, err := e.Search(context.Background(), Request{Query: "q", Limit: 2})
	require.NoError(t, err)
	hybrid, err = e.Search(context.Background(), Request{Query: "q", Filter: "[tag[x]]", Limit: 2})
	require.NoError(t, err)
	require.Len(t, hybrid.Results, 1)
	assert.Equal(t, "Mid", hybrid.Results[0].Title)

	titles := make(map[string]struct{}, len(semantic.Results))
	for _, r := range semantic.Results {
		titles[r.Title] = struct{}{}
	}
	for _, r := range hybrid.Results {
		_, ok := titles[r.Title]
		assert.True(t, ok, "hybrid hit %q not in the semantic result set", r.Title)
	}
}

func TestIncludeTextHydratesFullTiddler(t *testing.T) {
	w := &fakeWiki{
		tiddlers: map[string]wiki.Tiddler{
			"Doc": {Title: "Doc", Text: "the complete tiddler body"},
		},
	}
	e, vs := newEngine(t, w, Config{})
	seed(t, vs, "Doc", "just a chunk", []float32{1, 0, 0})

	resp, err := e.Search(context.Background(), Request{Query: "q", IncludeText: true})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "just a chunk", resp.Results[0].Snippet)
	assert.Equal(t, "the complete tiddler body", resp.Results[0].Text)
}

func TestHydrationSkipsTiddlersDeletedSinceSync(t *testing.T) {
	e, vs := newEngine(t, &fakeWiki{}, Config{})
	seed(t, vs, "Gone", "stale chunk", []float32{1, 0, 0})

	resp, err := e.Search(context.Background(), Request{Query: "q", IncludeText: true})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Empty(t, resp.Results[0].Text)
}

func TestOversizedResponseIsRejectedWithSuggestedLimit(t *testing.T) {
	// A budget that fits one result but not two, so the suggestion lands
	// on a usable limit rather than zero.
	e, vs := newEngine(t, &fakeWiki{}, Config{ResponseTokenBudget: 140})
	big := strings.Repeat("lorem ipsum dolor sit amet ", 10)
	seed(t, vs, "Big-1", big, []float32{1, 0, 0})
	seed(t, vs, "Big-2", big, []float32{0.9, 0.1, 0})

	_, err := e.Search(context.Background(), Request{Query: "q"})
	require.Error(t, err)
	assert.True(t, tidvecerr.IsBudgetExceeded(err))

	fields := tidvecerr.FieldsOf(err)
	assert.Equal(t, 2, fields["matches"])
	suggested, ok := fields["suggested_limit"].(int)
	require.True(t, ok)
	assert.Less(t, suggested, 2)
	require.GreaterOrEqual(t, suggested, 1)

	// Retrying with the suggested limit stays under the budget.
	resp, err := e.Search(context.Background(), Request{Query: "q", Limit: suggested})
	require.NoError(t, err)
	assert.Equal(t, suggested, resp.Count)
}

func TestSmallResponsePassesBudget(t *testing.T) {
	e, vs := newEngine(t, &fakeWiki{}, Config{ResponseTokenBudget: 50})
	seed(t, vs, "Tiny", "ok", []float32{1, 0, 0})

	resp, err := e.Search(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Count)
}
