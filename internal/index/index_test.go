package index

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/rehydrate/internal/embed"
	rerrors "github.com/Aman-CERP/rehydrate/internal/errors"
	"github.com/Aman-CERP/rehydrate/internal/rehydrate"
	"github.com/Aman-CERP/rehydrate/internal/store"
)

func corpus() []*Record {
	recs := []*Record{
		{Chunk: store.Chunk{ID: "router", SourcePath: "internal/search/router.go", SpanStart: 1, SpanEnd: 40,
			Text: "func (r *Router) Route(q Query) RetrievalProfile scores query complexity"}},
		{Chunk: store.Chunk{ID: "fusion", SourcePath: "internal/search/fusion.go", SpanStart: 1, SpanEnd: 60,
			Text: "reciprocal rank fusion merges vector and lexical rankings"}},
		{Chunk: store.Chunk{ID: "packer", SourcePath: "internal/bundle/packer.go", SpanStart: 1, SpanEnd: 50,
			Text: "greedy MMR packer selects chunks under the token budget"}},
		{Chunk: store.Chunk{ID: "notes", SourcePath: "docs/notes.md", SpanStart: 1, SpanEnd: 5,
			Text: "release notes for the router", RecencyTimestamp: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)}},
	}
	return recs
}

func openStores(t *testing.T, backend string) *Stores {
	t.Helper()
	s, err := Open(StoreConfig{DataDir: t.TempDir(), BM25Backend: backend, Dimensions: 64, CacheSize: 16})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// =============================================================================
// Runner
// =============================================================================

func TestRunner_IndexesEveryStore(t *testing.T) {
	for _, backend := range []string{"sqlite", "bleve"} {
		t.Run(backend, func(t *testing.T) {
			// Given: empty stores
			ctx := context.Background()
			s := openStores(t, backend)

			// When: indexing the corpus
			res, err := s.Runner().Run(ctx, corpus(), RunnerConfig{BatchSize: 2, VectorPath: s.VectorPath()})

			// Then: all three stores agree
			require.NoError(t, err)
			assert.Equal(t, 4, res.Chunks)
			assert.Equal(t, 4, res.Embedded)
			check, err := s.Checker().Check(ctx)
			require.NoError(t, err)
			assert.True(t, check.Consistent(), "%+v", check)
			assert.Equal(t, 4, check.Catalog)

			recent, err := s.Catalog.Recent(ctx, 5)
			require.NoError(t, err)
			require.Len(t, recent, 1)
			assert.Equal(t, "notes", recent[0].ID)
		})
	}
}

func TestRunner_SharedRefsAndSuppliedVectors(t *testing.T) {
	ctx := context.Background()
	s := openStores(t, "sqlite")
	supplied := make([]float32, 64)
	supplied[0] = 1
	recs := []*Record{
		{Chunk: store.Chunk{ID: "a", Text: "alpha", EmbeddingRef: "shared"}},
		{Chunk: store.Chunk{ID: "b", Text: "beta", EmbeddingRef: "shared"}},
		{Chunk: store.Chunk{ID: "c", Text: "gamma"}, Embedding: supplied},
		{Chunk: store.Chunk{ID: "d", Text: "delta"}, Embedding: []float32{1, 2}},
	}

	res, err := s.Runner().Run(ctx, recs, RunnerConfig{})

	require.NoError(t, err)
	assert.Equal(t, 4, res.Chunks)
	assert.Equal(t, 2, res.Embedded, "shared once, wrong-width d re-embedded")
	assert.Equal(t, 1, res.Supplied)
	vecs, err := s.Catalog.Embeddings(ctx, []string{"shared", "c", "d"})
	require.NoError(t, err)
	assert.Len(t, vecs, 3)
	assert.Equal(t, supplied, vecs["c"])
	assert.Equal(t, 4, s.Vector.Count())
}

func TestRunner_ReportsProgress(t *testing.T) {
	// Given: four chunks embedded two at a time
	s := openStores(t, "sqlite")
	var got []Progress

	// When
	_, err := s.Runner().Run(context.Background(), corpus(), RunnerConfig{
		BatchSize:  2,
		VectorPath: s.VectorPath(),
		OnProgress: func(p Progress) { got = append(got, p) },
	})

	// Then: one event per batch, then one per store written
	require.NoError(t, err)
	assert.Equal(t, []Progress{
		{Stage: StageEmbed, Done: 2, Total: 4},
		{Stage: StageEmbed, Done: 4, Total: 4},
		{Stage: StageStore, Done: 1, Total: 3},
		{Stage: StageStore, Done: 2, Total: 3},
		{Stage: StageStore, Done: 3, Total: 3},
	}, got)
}

type failingEmbedder struct{ embed.Embedder }

func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("model crashed")
}

func TestRunner_EmbedFailureStopsBeforeWriting(t *testing.T) {
	ctx := context.Background()
	s := openStores(t, "sqlite")
	r, err := NewRunner(RunnerDependencies{
		Catalog: s.Catalog, BM25: s.BM25, Vector: s.Vector,
		Embedder: failingEmbedder{embed.NewStaticEmbedder(64)},
	})
	require.NoError(t, err)

	_, err = r.Run(ctx, corpus(), RunnerConfig{})

	require.Error(t, err)
	n, err := s.Catalog.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNewRunner_RequiresDependencies(t *testing.T) {
	_, err := NewRunner(RunnerDependencies{})
	assert.Error(t, err)
}

// =============================================================================
// Adapters end-to-end
// =============================================================================

func TestAdapters_EndToEnd(t *testing.T) {
	for _, backend := range []string{"sqlite", "bleve"} {
		t.Run(backend, func(t *testing.T) {
			// Given: an indexed corpus reopened from disk
			ctx := context.Background()
			dir := t.TempDir()
			cfg := StoreConfig{DataDir: dir, BM25Backend: backend, Dimensions: 64}
			s, err := Open(cfg)
			require.NoError(t, err)
			_, err = s.Runner().Run(ctx, corpus(), RunnerConfig{VectorPath: s.VectorPath()})
			require.NoError(t, err)
			require.NoError(t, s.Close())

			s, err = Open(cfg)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })

			// When: both adapters search
			lex, err := s.LexicalAdapter().SearchLexical(ctx, "fusion rankings", 3)
			require.NoError(t, err)
			vec, err := s.VectorAdapter().SearchVector(ctx, "reciprocal rank fusion merges vector and lexical rankings", 3)
			require.NoError(t, err)

			// Then: each ranks the fusion chunk first, scores descending
			require.NotEmpty(t, lex)
			assert.Equal(t, "fusion", lex[0].ChunkID)
			require.NotEmpty(t, vec)
			assert.Equal(t, "fusion", vec[0].ChunkID)
			for i := 1; i < len(vec); i++ {
				assert.GreaterOrEqual(t, vec[i-1].Score, vec[i].Score)
			}

			// And: the engine assembles a bundle over the real stores
			e, err := rehydrate.New(s.VectorAdapter(), s.LexicalAdapter(), s.Catalog)
			require.NoError(t, err)
			b, trace, err := e.Rehydrate(ctx, "coder", "how does rank fusion merge rankings", 800, rehydrate.FeatureFlags{})
			require.NoError(t, err)
			ids := make([]string, len(b.Evidence))
			for i, it := range b.Evidence {
				ids[i] = it.ChunkID
			}
			assert.Contains(t, ids, "fusion", fmt.Sprintf("%+v", trace.StageCounts))
			assert.LessOrEqual(t, b.UsedTokens, 800)
		})
	}
}

// =============================================================================
// Consistency
// =============================================================================

type countStub struct{ n int }

func (c countStub) Count(context.Context) (int, error) { return c.n, nil }

type bm25Stub struct{ n int }

func (b bm25Stub) Count() (int, error) { return b.n, nil }

type vectorStub struct{ n int }

func (v vectorStub) Count() int { return v.n }

func TestConsistencyChecker_DetectsMismatch(t *testing.T) {
	res, err := NewConsistencyChecker(countStub{3}, bm25Stub{3}, vectorStub{2}, nil).Check(context.Background())

	require.NoError(t, err)
	assert.False(t, res.Consistent())
	assert.Equal(t, CheckResult{Catalog: 3, BM25: 3, Vector: 2}, res)
}

func TestReset_RemovesStoresKeepsLock(t *testing.T) {
	// Given: an indexed data dir holding its lock file
	ctx := context.Background()
	dir := t.TempDir()
	lock := NewLock(dir)
	require.NoError(t, lock.Lock(ctx))
	defer func() { _ = lock.Unlock() }()
	s, err := Open(StoreConfig{DataDir: dir, Dimensions: 64})
	require.NoError(t, err)
	_, err = s.Runner().Run(ctx, corpus(), RunnerConfig{VectorPath: s.VectorPath()})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// When
	require.NoError(t, Reset(dir))

	// Then: reopening yields empty stores
	assert.FileExists(t, lock.Path())
	s, err = Open(StoreConfig{DataDir: dir, Dimensions: 64})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	res, err := s.Checker().Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, CheckResult{}, res)
}

func TestOpen_DimensionMismatch(t *testing.T) {
	// Given: vectors saved at 64 dimensions
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(StoreConfig{DataDir: dir, Dimensions: 64})
	require.NoError(t, err)
	_, err = s.Runner().Run(ctx, corpus(), RunnerConfig{VectorPath: s.VectorPath()})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// When: reopening with a different width
	_, err = Open(StoreConfig{DataDir: dir, Dimensions: 32})

	// Then
	require.Error(t, err)
	assert.Equal(t, rerrors.ErrCodeDimensionMismatch, rerrors.GetCode(err))
}

func TestOpen_RequiresDataDir(t *testing.T) {
	_, err := Open(StoreConfig{Dimensions: 8})
	assert.Error(t, err)
}
