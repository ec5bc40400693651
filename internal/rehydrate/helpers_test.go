package rehydrate

import (
	"cmp"
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/rehydrate/internal/bundle"
	"github.com/Aman-CERP/rehydrate/internal/search"
	"github.com/Aman-CERP/rehydrate/internal/store"
)

// fakeRanker serves both ranker interfaces. Text with an entry in byText
// gets that list; anything else gets items.
type fakeRanker struct {
	mu     sync.Mutex
	items  []search.RankedItem
	byText map[string][]search.RankedItem
	err    error
	delay  time.Duration
	// ignoreCtx makes the delay run to completion after the deadline.
	ignoreCtx bool
	calls     []string
}

func (f *fakeRanker) search(ctx context.Context, text string, k int) ([]search.RankedItem, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.mu.Unlock()

	if f.delay > 0 && f.ignoreCtx {
		time.Sleep(f.delay)
	} else if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	items, ok := f.byText[text]
	if !ok {
		items = f.items
	}
	if len(items) > k {
		items = items[:k]
	}
	return items, nil
}

func (f *fakeRanker) SearchVector(ctx context.Context, text string, k int) ([]search.RankedItem, error) {
	return f.search(ctx, text, k)
}

func (f *fakeRanker) SearchLexical(ctx context.Context, text string, k int) ([]search.RankedItem, error) {
	return f.search(ctx, text, k)
}

func (f *fakeRanker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRanker) callTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// mapCatalog is an in-memory Catalog.
type mapCatalog struct {
	mu      sync.Mutex
	chunks  map[string]*store.Chunk
	vectors map[string][]float32
	err     error
	calls   int
}

func newCatalog(chunks ...*store.Chunk) *mapCatalog {
	c := &mapCatalog{chunks: map[string]*store.Chunk{}, vectors: map[string][]float32{}}
	for _, ch := range chunks {
		c.chunks[ch.ID] = ch
	}
	return c
}

func (c *mapCatalog) Chunks(_ context.Context, ids []string) (map[string]*store.Chunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	out := make(map[string]*store.Chunk, len(ids))
	for _, id := range ids {
		if ch, ok := c.chunks[id]; ok {
			out[id] = ch
		}
	}
	return out, nil
}

func (c *mapCatalog) Embeddings(_ context.Context, refs []string) (map[string][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]float32, len(refs))
	for _, r := range refs {
		if v, ok := c.vectors[r]; ok {
			out[r] = v
		}
	}
	return out, nil
}

func (c *mapCatalog) Recent(_ context.Context, limit int) ([]*store.Chunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*store.Chunk
	for _, ch := range c.chunks {
		if !ch.RecencyTimestamp.IsZero() {
			out = append(out, ch)
		}
	}
	slices.SortFunc(out, func(a, b *store.Chunk) int {
		if d := b.RecencyTimestamp.Compare(a.RecencyTimestamp); d != 0 {
			return d
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func chunk(id, path, text string) *store.Chunk {
	return &store.Chunk{ID: id, SourcePath: path, SpanStart: 1, SpanEnd: 20, Text: text}
}

// exampleCatalog holds the four chunks of the HybridVectorStore scenario,
// each in its own file.
func exampleCatalog() *mapCatalog {
	return newCatalog(
		chunk("A", "internal/store/hybrid.go", "type HybridVectorStore struct { implement vector search }"),
		chunk("B", "internal/store/hybrid_store.go", "func NewHybridVectorStore() implement HybridVectorStore"),
		chunk("C", "docs/hybrid.md", "HybridVectorStore design notes"),
		chunk("D", "internal/store/lexical.go", "implement lexical half of HybridVectorStore"),
	)
}

func exampleRankers() (*fakeRanker, *fakeRanker) {
	vec := &fakeRanker{items: []search.RankedItem{{ChunkID: "A", Score: 0.9}, {ChunkID: "B", Score: 0.8}, {ChunkID: "C", Score: 0.5}}}
	lex := &fakeRanker{items: []search.RankedItem{{ChunkID: "B", Score: 0.95}, {ChunkID: "D", Score: 0.7}}}
	return vec, lex
}

func testSettings() Settings {
	s := DefaultSettings()
	s.AdapterTimeout = 50 * time.Millisecond
	s.Expansion.Timeout = 50 * time.Millisecond
	return s
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(t *testing.T, vec search.VectorSearcher, lex search.LexicalSearcher, cat Catalog, s Settings) *Engine {
	t.Helper()
	e, err := New(vec, lex, cat, WithSettings(s), WithLogger(discardLogger()))
	require.NoError(t, err)
	return e
}

func evidenceIDs(b bundle.ContextBundle) []string {
	out := make([]string, len(b.Evidence))
	for i, it := range b.Evidence {
		out[i] = it.ChunkID
	}
	return out
}
