// Package index connects the local stores to the retrieval pipeline: the
// vector and lexical adapters the engine searches, the JSONL chunk loader,
// the Runner that builds every store from loaded chunks, and a cross-store
// consistency check.
package index

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/Aman-CERP/rehydrate/internal/embed"
	"github.com/Aman-CERP/rehydrate/internal/search"
	"github.com/Aman-CERP/rehydrate/internal/store"
)

// VectorAdapter embeds query text and searches a vector store.
type VectorAdapter struct {
	embedder embed.Embedder
	vectors  store.VectorStore
}

var _ search.VectorSearcher = (*VectorAdapter)(nil)

// NewVectorAdapter creates a vector adapter.
func NewVectorAdapter(embedder embed.Embedder, vectors store.VectorStore) *VectorAdapter {
	return &VectorAdapter{embedder: embedder, vectors: vectors}
}

// SearchVector returns the k chunks nearest to text, most similar first.
func (a *VectorAdapter) SearchVector(ctx context.Context, text string, k int) ([]search.RankedItem, error) {
	vec, err := a.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := a.vectors.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	items := make([]search.RankedItem, len(hits))
	for i, h := range hits {
		items[i] = search.RankedItem{ChunkID: h.ID, Score: float64(h.Score)}
	}
	sortRanked(items)
	return items, nil
}

// LexicalAdapter searches a BM25 index.
type LexicalAdapter struct {
	bm25 store.BM25Index
}

var _ search.LexicalSearcher = (*LexicalAdapter)(nil)

// NewLexicalAdapter creates a lexical adapter.
func NewLexicalAdapter(bm25 store.BM25Index) *LexicalAdapter {
	return &LexicalAdapter{bm25: bm25}
}

// SearchLexical returns the k best BM25 matches for text.
func (a *LexicalAdapter) SearchLexical(ctx context.Context, text string, k int) ([]search.RankedItem, error) {
	hits, err := a.bm25.Search(ctx, text, k)
	if err != nil {
		return nil, fmt.Errorf("bm25 search: %w", err)
	}

	items := make([]search.RankedItem, len(hits))
	for i, h := range hits {
		items[i] = search.RankedItem{ChunkID: h.DocID, Score: h.Score}
	}
	sortRanked(items)
	return items, nil
}

// sortRanked enforces descending score, ties by ID, whatever order the
// backend produced.
func sortRanked(items []search.RankedItem) {
	slices.SortStableFunc(items, func(a, b search.RankedItem) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ChunkID, b.ChunkID)
	})
}
