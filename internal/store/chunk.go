// Package store holds the chunk data model and the local indices behind the
// retrieval adapters: BM25 (SQLite FTS5 or Bleve), HNSW vectors, and a
// SQLite chunk catalog.
package store

import (
	"context"
	"fmt"
	"time"
)

// Chunk is an immutable unit of retrievable content. Chunks are produced by
// an external chunker; the retrieval pipeline only reads them.
type Chunk struct {
	ID         string `json:"id"`
	SourcePath string `json:"source_path"`
	// SpanStart and SpanEnd are inclusive line numbers within SourcePath.
	SpanStart  int    `json:"span_start"`
	SpanEnd    int    `json:"span_end"`
	Text       string `json:"text"`
	TokenCount int    `json:"token_count,omitempty"`
	// EmbeddingRef is the key of the chunk's vector in the catalog.
	// Empty means the chunk ID is used.
	EmbeddingRef     string            `json:"embedding_ref,omitempty"`
	RecencyTimestamp time.Time         `json:"recency_timestamp"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// EmbeddingKey returns the catalog key for the chunk's embedding.
func (c *Chunk) EmbeddingKey() string {
	if c.EmbeddingRef != "" {
		return c.EmbeddingRef
	}
	return c.ID
}

// SpanLen returns the number of lines covered by the span.
func (c *Chunk) SpanLen() int {
	if c.SpanEnd < c.SpanStart {
		return 0
	}
	return c.SpanEnd - c.SpanStart + 1
}

// Document is a unit of text handed to a BM25 index.
type Document struct {
	ID      string
	Content string
}

// BM25Result is a single BM25 hit.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// BM25Index provides keyword search scored by BM25.
type BM25Index interface {
	Index(ctx context.Context, docs []*Document) error
	// Search returns hits sorted by descending score.
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)
	Delete(ctx context.Context, docIDs []string) error
	Count() (int, error)
	Close() error
}

// BM25Config configures the BM25 index.
type BM25Config struct {
	// StopWords are dropped from both documents and queries.
	StopWords []string
}

// DefaultBM25Config returns default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{StopWords: DefaultCodeStopWords}
}

// DefaultCodeStopWords are keywords too common in source to rank on.
var DefaultCodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"the", "and", "or", "of", "to", "in", "is", "a", "an",
}

// VectorResult is a single nearest-neighbour hit.
type VectorResult struct {
	ID       string
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Similarity in [0,1]
}

// VectorStore provides approximate nearest-neighbour search.
type VectorStore interface {
	// Add inserts vectors. An existing ID is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	// Search returns the k nearest neighbours, most similar first.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Count() int
	Close() error
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	Dimensions int
	// Metric is "cos" (default) or "l2".
	Metric string
	// M is the HNSW max connections per layer.
	M int
	// EfSearch is the HNSW query-time search width.
	EfSearch int
}

// DefaultVectorStoreConfig returns defaults for the given dimensions.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   64,
	}
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (rerun 'rehydrate index')", e.Expected, e.Got)
}
