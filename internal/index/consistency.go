package index

import (
	"context"
	"fmt"
	"log/slog"
)

// Counter reports how many chunks a catalog holds.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// BM25Counter reports how many documents a BM25 index holds.
type BM25Counter interface {
	Count() (int, error)
}

// VectorCounter reports how many vectors a vector store holds.
type VectorCounter interface {
	Count() int
}

// CheckResult is the per-store chunk count.
type CheckResult struct {
	Catalog int `json:"catalog"`
	BM25    int `json:"bm25"`
	Vector  int `json:"vector"`
}

// Consistent reports whether every store holds the same number of chunks.
func (r CheckResult) Consistent() bool {
	return r.Catalog == r.BM25 && r.Catalog == r.Vector
}

// ConsistencyChecker compares chunk counts across the catalog, the BM25
// index and the vector store. A mismatch means a chunk can be retrieved by
// one ranker but not hydrated, or never retrieved at all; rebuilding with
// `rehydrate index` fixes it.
type ConsistencyChecker struct {
	catalog Counter
	bm25    BM25Counter
	vector  VectorCounter
	logger  *slog.Logger
}

// NewConsistencyChecker creates a checker over the three stores.
func NewConsistencyChecker(catalog Counter, bm25 BM25Counter, vector VectorCounter, logger *slog.Logger) *ConsistencyChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsistencyChecker{catalog: catalog, bm25: bm25, vector: vector, logger: logger}
}

// Check counts every store.
func (c *ConsistencyChecker) Check(ctx context.Context) (CheckResult, error) {
	var res CheckResult
	var err error
	if res.Catalog, err = c.catalog.Count(ctx); err != nil {
		return res, fmt.Errorf("count catalog: %w", err)
	}
	if res.BM25, err = c.bm25.Count(); err != nil {
		return res, fmt.Errorf("count bm25: %w", err)
	}
	res.Vector = c.vector.Count()

	if !res.Consistent() {
		c.logger.Warn("index counts mismatch, run 'rehydrate index' to rebuild",
			slog.Int("catalog", res.Catalog),
			slog.Int("bm25", res.BM25),
			slog.Int("vector", res.Vector))
	}
	return res, nil
}
