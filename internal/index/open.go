package index

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/rehydrate/internal/embed"
	rerrors "github.com/Aman-CERP/rehydrate/internal/errors"
	"github.com/Aman-CERP/rehydrate/internal/store"
)

// File names inside the data directory.
const (
	CatalogFile = "catalog.db"
	VectorFile  = "vectors.hnsw"
	LockFile    = "index.lock"
)

// StoreConfig locates and shapes the stores.
type StoreConfig struct {
	DataDir     string
	BM25Backend string
	Dimensions  int
	// CacheSize is the query embedding cache size.
	CacheSize int
}

// Stores is the set of opened local stores plus the adapters over them.
type Stores struct {
	Catalog  *store.SQLiteCatalog
	BM25     store.BM25Index
	Vector   *store.HNSWStore
	Embedder embed.Embedder

	cfg StoreConfig
}

// Open opens every store under cfg.DataDir, creating the directory. A
// missing vector file yields an empty store.
func Open(cfg StoreConfig) (*Stores, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	s := &Stores{cfg: cfg}
	var err error
	if s.Catalog, err = store.NewSQLiteCatalog(filepath.Join(cfg.DataDir, CatalogFile)); err != nil {
		return nil, err
	}
	bm25, err := store.NewBM25Index(cfg.DataDir, cfg.BM25Backend, store.DefaultBM25Config())
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.BM25 = bm25

	if s.Vector, err = openVectors(s.VectorPath(), cfg.Dimensions); err != nil {
		_ = s.Close()
		return nil, err
	}

	s.Embedder = embed.NewCachedEmbedder(embed.NewStaticEmbedder(cfg.Dimensions), cfg.CacheSize)
	return s, nil
}

// openVectors loads a saved graph or creates an empty one. A saved graph
// must match the configured width.
func openVectors(path string, dims int) (*store.HNSWStore, error) {
	if _, err := os.Stat(path + ".meta"); err != nil {
		return store.NewHNSWStore(store.DefaultVectorStoreConfig(dims))
	}
	v, err := store.LoadHNSWStore(path)
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeCorruptIndex, "failed to load vector index", err).
			WithSuggestion("rebuild with 'rehydrate index'")
	}
	if v.Dimensions() != dims {
		_ = v.Close()
		return nil, rerrors.New(rerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("vector index has %d dimensions, config expects %d", v.Dimensions(), dims), nil).
			WithSuggestion("rebuild with 'rehydrate index' or restore index.dimensions")
	}
	return v, nil
}

// VectorPath is where the HNSW graph is saved.
func (s *Stores) VectorPath() string {
	return filepath.Join(s.cfg.DataDir, VectorFile)
}

// VectorAdapter returns the vector ranker over these stores.
func (s *Stores) VectorAdapter() *VectorAdapter {
	return NewVectorAdapter(s.Embedder, s.Vector)
}

// LexicalAdapter returns the lexical ranker over these stores.
func (s *Stores) LexicalAdapter() *LexicalAdapter {
	return NewLexicalAdapter(s.BM25)
}

// Runner returns a Runner writing to these stores.
func (s *Stores) Runner() *Runner {
	r, _ := NewRunner(RunnerDependencies{
		Catalog:  s.Catalog,
		BM25:     s.BM25,
		Vector:   s.Vector,
		Embedder: s.Embedder,
	})
	return r
}

// Checker returns a consistency checker over these stores.
func (s *Stores) Checker() *ConsistencyChecker {
	return NewConsistencyChecker(s.Catalog, s.BM25, s.Vector, nil)
}

// Close closes every opened store.
func (s *Stores) Close() error {
	var errs []error
	if s.Embedder != nil {
		errs = append(errs, s.Embedder.Close())
	}
	if s.Vector != nil {
		errs = append(errs, s.Vector.Close())
	}
	if s.BM25 != nil {
		errs = append(errs, s.BM25.Close())
	}
	if s.Catalog != nil {
		errs = append(errs, s.Catalog.Close())
	}
	return errors.Join(errs...)
}

// Reset removes every store file under dataDir, leaving the lock file.
// The caller must hold the exclusive lock.
func Reset(dataDir string) error {
	var errs []error
	for _, name := range []string{
		CatalogFile, CatalogFile + "-wal", CatalogFile + "-shm",
		"bm25.db", "bm25.db-wal", "bm25.db-shm", "bm25.bleve",
		VectorFile, VectorFile + ".meta",
	} {
		if err := os.RemoveAll(filepath.Join(dataDir, name)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
