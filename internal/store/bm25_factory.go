package store

import (
	"fmt"
	"path/filepath"
)

// BM25Backend names a BM25 implementation.
type BM25Backend string

const (
	// BM25BackendSQLite uses SQLite FTS5 (default). WAL mode allows a
	// reader while the index is rebuilt.
	BM25BackendSQLite BM25Backend = "sqlite"

	// BM25BackendBleve uses Bleve v2. Single process only.
	BM25BackendBleve BM25Backend = "bleve"
)

// NewBM25Index opens the BM25 index for backend inside dataDir.
// An empty dataDir opens an in-memory index.
func NewBM25Index(dataDir string, backend string, config BM25Config) (BM25Index, error) {
	path := func(ext string) string {
		if dataDir == "" {
			return ""
		}
		return filepath.Join(dataDir, "bm25"+ext)
	}

	switch BM25Backend(backend) {
	case BM25BackendSQLite, "":
		return NewSQLiteBM25Index(path(".db"), config)
	case BM25BackendBleve:
		return NewBleveBM25Index(path(".bleve"), config)
	default:
		return nil, fmt.Errorf("unknown BM25 backend: %s (valid options: sqlite, bleve)", backend)
	}
}
