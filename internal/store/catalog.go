package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"
)

// SQLiteCatalog persists chunks and their embeddings. It is the lookup
// side of retrieval: adapters return IDs, the catalog returns content.
type SQLiteCatalog struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// NewSQLiteCatalog opens or creates the catalog at path.
// An empty path creates an in-memory catalog.
func NewSQLiteCatalog(path string) (*SQLiteCatalog, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS chunks (
		id            TEXT PRIMARY KEY,
		source_path   TEXT NOT NULL,
		span_start    INTEGER NOT NULL,
		span_end      INTEGER NOT NULL,
		text          TEXT NOT NULL,
		token_count   INTEGER NOT NULL DEFAULT 0,
		embedding_ref TEXT NOT NULL DEFAULT '',
		recency       INTEGER NOT NULL DEFAULT 0,
		metadata      TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_recency ON chunks(recency DESC, id);

	CREATE TABLE IF NOT EXISTS embeddings (
		ref    TEXT PRIMARY KEY,
		vector BLOB NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize catalog schema: %w", err)
	}
	return &SQLiteCatalog{db: db}, nil
}

// SaveChunks upserts chunks.
func (c *SQLiteCatalog) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("catalog is closed")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks
			(id, source_path, span_start, span_end, text, token_count, embedding_ref, recency, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, ch := range chunks {
		meta := ""
		if len(ch.Metadata) > 0 {
			b, err := json.Marshal(ch.Metadata)
			if err != nil {
				return fmt.Errorf("failed to encode metadata for %s: %w", ch.ID, err)
			}
			meta = string(b)
		}
		var recency int64
		if !ch.RecencyTimestamp.IsZero() {
			recency = ch.RecencyTimestamp.UnixNano()
		}
		_, err := stmt.ExecContext(ctx, ch.ID, ch.SourcePath, ch.SpanStart, ch.SpanEnd,
			ch.Text, ch.TokenCount, ch.EmbeddingRef, recency, meta)
		if err != nil {
			return fmt.Errorf("failed to save chunk %s: %w", ch.ID, err)
		}
	}
	return tx.Commit()
}

// SaveEmbeddings upserts vectors keyed by embedding ref.
func (c *SQLiteCatalog) SaveEmbeddings(ctx context.Context, refs []string, vectors [][]float32) error {
	if len(refs) != len(vectors) {
		return fmt.Errorf("refs and vectors length mismatch: %d vs %d", len(refs), len(vectors))
	}
	if len(refs) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("catalog is closed")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO embeddings (ref, vector) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare embedding insert: %w", err)
	}
	defer stmt.Close()

	for i, ref := range refs {
		if _, err := stmt.ExecContext(ctx, ref, encodeVector(vectors[i])); err != nil {
			return fmt.Errorf("failed to save embedding %s: %w", ref, err)
		}
	}
	return tx.Commit()
}

// Chunks returns the chunks for ids. Unknown IDs are absent from the map.
func (c *SQLiteCatalog) Chunks(ctx context.Context, ids []string) (map[string]*Chunk, error) {
	out := make(map[string]*Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, fmt.Errorf("catalog is closed")
	}

	placeholders, args := inClause(ids)
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, source_path, span_start, span_end, text, token_count, embedding_ref, recency, metadata
		FROM chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out[ch.ID] = ch
	}
	return out, rows.Err()
}

// Embeddings returns vectors for refs. Unknown refs are absent from the map.
func (c *SQLiteCatalog) Embeddings(ctx context.Context, refs []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(refs))
	if len(refs) == 0 {
		return out, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, fmt.Errorf("catalog is closed")
	}

	placeholders, args := inClause(refs)
	rows, err := c.db.QueryContext(ctx, `SELECT ref, vector FROM embeddings WHERE ref IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ref  string
			blob []byte
		)
		if err := rows.Scan(&ref, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("embedding %s: %w", ref, err)
		}
		out[ref] = vec
	}
	return out, rows.Err()
}

// Recent returns up to limit chunks, newest first, ties by ID.
// Chunks without a recency timestamp are never returned.
func (c *SQLiteCatalog) Recent(ctx context.Context, limit int) ([]*Chunk, error) {
	if limit <= 0 {
		return nil, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, fmt.Errorf("catalog is closed")
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, source_path, span_start, span_end, text, token_count, embedding_ref, recency, metadata
		FROM chunks WHERE recency > 0
		ORDER BY recency DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent chunks: %w", err)
	}
	defer rows.Close()

	var out []*Chunk
	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// Count returns the number of chunks.
func (c *SQLiteCatalog) Count(ctx context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return 0, fmt.Errorf("catalog is closed")
	}
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, err
}

// Close closes the database. Safe to call twice.
func (c *SQLiteCatalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_, _ = c.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return c.db.Close()
}

func scanChunk(rows *sql.Rows) (*Chunk, error) {
	var (
		ch      Chunk
		recency int64
		meta    string
	)
	err := rows.Scan(&ch.ID, &ch.SourcePath, &ch.SpanStart, &ch.SpanEnd, &ch.Text,
		&ch.TokenCount, &ch.EmbeddingRef, &recency, &meta)
	if err != nil {
		return nil, fmt.Errorf("failed to scan chunk: %w", err)
	}
	if recency != 0 {
		ch.RecencyTimestamp = time.Unix(0, recency).UTC()
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &ch.Metadata); err != nil {
			return nil, fmt.Errorf("chunk %s has corrupt metadata: %w", ch.ID, err)
		}
	}
	return &ch, nil
}

// encodeVector stores float32s little-endian, four bytes each.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
