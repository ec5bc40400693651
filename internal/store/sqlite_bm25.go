package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
)

// SQLiteBM25Index implements BM25Index on SQLite FTS5.
// Content is pre-tokenized with TokenizeCode so identifiers split the same
// way for documents and queries.
type SQLiteBM25Index struct {
	mu        sync.RWMutex
	db        *sql.DB
	closed    bool
	stopWords map[string]struct{}
}

var _ BM25Index = (*SQLiteBM25Index)(nil)

// NewSQLiteBM25Index opens or creates an FTS5 index at path.
// An empty path creates an in-memory index.
func NewSQLiteBM25Index(path string, config BM25Config) (*SQLiteBM25Index, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}

	const schema = `
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_content USING fts5(
		doc_id UNINDEXED,
		content,
		tokenize='unicode61'
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteBM25Index{
		db:        db,
		stopWords: BuildStopWordMap(config.StopWords),
	}, nil
}

func (s *SQLiteBM25Index) prepare(text string) []string {
	return FilterStopWords(TokenizeCode(text), s.stopWords)
}

// Index adds or replaces documents in one transaction.
func (s *SQLiteBM25Index) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// FTS5 has no REPLACE; delete then insert.
	del, err := tx.PrepareContext(ctx, `DELETE FROM fts_content WHERE doc_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete: %w", err)
	}
	defer del.Close()

	ins, err := tx.PrepareContext(ctx, `INSERT INTO fts_content(doc_id, content) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer ins.Close()

	for _, doc := range docs {
		if _, err := del.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to replace document %s: %w", doc.ID, err)
		}
		if _, err := ins.ExecContext(ctx, doc.ID, strings.Join(s.prepare(doc.Content), " ")); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
	}
	return tx.Commit()
}

// Search matches any query term (OR) and ranks with FTS5 bm25().
// bm25() is negative with lower meaning better, so scores are negated.
func (s *SQLiteBM25Index) Search(ctx context.Context, query string, limit int) ([]*BM25Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	terms := s.prepare(query)
	if len(terms) == 0 || limit <= 0 {
		return []*BM25Result{}, nil
	}

	quoted := make([]string, len(terms))
	for i, t := range terms {
		// Tokens are [a-z0-9]+ so quoting cannot be escaped.
		quoted[i] = `"` + t + `"`
	}

	const q = `
		SELECT doc_id, bm25(fts_content) AS score
		FROM fts_content
		WHERE fts_content MATCH ?
		ORDER BY score, doc_id
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, strings.Join(quoted, " OR "), limit)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	results := []*BM25Result{}
	for rows.Next() {
		var (
			docID string
			score float64
		)
		if err := rows.Scan(&docID, &score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, &BM25Result{DocID: docID, Score: -score, MatchedTerms: terms})
	}
	return results, rows.Err()
}

// Delete removes documents from the index.
func (s *SQLiteBM25Index) Delete(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("index is closed")
	}

	placeholders, args := inClause(docIDs)
	_, err := s.db.ExecContext(ctx, "DELETE FROM fts_content WHERE doc_id IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// Count returns the number of indexed documents.
func (s *SQLiteBM25Index) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, fmt.Errorf("index is closed")
	}
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM fts_content`).Scan(&n)
	return n, err
}

// Close checkpoints the WAL and closes the database. Safe to call twice.
func (s *SQLiteBM25Index) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// inClause returns "?,?,?" and the matching args.
func inClause(ids []string) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}
