package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/rehydrate/internal/embed"
	"github.com/Aman-CERP/rehydrate/internal/store"
)

// DefaultBatchSize is the number of texts sent to the embedder at once.
const DefaultBatchSize = 32

// ChunkWriter persists chunks and their embeddings.
type ChunkWriter interface {
	SaveChunks(ctx context.Context, chunks []*store.Chunk) error
	SaveEmbeddings(ctx context.Context, refs []string, vectors [][]float32) error
}

// RunnerDependencies are the stores and embedder a Runner writes to.
type RunnerDependencies struct {
	Catalog  ChunkWriter
	BM25     store.BM25Index
	Vector   store.VectorStore
	Embedder embed.Embedder
	Logger   *slog.Logger
}

// RunnerConfig configures one indexing run.
type RunnerConfig struct {
	// BatchSize bounds embedder batches. Zero selects DefaultBatchSize.
	BatchSize int
	// VectorPath, when set, is where the vector store is saved after the
	// run. The store must support Save.
	VectorPath string
	// OnProgress, when set, is called after every embedding batch and
	// every store write. It runs on the indexing goroutine.
	OnProgress func(Progress)
}

// Progress stages.
const (
	StageEmbed = "embed"
	StageStore = "store"
)

// Progress is one step of an indexing run. For StageEmbed, Done and Total
// count texts sent to the embedder; for StageStore they count the stores
// written (catalog, BM25, vectors).
type Progress struct {
	Stage string
	Done  int
	Total int
}

func (c RunnerConfig) report(stage string, done, total int) {
	if c.OnProgress != nil {
		c.OnProgress(Progress{Stage: stage, Done: done, Total: total})
	}
}

const storeSteps = 3

// RunnerResult summarizes an indexing run.
type RunnerResult struct {
	Chunks int
	// Embedded counts vectors computed; the rest were supplied.
	Embedded int
	Supplied int
	Duration time.Duration
	// EmbedDuration and StoreDuration split Duration by phase.
	EmbedDuration time.Duration
	StoreDuration time.Duration
}

// Runner loads chunk records into the catalog, the BM25 index and the
// vector store.
type Runner struct {
	catalog  ChunkWriter
	bm25     store.BM25Index
	vector   store.VectorStore
	embedder embed.Embedder
	logger   *slog.Logger
}

// NewRunner creates a Runner with injected dependencies.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if deps.BM25 == nil {
		return nil, fmt.Errorf("BM25 index is required")
	}
	if deps.Vector == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		catalog:  deps.Catalog,
		bm25:     deps.BM25,
		vector:   deps.Vector,
		embedder: deps.Embedder,
		logger:   logger,
	}, nil
}

type saver interface {
	Save(path string) error
}

// Run indexes records: vectors first (supplied ones are kept when their
// width matches the embedder), then the catalog, BM25 and vector store.
// Chunks sharing an embedding ref are embedded once.
func (r *Runner) Run(ctx context.Context, records []*Record, cfg RunnerConfig) (*RunnerResult, error) {
	start := time.Now()
	if len(records) == 0 {
		return &RunnerResult{Duration: time.Since(start)}, nil
	}

	vectors, embedded, supplied, err := r.embedRecords(ctx, records, cfg)
	if err != nil {
		return nil, err
	}
	embedEnd := time.Now()
	embedTime := embedEnd.Sub(start)

	chunks := make([]*store.Chunk, len(records))
	for i, rec := range records {
		ch := rec.Chunk
		chunks[i] = &ch
	}
	if err := r.catalog.SaveChunks(ctx, chunks); err != nil {
		return nil, fmt.Errorf("failed to save chunks: %w", err)
	}

	refs := make([]string, 0, len(vectors))
	vecs := make([][]float32, 0, len(vectors))
	for _, rec := range records {
		ref := rec.EmbeddingKey()
		if v, ok := vectors[ref]; ok {
			refs = append(refs, ref)
			vecs = append(vecs, v)
			delete(vectors, ref)
		}
	}
	if err := r.catalog.SaveEmbeddings(ctx, refs, vecs); err != nil {
		return nil, fmt.Errorf("failed to save embeddings: %w", err)
	}
	cfg.report(StageStore, 1, storeSteps)
	byRef := make(map[string][]float32, len(refs))
	for i, ref := range refs {
		byRef[ref] = vecs[i]
	}

	indexStart := time.Now()
	docs := make([]*store.Document, len(chunks))
	ids := make([]string, len(chunks))
	chunkVecs := make([][]float32, len(chunks))
	for i, ch := range chunks {
		docs[i] = &store.Document{ID: ch.ID, Content: ch.SourcePath + "\n" + ch.Text}
		ids[i] = ch.ID
		chunkVecs[i] = byRef[ch.EmbeddingKey()]
	}
	if err := r.bm25.Index(ctx, docs); err != nil {
		return nil, fmt.Errorf("failed to index in BM25: %w", err)
	}
	cfg.report(StageStore, 2, storeSteps)
	if err := r.vector.Add(ctx, ids, chunkVecs); err != nil {
		return nil, fmt.Errorf("failed to add to vector store: %w", err)
	}
	if cfg.VectorPath != "" {
		s, ok := r.vector.(saver)
		if !ok {
			return nil, fmt.Errorf("vector store %T cannot be saved", r.vector)
		}
		if err := s.Save(cfg.VectorPath); err != nil {
			return nil, fmt.Errorf("failed to save vector store: %w", err)
		}
	}
	cfg.report(StageStore, storeSteps, storeSteps)

	res := &RunnerResult{
		Chunks:   len(chunks),
		Embedded: embedded,
		Supplied: supplied,
		Duration: time.Since(start),

		EmbedDuration: embedTime,
		StoreDuration: time.Since(embedEnd),
	}
	r.logger.Info("index_complete",
		slog.Int("chunks", res.Chunks),
		slog.Int("embedded", res.Embedded),
		slog.Int("supplied", res.Supplied),
		slog.String("embedder_model", r.embedder.ModelName()),
		slog.Int("embedder_dimensions", r.embedder.Dimensions()),
		slog.Int64("duration_embed_ms", embedTime.Milliseconds()),
		slog.Int64("duration_index_ms", time.Since(indexStart).Milliseconds()),
		slog.Int64("duration_total_ms", res.Duration.Milliseconds()))
	return res, nil
}

// embedRecords returns one vector per embedding key.
func (r *Runner) embedRecords(ctx context.Context, records []*Record, cfg RunnerConfig) (map[string][]float32, int, int, error) {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	dims := r.embedder.Dimensions()

	vectors := make(map[string][]float32, len(records))
	var (
		pendingRefs  []string
		pendingTexts []string
		supplied     int
	)
	queued := make(map[string]struct{})
	for _, rec := range records {
		ref := rec.EmbeddingKey()
		if _, ok := vectors[ref]; ok {
			continue
		}
		if _, ok := queued[ref]; ok {
			continue
		}
		if len(rec.Embedding) > 0 {
			if len(rec.Embedding) == dims {
				vectors[ref] = rec.Embedding
				supplied++
				continue
			}
			r.logger.Warn("ignoring supplied embedding with wrong width",
				slog.String("chunk_id", rec.ID),
				slog.Int("expected", dims),
				slog.Int("got", len(rec.Embedding)))
		}
		queued[ref] = struct{}{}
		pendingRefs = append(pendingRefs, ref)
		pendingTexts = append(pendingTexts, rec.Text)
	}

	for batchStart := 0; batchStart < len(pendingTexts); batchStart += batchSize {
		select {
		case <-ctx.Done():
			return nil, 0, 0, fmt.Errorf("indexing interrupted at %d/%d embeddings: %w", batchStart, len(pendingTexts), ctx.Err())
		default:
		}

		batchEnd := min(batchStart+batchSize, len(pendingTexts))
		batch, err := r.embedder.EmbedBatch(ctx, pendingTexts[batchStart:batchEnd])
		if err != nil {
			return nil, 0, 0, fmt.Errorf("failed to generate embeddings for batch %d-%d: %w", batchStart, batchEnd, err)
		}
		for i, v := range batch {
			vectors[pendingRefs[batchStart+i]] = v
		}
		r.logger.Debug("embedded batch", slog.Int("done", batchEnd), slog.Int("total", len(pendingTexts)))
		cfg.report(StageEmbed, batchEnd, len(pendingTexts))
	}
	return vectors, len(pendingTexts), supplied, nil
}
