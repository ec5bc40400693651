package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	rerrors "github.com/Aman-CERP/rehydrate/internal/errors"
	"github.com/Aman-CERP/rehydrate/internal/index"
	"github.com/Aman-CERP/rehydrate/internal/output"
	"github.com/Aman-CERP/rehydrate/internal/ui"
)

type indexOptions struct {
	batchSize int
	keep      bool
	noTUI     bool
}

func newIndexCmd(g *globalOptions) *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index <chunks.jsonl>",
		Short: "Build the catalog, BM25 and vector indices from chunk records",
		Long: `Load pre-chunked records (one JSON object per line) into the chunk
catalog, the BM25 index and the HNSW vector index.

Each line carries id, source_path, span_start, span_end and text, plus the
optional recency_timestamp, embedding_ref, metadata and embedding fields.
Existing indices are replaced unless --keep is given.`,
		Example: `  rehydrate index chunks.jsonl
  rehydrate index chunks.jsonl --keep --batch-size 64`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd, g, args[0], opts)
		},
	}

	cmd.Flags().IntVar(&opts.batchSize, "batch-size", index.DefaultBatchSize, "Texts per embedding batch")
	cmd.Flags().BoolVar(&opts.keep, "keep", false, "Add to the existing indices instead of rebuilding")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "Disable the progress view, print plain lines")
	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, g *globalOptions, path string, opts indexOptions) error {
	out := output.New(cmd.OutOrStdout())

	records, err := index.LoadFile(path)
	if err != nil {
		return rerrors.Wrap(rerrors.ErrCodeInvalidInput, err)
	}
	out.Statusf("", "Loaded %d chunk records from %s", len(records), path)

	dataDir := g.dataDir()
	unlock, err := acquire(ctx, dataDir, true)
	if err != nil {
		return err
	}
	defer unlock()

	if !opts.keep {
		if err := index.Reset(dataDir); err != nil {
			return fmt.Errorf("failed to clear existing index: %w", err)
		}
	}

	stores, err := openStores(g, dataDir)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.noTUI), ui.WithTitle(dataDir)))
	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = renderer.Stop() }()
	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageLoading, Message: path})

	res, err := stores.Runner().Run(ctx, records, index.RunnerConfig{
		BatchSize:  opts.batchSize,
		VectorPath: stores.VectorPath(),
		OnProgress: func(p index.Progress) {
			renderer.UpdateProgress(progressEvent(p))
		},
	})
	if err != nil {
		return err
	}
	renderer.Complete(ui.CompletionStats{
		Chunks:     res.Chunks,
		Embedded:   res.Embedded,
		Supplied:   res.Supplied,
		Duration:   res.Duration,
		Embed:      res.EmbedDuration,
		Store:      res.StoreDuration,
		Model:      stores.Embedder.ModelName(),
		Dimensions: stores.Embedder.Dimensions(),
	})
	_ = renderer.Stop()
	out.Successf("Indexed %d chunks (%d embedded, %d supplied) in %s",
		res.Chunks, res.Embedded, res.Supplied, res.Duration.Round(time.Millisecond))

	check, err := stores.Checker().Check(ctx)
	if err != nil {
		return err
	}
	if !check.Consistent() {
		out.Warningf("Store counts differ: catalog=%d bm25=%d vector=%d", check.Catalog, check.BM25, check.Vector)
	}
	slog.Info("index_command_complete", slog.String("data_dir", dataDir), slog.Int("chunks", res.Chunks))
	return nil
}

func progressEvent(p index.Progress) ui.ProgressEvent {
	stage := ui.StageStoring
	if p.Stage == index.StageEmbed {
		stage = ui.StageEmbedding
	}
	return ui.ProgressEvent{Stage: stage, Current: p.Done, Total: p.Total}
}
