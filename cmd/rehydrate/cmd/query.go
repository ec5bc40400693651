package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/rehydrate/internal/bundle"
	rerrors "github.com/Aman-CERP/rehydrate/internal/errors"
	"github.com/Aman-CERP/rehydrate/internal/index"
	"github.com/Aman-CERP/rehydrate/internal/output"
	"github.com/Aman-CERP/rehydrate/internal/rehydrate"
	"github.com/Aman-CERP/rehydrate/internal/search"
)

// lockWait bounds how long a query waits for a running index to finish.
const lockWait = 10 * time.Second

// queryOptions holds CLI flags for query.
type queryOptions struct {
	budget     int
	jsonOut    bool
	showTrace  bool
	dedupe     string
	expand     string
	stability  float64
	noRRF      bool
	noRerank   bool
	noEntities bool
}

func newQueryCmd(g *globalOptions) *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <role> <task...>",
		Short: "Assemble a context bundle for a role and task",
		Long: `Assemble a context bundle for a role and a task description.

Flags left unset fall back to the 'defaults' section of the configuration.`,
		Example: `  rehydrate query coder "why does HybridVectorStore drop results"
  rehydrate query reviewer fix login flow --budget 1500 --json
  rehydrate query coder refactor fusion --no-rrf --dedupe file --trace`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags, err := opts.featureFlags(cmd)
			if err != nil {
				return err
			}
			return runQuery(cmd.Context(), cmd, g, args[0], strings.Join(args[1:], " "), opts, flags)
		},
	}

	cmd.Flags().IntVarP(&opts.budget, "budget", "b", 2000, "Token budget for the whole bundle")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the bundle as JSON")
	cmd.Flags().BoolVar(&opts.showTrace, "trace", false, "Print the stage trace")
	cmd.Flags().StringVar(&opts.dedupe, "dedupe", "", "Deduplication: file, file+overlap")
	cmd.Flags().StringVar(&opts.expand, "expand", "", "Lexical query expansion: auto, off")
	cmd.Flags().Float64Var(&opts.stability, "stability", 0, "Expansion stability in [0,1]")
	cmd.Flags().BoolVar(&opts.noRRF, "no-rrf", false, "Fuse by normalized score instead of reciprocal rank")
	cmd.Flags().BoolVar(&opts.noRerank, "no-rerank", false, "Skip reranking")
	cmd.Flags().BoolVar(&opts.noEntities, "no-entities", false, "Skip entity expansion")

	return cmd
}

// featureFlags converts the flags the user actually set.
func (o queryOptions) featureFlags(cmd *cobra.Command) (rehydrate.FeatureFlags, error) {
	var f rehydrate.FeatureFlags
	changed := cmd.Flags().Changed
	if changed("no-rrf") {
		f.UseRRF = search.Bool(!o.noRRF)
	}
	if changed("no-rerank") {
		f.Reranking = search.Bool(!o.noRerank)
	}
	if changed("no-entities") {
		f.EntityExpansion = search.Bool(!o.noEntities)
	}
	if changed("dedupe") {
		f.Dedupe = search.DedupeMode(o.dedupe)
	}
	if changed("expand") {
		f.ExpandQuery = search.ExpandMode(o.expand)
	}
	if changed("stability") {
		f.Stability = search.Float(o.stability)
	}
	return f, nil
}

func runQuery(ctx context.Context, cmd *cobra.Command, g *globalOptions, role, task string, opts queryOptions, flags rehydrate.FeatureFlags) error {
	dataDir := g.dataDir()
	if _, err := os.Stat(filepath.Join(dataDir, index.CatalogFile)); os.IsNotExist(err) {
		return rerrors.New(rerrors.ErrCodeCatalog, "no index found in "+dataDir, nil).
			WithSuggestion("run 'rehydrate index <chunks.jsonl>' first")
	}

	unlock, err := acquire(ctx, dataDir, false)
	if err != nil {
		return err
	}
	defer unlock()

	stores, err := openStores(g, dataDir)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	engine, err := rehydrate.New(stores.VectorAdapter(), stores.LexicalAdapter(), stores.Catalog,
		rehydrate.WithSettings(rehydrate.SettingsFromConfig(g.cfg)),
		rehydrate.WithLogger(slog.Default()))
	if err != nil {
		return err
	}

	b, trace, err := engine.Rehydrate(ctx, role, task, opts.budget, flags)
	if err != nil {
		slog.Default().LogAttrs(ctx, slog.LevelWarn, "query_failed", rerrors.LogAttrs(err)...)
		if opts.showTrace && trace != nil {
			printTrace(output.New(cmd.ErrOrStderr()), trace)
		}
		return err
	}

	if opts.jsonOut {
		return writeJSON(cmd, b, trace, opts.showTrace)
	}

	out := output.New(cmd.OutOrStdout())
	out.Raw(bundle.RenderText(b))
	if b.Degraded {
		output.New(cmd.ErrOrStderr()).Warningf("bundle degraded: %s", strings.Join(b.Verdict.Failing(), "; "))
	}
	if opts.showTrace {
		out.Newline()
		printTrace(out, trace)
	}
	return nil
}

// queryResult is the --json envelope.
type queryResult struct {
	Bundle bundle.ContextBundle `json:"bundle"`
	Trace  *rehydrate.Trace     `json:"trace,omitempty"`
}

func writeJSON(cmd *cobra.Command, b bundle.ContextBundle, trace *rehydrate.Trace, withTrace bool) error {
	res := queryResult{Bundle: b}
	if withTrace {
		res.Trace = trace
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func printTrace(out *output.Writer, t *rehydrate.Trace) {
	out.Header("Trace")
	out.KeyValue("profile", t.Profile.Name)
	out.KeyValue("fusion", t.FusionMode)
	out.KeyValue("entities", strings.Join(t.Entities, ", "))
	out.KeyValue("lexical query", t.LexicalText)
	for _, sc := range t.StageCounts {
		out.KeyValue(sc.Stage, sc.Count)
	}
	for _, ev := range t.Events {
		out.Status("", fmt.Sprintf("[%s] %s", ev.Stage, ev.Message))
	}
}

// acquire takes the data directory lock, exclusive for writers, waiting
// at most lockWait.
func acquire(ctx context.Context, dataDir string, exclusive bool) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, lockWait)
	defer cancel()

	lock := index.NewLock(dataDir)
	take := lock.RLock
	if exclusive {
		take = lock.Lock
	}
	if err := take(lockCtx); err != nil {
		return nil, rerrors.New(rerrors.ErrCodeIndexLocked, "index is busy", err).
			WithSuggestion("wait for the running 'rehydrate index' to finish")
	}
	return func() { _ = lock.Unlock() }, nil
}

func openStores(g *globalOptions, dataDir string) (*index.Stores, error) {
	stores, err := index.Open(index.StoreConfig{
		DataDir:     dataDir,
		BM25Backend: g.cfg.Index.BM25Backend,
		Dimensions:  g.cfg.Index.Dimensions,
		CacheSize:   g.cfg.Index.CacheSize,
	})
	if err != nil {
		if rerrors.GetCode(err) != "" {
			return nil, err
		}
		return nil, rerrors.New(rerrors.ErrCodeIndexOpen, "failed to open index", err)
	}
	return stores, nil
}
