// Package rehydrate turns a role and a task description into a token-bounded
// context bundle. Engine.Rehydrate routes the query, fans out to the vector
// and lexical adapters, and runs the result through fusion, pre-filtering,
// entity expansion, reranking, deduplication, MMR packing, assembly and the
// quality gates, recording each step in a Trace.
package rehydrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/rehydrate/internal/bundle"
	rerrors "github.com/Aman-CERP/rehydrate/internal/errors"
	"github.com/Aman-CERP/rehydrate/internal/search"
	"github.com/Aman-CERP/rehydrate/internal/store"
)

// Catalog resolves chunk IDs to chunks, embeddings and recency shots.
type Catalog interface {
	Chunks(ctx context.Context, ids []string) (map[string]*store.Chunk, error)
	Embeddings(ctx context.Context, refs []string) (map[string][]float32, error)
	Recent(ctx context.Context, limit int) ([]*store.Chunk, error)
}

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Engine runs rehydrations. It holds no per-request state and is safe for
// concurrent use.
type Engine struct {
	vec      search.VectorSearcher
	lex      search.LexicalSearcher
	catalog  Catalog
	settings Settings
	logger   *slog.Logger

	router    *search.Router
	fusion    *search.Fusion
	prefilter *search.PreFilter
	expander  *search.EntityExpander
	reranker  *search.Reranker
	terms     *search.TermExpander
	alloc     *bundle.Allocator
	assembler *bundle.Assembler
	gates     *bundle.Gates
	stop      map[string]struct{}

	vecBreaker *rerrors.CircuitBreaker
	lexBreaker *rerrors.CircuitBreaker
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithSettings replaces DefaultSettings.
func WithSettings(s Settings) Option {
	return func(e *Engine) {
		e.settings = s
	}
}

// WithTermExpander replaces the lexical query expander.
func WithTermExpander(t *search.TermExpander) Option {
	return func(e *Engine) {
		e.terms = t
	}
}

// New creates an engine over the two rankers and the catalog.
func New(vec search.VectorSearcher, lex search.LexicalSearcher, catalog Catalog, opts ...Option) (*Engine, error) {
	if vec == nil {
		return nil, fmt.Errorf("%w: vector searcher is required", ErrNilDependency)
	}
	if lex == nil {
		return nil, fmt.Errorf("%w: lexical searcher is required", ErrNilDependency)
	}
	if catalog == nil {
		return nil, fmt.Errorf("%w: catalog is required", ErrNilDependency)
	}

	e := &Engine{
		vec:      vec,
		lex:      lex,
		catalog:  catalog,
		settings: DefaultSettings(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	s := e.settings
	if s.AdapterTimeout <= 0 {
		s.AdapterTimeout = search.DefaultAdapterTimeout
	}
	if s.Expansion.Timeout <= 0 {
		s.Expansion.Timeout = s.AdapterTimeout
	}
	if s.MaxEntities <= 0 {
		s.MaxEntities = search.DefaultMaxEntities
	}
	e.settings = s

	e.router = search.NewRouter(s.Router, s.Profiles)
	e.fusion = search.NewFusion(s.RRFConstant)
	e.prefilter = search.NewPreFilter(s.PreFilter)
	e.expander = search.NewEntityExpander(vec, s.Expansion)
	e.reranker = search.NewReranker(s.Rerank)
	if e.terms == nil {
		e.terms = search.NewTermExpander()
	}
	e.alloc = bundle.NewAllocator(s.Allocator)
	e.assembler = bundle.NewAssembler(e.alloc)
	e.gates = bundle.NewGates(s.Gates)
	e.stop = store.BuildStopWordMap(store.DefaultCodeStopWords)

	if cb := s.CircuitBreaker; cb != nil {
		e.vecBreaker = rerrors.NewCircuitBreaker(StageVector,
			rerrors.WithMaxFailures(cb.MaxFailures), rerrors.WithResetTimeout(cb.ResetTimeout))
		e.lexBreaker = rerrors.NewCircuitBreaker(StageLexical,
			rerrors.WithMaxFailures(cb.MaxFailures), rerrors.WithResetTimeout(cb.ResetTimeout))
	}
	return e, nil
}

// Rehydrate builds the context bundle for role and taskText within
// tokenBudget.
//
// Invalid flags and budgets that cannot hold the role's pinned slot are
// returned before any adapter is called. An adapter that times out
// contributes an empty list; one that fails is dropped. If both fail and
// at least one failed outright the result is RetrievalUnavailable; if both
// timed out the bundle is empty and degraded. Cancelling ctx before the
// adapters join returns PartialResult. A hard quality-gate failure marks
// the bundle degraded but still returns it.
//
// The trace is returned even when err is non-nil.
func (e *Engine) Rehydrate(ctx context.Context, role, taskText string, tokenBudget int, flags FeatureFlags) (bundle.ContextBundle, *Trace, error) {
	start := time.Now()
	trace := newTrace(role, taskText)

	resolved, err := ResolveFlags(flags, e.settings.Defaults)
	if err != nil {
		return bundle.ContextBundle{}, trace, err
	}
	trace.Flags = resolved

	rc := e.settings.role(role)
	alloc, err := e.alloc.Allocate(tokenBudget, rc.Pinned)
	if err != nil {
		return bundle.ContextBundle{}, trace, err
	}

	q := search.Query{
		RawText:     taskText,
		Role:        role,
		TokenBudget: tokenBudget,
		Entities:    search.ExtractEntitiesN(taskText, e.settings.MaxEntities),
		Stability:   resolved.Stability,
		Flags:       resolved.asFlags(),
	}
	q.Complexity = e.router.Complexity(q.RawText, q.Entities)
	q.Profile = e.router.ProfileFor(q.Complexity)
	trace.Entities = q.Entities
	trace.Complexity = q.Complexity
	trace.Profile = q.Profile
	e.logger.Debug("query routed",
		slog.String("profile", string(q.Profile.Name)),
		slog.Float64("complexity", q.Complexity),
		slog.Int("entities", len(q.Entities)))

	anchorIDs, anchorTerms := e.anchors(ctx, rc, trace)
	expansion := e.terms.Expand(taskText, anchorTerms, resolved.ExpandQuery)
	trace.LexicalText = expansion.Query

	vecOut, lexOut := e.retrieve(ctx, q, expansion.Query)
	if err := ctx.Err(); err != nil {
		return bundle.ContextBundle{}, trace, rerrors.PartialResultError(err)
	}
	degraded, err := e.classify(vecOut, lexOut, trace)
	if err != nil {
		return bundle.ContextBundle{}, trace, err
	}

	var fused []*search.ScoredCandidate
	if resolved.UseRRF {
		trace.FusionMode = search.FusionRRF
		fused = e.fusion.Fuse(vecOut.items, lexOut.items, e.settings.Weights)
	} else {
		trace.FusionMode = search.FusionNormalized
		fused = e.fusion.FuseNormalized(vecOut.items, lexOut.items, e.settings.Weights)
	}
	e.count(trace, StageFusion, len(fused))

	cands, err := e.hydrate(ctx, fused, anchorIDs, trace)
	if err != nil {
		return bundle.ContextBundle{}, trace, err
	}
	e.count(trace, StageHydrate, len(cands))

	cands = e.prefilter.Filter(cands, q.Profile)
	e.count(trace, StagePreFilter, len(cands))

	if q.ExpansionEnabled() {
		cands, err = e.expand(ctx, q, cands, q.Entities, anchorIDs, StageExpand, trace)
		if err != nil {
			return bundle.ContextBundle{}, trace, err
		}
		if q.Profile.EnableMultiHop && e.settings.HopEntities > 0 {
			hop := search.HopEntities(cands, e.settings.HopEntities, q.Entities)
			if len(hop) > 0 {
				cands, err = e.expand(ctx, q, cands, hop, anchorIDs, StageMultiHop, trace)
				if err != nil {
					return bundle.ContextBundle{}, trace, err
				}
			}
		}
	} else {
		trace.Add(StageExpand, "entity expansion disabled")
	}

	if q.RerankEnabled() {
		cands = e.reranker.Rerank(cands, role)
	} else {
		cands = search.PassThrough(cands)
	}
	e.count(trace, StageRerank, len(cands))

	all, pairs := search.Dedupe(cands, resolved.Dedupe)
	trace.DedupPairs = append(trace.DedupPairs, pairs...)
	live := search.Live(all)
	e.count(trace, StageDedupe, len(live))

	e.attachEmbeddings(ctx, live, trace)
	packBudget := alloc.EvidenceMax
	if w := q.Profile.ContextWindowTokens; w > 0 && w < packBudget {
		packBudget = w
	}
	packed := bundle.Pack(live, packBudget, e.settings.Lambda)
	e.count(trace, StagePack, len(packed))

	recent := e.recent(ctx, trace)

	b, err := e.assembler.Assemble(packed, rc.Pinned, recent, tokenBudget)
	if err != nil {
		return bundle.ContextBundle{}, trace, err
	}
	b.Role = role
	if len(expansion.Priors) > 0 {
		b.AnchorPriors = expansion.Priors
	}
	e.count(trace, StageAssemble, len(b.Evidence))
	if ev := b.EvidenceTokens(); ev < alloc.EvidenceMin {
		trace.Add(StageAssemble, "evidence below advisory minimum",
			"evidence_tokens", ev, "evidence_min", alloc.EvidenceMin)
	}

	b.Verdict = e.gates.Evaluate(b, taskText)
	trace.Verdict = b.Verdict
	if b.Verdict.Failed() {
		b.Degraded = true
		gerr := rerrors.New(rerrors.ErrCodeQualityGateHardFailed, "quality gate hard failure", nil)
		trace.Add(StageGates, gerr.Message, "code", gerr.Code, "failed", b.Verdict.Failing())
		e.logger.Warn("bundle degraded by quality gates",
			slog.String("role", role),
			slog.Any("failed", b.Verdict.Failing()))
	}
	if degraded {
		b.Degraded = true
	}

	e.logger.Debug("rehydration complete",
		slog.String("role", role),
		slog.Int("evidence", len(b.Evidence)),
		slog.Int("used_tokens", b.UsedTokens),
		slog.Int("budget", tokenBudget),
		slog.Bool("degraded", b.Degraded),
		slog.Duration("duration", time.Since(start)))
	return b, trace, nil
}

// adapterOutcome is the result of one ranker call.
type adapterOutcome struct {
	name     string
	items    []search.RankedItem
	err      error
	timedOut bool
	elapsed  time.Duration
}

// retrieve runs both rankers concurrently and waits for both.
func (e *Engine) retrieve(ctx context.Context, q search.Query, lexText string) (vecOut, lexOut adapterOutcome) {
	k := q.Profile.TopK
	var g errgroup.Group
	g.Go(func() error {
		vecOut = e.call(ctx, StageVector, e.vecBreaker, func(ctx context.Context) ([]search.RankedItem, error) {
			return e.vec.SearchVector(ctx, q.RawText, k)
		})
		return nil
	})
	g.Go(func() error {
		lexOut = e.call(ctx, StageLexical, e.lexBreaker, func(ctx context.Context) ([]search.RankedItem, error) {
			return e.lex.SearchLexical(ctx, lexText, k)
		})
		return nil
	})
	_ = g.Wait()
	return vecOut, lexOut
}

// call runs fn under the adapter timeout and, when configured, a circuit
// breaker. Timeouts and cancellations never count against the breaker.
func (e *Engine) call(ctx context.Context, name string, cb *rerrors.CircuitBreaker, fn func(context.Context) ([]search.RankedItem, error)) adapterOutcome {
	start := time.Now()
	run := func() ([]search.RankedItem, error) {
		return search.CallWithTimeout(ctx, e.settings.AdapterTimeout, fn)
	}
	var items []search.RankedItem
	var err error
	if cb != nil {
		items, err = rerrors.Execute(cb, run, func(err error) bool {
			return !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled)
		})
	} else {
		items, err = run()
	}

	out := adapterOutcome{name: name, items: items, err: err, elapsed: time.Since(start)}
	if err != nil {
		out.items = nil
		out.timedOut = ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded)
	}
	e.logger.Debug("adapter returned",
		slog.String("adapter", name),
		slog.Int("results", len(out.items)),
		slog.Bool("timed_out", out.timedOut),
		slog.Duration("elapsed", out.elapsed))
	return out
}

// classify records each adapter's outcome and applies the degradation
// policy. It reports whether the bundle must be marked degraded.
func (e *Engine) classify(vecOut, lexOut adapterOutcome, trace *Trace) (bool, error) {
	var failures []error
	for _, o := range []adapterOutcome{vecOut, lexOut} {
		switch {
		case o.err == nil:
			e.count(trace, o.name, len(o.items))
			continue
		case o.timedOut:
			terr := rerrors.AdapterTimeoutError(o.name, o.err)
			failures = append(failures, terr)
			trace.Timeouts = append(trace.Timeouts, o.name)
			trace.Add(o.name, "adapter timed out, ranked list treated as empty",
				"code", terr.Code, "timeout", e.settings.AdapterTimeout.String())
			e.logger.Warn("adapter timed out",
				slog.String("adapter", o.name),
				slog.Duration("timeout", e.settings.AdapterTimeout))
		default:
			uerr := rerrors.AdapterUnavailableError(o.name, o.err)
			failures = append(failures, uerr)
			trace.Unavailable = append(trace.Unavailable, o.name)
			trace.Add(o.name, "adapter unavailable", "code", uerr.Code, "error", o.err.Error())
			e.logger.Warn("adapter unavailable",
				slog.String("adapter", o.name),
				slog.String("error", o.err.Error()))
		}
		e.count(trace, o.name, 0)
	}

	if vecOut.err == nil || lexOut.err == nil {
		return false, nil
	}
	if !vecOut.timedOut || !lexOut.timedOut {
		return false, rerrors.RetrievalUnavailableError(errors.Join(failures...))
	}
	trace.Add(StageFusion, "both adapters timed out, returning an empty bundle")
	return true, nil
}

// anchors returns the role's anchor IDs as a set and its anchor terms:
// the configured terms followed by the terms of the anchor chunks.
func (e *Engine) anchors(ctx context.Context, rc Role, trace *Trace) (map[string]struct{}, []string) {
	ids := make(map[string]struct{}, len(rc.Anchors))
	for _, id := range rc.Anchors {
		ids[id] = struct{}{}
	}
	terms := append([]string(nil), rc.AnchorTerms...)
	if len(rc.Anchors) == 0 {
		return ids, terms
	}

	chunks, err := e.catalog.Chunks(ctx, rc.Anchors)
	if err != nil {
		trace.Add(StageRoute, "anchor chunks unavailable", "error", err.Error())
		e.logger.Warn("failed to load anchor chunks", slog.String("error", err.Error()))
		return ids, terms
	}
	for _, id := range rc.Anchors {
		if ch, ok := chunks[id]; ok {
			terms = append(terms, store.UniqueTerms(ch.Text, e.stop)...)
		}
	}
	return ids, terms
}

// hydrate attaches catalog chunks to candidates that lack one. Candidates
// the catalog does not know are orphans and are dropped; anchor chunks are
// dropped too. Order is preserved.
func (e *Engine) hydrate(ctx context.Context, cands []*search.ScoredCandidate, anchorIDs map[string]struct{}, trace *Trace) ([]*search.ScoredCandidate, error) {
	var missing []string
	for _, c := range cands {
		if c.Chunk == nil {
			missing = append(missing, c.ChunkID)
		}
	}

	var chunks map[string]*store.Chunk
	if len(missing) > 0 {
		var err error
		chunks, err = e.catalog.Chunks(ctx, missing)
		if err != nil {
			if ctx.Err() != nil {
				return nil, rerrors.PartialResultError(ctx.Err())
			}
			return nil, rerrors.New(rerrors.ErrCodeCatalog, "chunk catalog lookup failed", err)
		}
	}

	out := make([]*search.ScoredCandidate, 0, len(cands))
	var orphans, anchored []string
	for _, c := range cands {
		if _, ok := anchorIDs[c.ChunkID]; ok {
			anchored = append(anchored, c.ChunkID)
			continue
		}
		if c.Chunk == nil {
			ch, ok := chunks[c.ChunkID]
			if !ok {
				orphans = append(orphans, c.ChunkID)
				continue
			}
			c.Chunk = ch
		}
		out = append(out, c)
	}

	if len(orphans) > 0 {
		trace.Orphans = append(trace.Orphans, orphans...)
		trace.Add(StageHydrate, "dropped candidates missing from the catalog", "ids", orphans)
		e.logger.Debug("orphan candidates dropped", slog.Int("count", len(orphans)))
	}
	if len(anchored) > 0 {
		trace.Add(StageHydrate, "anchor chunks excluded from evidence", "ids", anchored)
	}
	return out, nil
}

// expand runs one entity expansion pass and hydrates what it added.
func (e *Engine) expand(ctx context.Context, q search.Query, cands []*search.ScoredCandidate, entities []string, anchorIDs map[string]struct{}, stage string, trace *Trace) ([]*search.ScoredCandidate, error) {
	out, stats, err := e.expander.Expand(ctx, cands, entities, e.settings.ExpansionBaseK, q.Stability)
	if err != nil {
		return nil, rerrors.PartialResultError(err)
	}
	trace.Expansion = append(trace.Expansion, stats)
	if stats.Failed+stats.TimedOut > 0 {
		trace.Add(stage, "entity lookups failed", "failed", stats.Failed, "timed_out", stats.TimedOut)
		e.logger.Warn("entity lookups failed",
			slog.String("stage", stage),
			slog.Int("failed", stats.Failed),
			slog.Int("timed_out", stats.TimedOut))
	}

	out, err = e.hydrate(ctx, out, anchorIDs, trace)
	if err != nil {
		return nil, err
	}
	e.count(trace, stage, len(out))
	return out, nil
}

// attachEmbeddings loads vectors for MMR. Without them the packer falls
// back to relevance order, so a failure is only traced.
func (e *Engine) attachEmbeddings(ctx context.Context, cands []*search.ScoredCandidate, trace *Trace) {
	if len(cands) == 0 {
		return
	}
	refs := make([]string, 0, len(cands))
	for _, c := range cands {
		refs = append(refs, c.Chunk.EmbeddingKey())
	}
	vecs, err := e.catalog.Embeddings(ctx, refs)
	if err != nil {
		trace.Add(StagePack, "embeddings unavailable, packing by relevance only", "error", err.Error())
		e.logger.Warn("failed to load embeddings", slog.String("error", err.Error()))
		return
	}
	for _, c := range cands {
		c.Embedding = vecs[c.Chunk.EmbeddingKey()]
	}
}

// recent loads the recency shots. A failure leaves the slot empty.
func (e *Engine) recent(ctx context.Context, trace *Trace) []*store.Chunk {
	if e.settings.RecentLimit <= 0 {
		return nil
	}
	chunks, err := e.catalog.Recent(ctx, e.settings.RecentLimit)
	if err != nil {
		trace.Add(StageRecent, "recent chunks unavailable", "error", err.Error())
		e.logger.Warn("failed to load recent chunks", slog.String("error", err.Error()))
		return nil
	}
	e.count(trace, StageRecent, len(chunks))
	return chunks
}

func (e *Engine) count(trace *Trace, stage string, n int) {
	trace.Count(stage, n)
	e.logger.Debug("stage complete", slog.String("stage", stage), slog.Int("count", n))
}
