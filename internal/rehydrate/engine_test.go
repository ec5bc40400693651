package rehydrate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/rehydrate/internal/bundle"
	rerrors "github.com/Aman-CERP/rehydrate/internal/errors"
	"github.com/Aman-CERP/rehydrate/internal/search"
	"github.com/Aman-CERP/rehydrate/internal/store"
)

// =============================================================================
// Construction
// =============================================================================

func TestNew_RejectsNilDependencies(t *testing.T) {
	vec, lex := exampleRankers()
	cat := exampleCatalog()

	_, err := New(nil, lex, cat)
	assert.ErrorIs(t, err, ErrNilDependency)
	_, err = New(vec, nil, cat)
	assert.ErrorIs(t, err, ErrNilDependency)
	_, err = New(vec, lex, nil)
	assert.ErrorIs(t, err, ErrNilDependency)
}

// =============================================================================
// Happy path
// =============================================================================

func TestEngine_ExampleScenario(t *testing.T) {
	// Given: the HybridVectorStore rankings and a coder request at 1200 tokens
	vec, lex := exampleRankers()
	e := newEngine(t, vec, lex, exampleCatalog(), testSettings())

	// When
	b, trace, err := e.Rehydrate(context.Background(), "coder", "implement HybridVectorStore", 1200, FeatureFlags{})

	// Then: evidence follows fused order and the trace explains the route
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A", "D", "C"}, evidenceIDs(b))
	assert.Equal(t, "coder", b.Role)
	assert.Equal(t, 1200, b.Budget)
	assert.False(t, b.Degraded)
	assert.LessOrEqual(t, b.UsedTokens, 1200)

	assert.Equal(t, search.ProfileSimple, trace.Profile.Name)
	assert.Equal(t, search.FusionRRF, trace.FusionMode)
	assert.Equal(t, []string{"HybridVectorStore"}, trace.Entities)
	fused, ok := trace.StageCount(StageFusion)
	require.True(t, ok)
	assert.Equal(t, 4, fused)
	assert.Empty(t, trace.Timeouts)
	assert.Empty(t, trace.Unavailable)
	assert.Equal(t, 1, vec.callCount())
	assert.Equal(t, 1, lex.callCount())
}

func TestEngine_NormalizedFusionWhenRRFDisabled(t *testing.T) {
	vec, lex := exampleRankers()
	e := newEngine(t, vec, lex, exampleCatalog(), testSettings())

	_, trace, err := e.Rehydrate(context.Background(), "coder", "implement HybridVectorStore", 1200,
		FeatureFlags{UseRRF: search.Bool(false)})

	require.NoError(t, err)
	assert.Equal(t, search.FusionNormalized, trace.FusionMode)
	assert.False(t, trace.Flags.UseRRF)
}

func TestEngine_Deterministic(t *testing.T) {
	// Given: expansion forced on, so entity lookups run concurrently
	vec, lex := exampleRankers()
	vec.byText = map[string][]search.RankedItem{
		"HybridVectorStore": {{ChunkID: "E", Score: 0.92}, {ChunkID: "A", Score: 0.8}},
		"VectorIndex":       {{ChunkID: "F", Score: 0.91}},
	}
	cat := exampleCatalog()
	cat.chunks["E"] = chunk("E", "internal/store/vector.go", "VectorIndex backs HybridVectorStore")
	cat.chunks["F"] = chunk("F", "internal/index/vector.go", "VectorIndex adapter")
	e := newEngine(t, vec, lex, cat, testSettings())
	flags := FeatureFlags{EntityExpansion: search.Bool(true), Reranking: search.Bool(true)}
	task := "implement HybridVectorStore on top of VectorIndex"

	// When: the same request runs repeatedly
	var renders []string
	var traces []string
	for range 5 {
		b, trace, err := e.Rehydrate(context.Background(), "coder", task, 800, flags)
		require.NoError(t, err)
		j, err := bundle.RenderJSON(b)
		require.NoError(t, err)
		renders = append(renders, bundle.RenderText(b)+string(j))
		tj, err := trace.JSON()
		require.NoError(t, err)
		traces = append(traces, string(tj))
	}

	// Then: every run is byte-identical
	for i := 1; i < len(renders); i++ {
		assert.Equal(t, renders[0], renders[i], "run %d", i)
		assert.Equal(t, traces[0], traces[i], "trace %d", i)
	}
}

func TestEngine_BudgetInvariant(t *testing.T) {
	// Given: chunks much larger than the budget allows
	long := strings.Repeat("HybridVectorStore implement index ", 40)
	cat := newCatalog()
	var items []search.RankedItem
	for i := range 12 {
		id := fmt.Sprintf("c%02d", i)
		cat.chunks[id] = chunk(id, fmt.Sprintf("pkg/f%d.go", i), long)
		cat.chunks[id].RecencyTimestamp = time.Unix(int64(1000+i), 0)
		items = append(items, search.RankedItem{ChunkID: id, Score: 1 - float64(i)/20})
	}
	vec := &fakeRanker{items: items}
	lex := &fakeRanker{items: items}
	e := newEngine(t, vec, lex, cat, testSettings())

	for _, budget := range []int{20, 64, 150, 400, 1200, 5000} {
		b, _, err := e.Rehydrate(context.Background(), "coder", "implement HybridVectorStore", budget, FeatureFlags{})
		require.NoError(t, err, "budget %d", budget)

		// Then: the rendered text never exceeds the budget
		assert.LessOrEqual(t, bundle.EstimateTokens(bundle.RenderText(b)), budget, "budget %d", budget)
		assert.LessOrEqual(t, b.UsedTokens, budget, "budget %d", budget)
	}
}

// =============================================================================
// Fail fast on configuration
// =============================================================================

func TestEngine_BudgetConfigErrorBeforeAdapters(t *testing.T) {
	s := testSettings()
	s.Roles = map[string]Role{"coder": {Pinned: []string{strings.Repeat("never break the build ", 60)}}}

	tests := []struct {
		name   string
		role   string
		budget int
	}{
		{"zero budget", "reviewer", 0},
		{"negative budget", "reviewer", -5},
		{"pinned over cap", "coder", 4000},
		{"headers exceed budget", "reviewer", 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vec, lex := exampleRankers()
			e := newEngine(t, vec, lex, exampleCatalog(), s)

			_, _, err := e.Rehydrate(context.Background(), tt.role, "implement HybridVectorStore", tt.budget, FeatureFlags{})

			require.Error(t, err)
			assert.ErrorIs(t, err, rerrors.ErrBudgetConfig)
			assert.Zero(t, vec.callCount())
			assert.Zero(t, lex.callCount())
		})
	}
}

func TestEngine_InvalidFlagsBeforeAdapters(t *testing.T) {
	tests := []struct {
		name  string
		flags FeatureFlags
	}{
		{"unknown dedupe", FeatureFlags{Dedupe: "fuzzy"}},
		{"unknown expand", FeatureFlags{ExpandQuery: "always"}},
		{"stability above one", FeatureFlags{Stability: search.Float(1.5)}},
		{"negative stability", FeatureFlags{Stability: search.Float(-0.1)}},
		{"stability without expansion", FeatureFlags{Stability: search.Float(0.3), EntityExpansion: search.Bool(false)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vec, lex := exampleRankers()
			e := newEngine(t, vec, lex, exampleCatalog(), testSettings())

			_, _, err := e.Rehydrate(context.Background(), "coder", "implement HybridVectorStore", 1200, tt.flags)

			assert.ErrorIs(t, err, rerrors.ErrInvalidFlags)
			assert.Zero(t, vec.callCount())
			assert.Zero(t, lex.callCount())
		})
	}
}

// =============================================================================
// Degradation
// =============================================================================

func TestEngine_LexicalTimeoutDegradesGracefully(t *testing.T) {
	// Given: a lexical adapter slower than the adapter timeout
	vec, lex := exampleRankers()
	lex.delay = time.Second
	e := newEngine(t, vec, lex, exampleCatalog(), testSettings())

	// When
	b, trace, err := e.Rehydrate(context.Background(), "coder", "implement HybridVectorStore", 1200, FeatureFlags{})

	// Then: a non-empty bundle built from vector results, with the timeout traced
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, evidenceIDs(b))
	assert.Equal(t, []string{StageLexical}, trace.Timeouts)
	events := trace.EventsFor(StageLexical)
	require.Len(t, events, 1)
	assert.Equal(t, rerrors.ErrCodeAdapterTimeout, events[0].Attrs["code"])
}

func TestEngine_TimeoutEnforcedOnAdapterIgnoringContext(t *testing.T) {
	// Given: a lexical adapter that sleeps past the timeout and never checks ctx
	vec, lex := exampleRankers()
	lex.delay = 400 * time.Millisecond
	lex.ignoreCtx = true
	e := newEngine(t, vec, lex, exampleCatalog(), testSettings())

	// When
	start := time.Now()
	b, trace, err := e.Rehydrate(context.Background(), "coder", "implement HybridVectorStore", 1200, FeatureFlags{})
	elapsed := time.Since(start)

	// Then: the pipeline moves on at the deadline and the late list is dropped
	require.NoError(t, err)
	assert.Less(t, elapsed, 300*time.Millisecond)
	assert.Equal(t, []string{StageLexical}, trace.Timeouts)
	assert.Equal(t, []string{"A", "B", "C"}, evidenceIDs(b))
}

func TestEngine_OneAdapterUnavailable(t *testing.T) {
	vec, lex := exampleRankers()
	vec.err = errors.New("connection refused")
	e := newEngine(t, vec, lex, exampleCatalog(), testSettings())

	b, trace, err := e.Rehydrate(context.Background(), "coder", "implement HybridVectorStore", 1200, FeatureFlags{})

	require.NoError(t, err)
	assert.Equal(t, []string{"B", "D"}, evidenceIDs(b))
	assert.Equal(t, []string{StageVector}, trace.Unavailable)
}

func TestEngine_RetrievalUnavailable(t *testing.T) {
	tests := []struct {
		name     string
		vecErr   error
		lexErr   error
		lexDelay time.Duration
	}{
		{"both unavailable", errors.New("vector down"), errors.New("fts down"), 0},
		{"unavailable and timeout", errors.New("vector down"), nil, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vec, lex := exampleRankers()
			vec.err, lex.err, lex.delay = tt.vecErr, tt.lexErr, tt.lexDelay
			e := newEngine(t, vec, lex, exampleCatalog(), testSettings())

			_, _, err := e.Rehydrate(context.Background(), "coder", "implement HybridVectorStore", 1200, FeatureFlags{})

			assert.ErrorIs(t, err, rerrors.ErrRetrievalUnavailable)
			assert.ErrorIs(t, err, rerrors.ErrAdapterUnavailable)
			assert.True(t, rerrors.IsFatal(err))
		})
	}
}

func TestEngine_BothTimeoutsReturnDegradedEmptyBundle(t *testing.T) {
	vec, lex := exampleRankers()
	vec.delay, lex.delay = time.Second, time.Second
	e := newEngine(t, vec, lex, exampleCatalog(), testSettings())

	b, trace, err := e.Rehydrate(context.Background(), "coder", "implement HybridVectorStore", 1200, FeatureFlags{})

	require.NoError(t, err)
	assert.True(t, b.Degraded)
	assert.Empty(t, b.Evidence)
	assert.ElementsMatch(t, []string{StageVector, StageLexical}, trace.Timeouts)
}

func TestEngine_PartialResultOnCancel(t *testing.T) {
	// Given: adapters that would answer well within their timeout
	vec, lex := exampleRankers()
	vec.delay, lex.delay = time.Second, time.Second
	s := testSettings()
	s.AdapterTimeout = 5 * time.Second
	e := newEngine(t, vec, lex, exampleCatalog(), s)

	// When: the caller cancels before they join
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, trace, err := e.Rehydrate(ctx, "coder", "implement HybridVectorStore", 1200, FeatureFlags{})

	// Then
	assert.ErrorIs(t, err, rerrors.ErrPartialResult)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotNil(t, trace)
}

func TestEngine_HardGateFailureReturnsDegradedBundle(t *testing.T) {
	// Given: both rankers succeed with nothing
	vec := &fakeRanker{}
	lex := &fakeRanker{}
	e := newEngine(t, vec, lex, exampleCatalog(), testSettings())

	// When
	b, trace, err := e.Rehydrate(context.Background(), "coder", "implement HybridVectorStore", 1200, FeatureFlags{})

	// Then: no error, but the bundle is marked and the trace explains why
	require.NoError(t, err)
	assert.True(t, b.Degraded)
	assert.Equal(t, bundle.StatusFail, b.Verdict.Status)
	assert.Contains(t, b.Verdict.Failing(), bundle.GateEvidenceCount)
	events := trace.EventsFor(StageGates)
	require.Len(t, events, 1)
	assert.Equal(t, rerrors.ErrCodeQualityGateHardFailed, events[0].Attrs["code"])
}

func TestEngine_OrphansDropped(t *testing.T) {
	vec, lex := exampleRankers()
	vec.items = append(vec.items, search.RankedItem{ChunkID: "ghost", Score: 0.4})
	e := newEngine(t, vec, lex, exampleCatalog(), testSettings())

	b, trace, err := e.Rehydrate(context.Background(), "coder", "implement HybridVectorStore", 1200, FeatureFlags{})

	require.NoError(t, err)
	assert.NotContains(t, evidenceIDs(b), "ghost")
	assert.Equal(t, []string{"ghost"}, trace.Orphans)
}

func TestEngine_CatalogFailureIsFatal(t *testing.T) {
	vec, lex := exampleRankers()
	cat := exampleCatalog()
	cat.err = errors.New("database is locked")
	e := newEngine(t, vec, lex, cat, testSettings())

	_, _, err := e.Rehydrate(context.Background(), "coder", "implement HybridVectorStore", 1200, FeatureFlags{})

	require.Error(t, err)
	assert.Equal(t, rerrors.ErrCodeCatalog, rerrors.GetCode(err))
}

func TestEngine_CircuitBreakerShortCircuitsFailingAdapter(t *testing.T) {
	// Given: a breaker that opens after one failure
	vec, lex := exampleRankers()
	vec.err = errors.New("vector down")
	s := testSettings()
	s.CircuitBreaker = &BreakerSettings{MaxFailures: 1, ResetTimeout: time.Hour}
	e := newEngine(t, vec, lex, exampleCatalog(), s)

	// When: two requests run
	for range 2 {
		_, trace, err := e.Rehydrate(context.Background(), "coder", "implement HybridVectorStore", 1200, FeatureFlags{})
		require.NoError(t, err)
		assert.Equal(t, []string{StageVector}, trace.Unavailable)
	}

	// Then: the second never reached the adapter
	assert.Equal(t, 1, vec.callCount())
	assert.Equal(t, 2, lex.callCount())
}

// =============================================================================
// Expansion and anchors
// =============================================================================

func TestEngine_EntityExpansionNoOpWithoutEntities(t *testing.T) {
	// Given: a query with no extractable entities
	vec, lex := exampleRankers()
	e := newEngine(t, vec, lex, exampleCatalog(), testSettings())
	task := "fix the broken login flow"

	// When: run with expansion forced on and off
	on, traceOn, err := e.Rehydrate(context.Background(), "coder", task, 1200, FeatureFlags{EntityExpansion: search.Bool(true)})
	require.NoError(t, err)
	off, _, err := e.Rehydrate(context.Background(), "coder", task, 1200, FeatureFlags{EntityExpansion: search.Bool(false)})
	require.NoError(t, err)

	// Then: no entity calls were made and the evidence is identical
	assert.Equal(t, 2, vec.callCount())
	require.Len(t, traceOn.Expansion, 1)
	assert.Zero(t, traceOn.Expansion[0].Calls)
	assert.Equal(t, evidenceIDs(off), evidenceIDs(on))
}

func TestEngine_EntityExpansionAddsAdjacentChunks(t *testing.T) {
	vec, lex := exampleRankers()
	vec.byText = map[string][]search.RankedItem{
		"HybridVectorStore": {{ChunkID: "E", Score: 0.95}, {ChunkID: "X", Score: 0.3}},
	}
	cat := exampleCatalog()
	cat.chunks["E"] = chunk("E", "internal/store/hnsw.go", "HNSW graph behind HybridVectorStore implement")
	cat.chunks["X"] = chunk("X", "README.md", "unrelated")
	e := newEngine(t, vec, lex, cat, testSettings())

	b, trace, err := e.Rehydrate(context.Background(), "coder", "implement HybridVectorStore", 1200,
		FeatureFlags{EntityExpansion: search.Bool(true)})

	require.NoError(t, err)
	assert.Contains(t, evidenceIDs(b), "E")
	assert.NotContains(t, evidenceIDs(b), "X")
	require.NotEmpty(t, trace.Expansion)
	assert.Equal(t, 1, trace.Expansion[0].Added)
	assert.Equal(t, 1, trace.Expansion[0].Discarded)
	assert.Contains(t, vec.callTexts(), "HybridVectorStore")
}

func TestEngine_AnchorsSeedLexicalQueryAndStayOutOfEvidence(t *testing.T) {
	// Given: coder anchors on chunk A and a configured anchor term
	vec, lex := exampleRankers()
	s := testSettings()
	s.Roles = map[string]Role{"coder": {
		Pinned:      []string{"Run go test before committing."},
		Anchors:     []string{"A"},
		AnchorTerms: []string{"retrieval"},
	}}
	e := newEngine(t, vec, lex, exampleCatalog(), s)

	// When
	b, trace, err := e.Rehydrate(context.Background(), "Coder", "implement HybridVectorStore", 1200, FeatureFlags{})

	// Then
	require.NoError(t, err)
	assert.NotContains(t, evidenceIDs(b), "A")
	assert.Contains(t, b.AnchorPriors, "retrieval")
	require.Len(t, b.Pinned, 1)
	assert.Equal(t, "Run go test before committing.", b.Pinned[0].Text)
	assert.Contains(t, trace.LexicalText, "retrieval")
	assert.Contains(t, lex.callTexts()[0], "retrieval")
	assert.NotContains(t, bundle.RenderText(b), "retrieval")
}

func TestEngine_ExpandQueryOffSendsRawText(t *testing.T) {
	vec, lex := exampleRankers()
	s := testSettings()
	s.Roles = map[string]Role{"coder": {AnchorTerms: []string{"retrieval"}}}
	e := newEngine(t, vec, lex, exampleCatalog(), s)

	b, _, err := e.Rehydrate(context.Background(), "coder", "implement HybridVectorStore", 1200,
		FeatureFlags{ExpandQuery: search.ExpandOff})

	require.NoError(t, err)
	assert.Equal(t, []string{"implement HybridVectorStore"}, lex.callTexts())
	assert.Empty(t, b.AnchorPriors)
}

func TestEngine_RecentSlotSkipsEvidence(t *testing.T) {
	vec, lex := exampleRankers()
	cat := exampleCatalog()
	cat.chunks["B"].RecencyTimestamp = time.Unix(2000, 0)
	cat.chunks["R"] = &store.Chunk{ID: "R", SourcePath: "CHANGELOG.md", SpanStart: 1, SpanEnd: 3,
		Text: "recent note", RecencyTimestamp: time.Unix(3000, 0)}
	e := newEngine(t, vec, lex, cat, testSettings())

	b, _, err := e.Rehydrate(context.Background(), "coder", "implement HybridVectorStore", 1200, FeatureFlags{})

	require.NoError(t, err)
	require.Len(t, b.Recent, 1)
	assert.Equal(t, "R", b.Recent[0].ChunkID)
}
