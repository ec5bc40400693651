package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractEntities(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"pascal", "implement HybridVectorStore", []string{"HybridVectorStore"}},
		{"camel and snake", "why does parseConfig call load_defaults?", []string{"parseConfig", "load_defaults"}},
		{"screaming and error code", "MAX_RETRIES triggers ERR_301_ADAPTER_TIMEOUT", []string{"MAX_RETRIES", "ERR_301_ADAPTER_TIMEOUT"}},
		{"path", "see internal/search/fusion.go for details", []string{"internal/search/fusion.go"}},
		{"quoted", `find "token budget" usage`, []string{"token budget"}},
		{"url", "compare https://example.com/api.go with it", []string{"https://example.com/api.go"}},
		{"dedupe", "Router Router router", []string{}},
		{"plain words", "make it faster please", []string{}},
		{"empty", "", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractEntities(tt.text))
		})
	}
}

func TestExtractEntities_Dedupes(t *testing.T) {
	got := ExtractEntities("fooBar and fooBar again, then bazQux")
	assert.Equal(t, []string{"fooBar", "bazQux"}, got)
}

func TestExtractEntitiesN_Caps(t *testing.T) {
	got := ExtractEntitiesN("aB cD eF gH", 2)
	assert.Equal(t, []string{"aB", "cD"}, got)
}

// =============================================================================
// Router
// =============================================================================

func TestRouter_Route_Thresholds(t *testing.T) {
	r := NewRouter(RouterConfig{SimpleMax: 0.3, ModerateMax: 0.6}, DefaultProfiles())

	tests := []struct {
		score float64
		want  ProfileName
	}{
		{0, ProfileSimple},
		{0.29, ProfileSimple},
		{0.3, ProfileModerate},
		{0.59, ProfileModerate},
		{0.6, ProfileComplex},
		{1, ProfileComplex},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.ProfileFor(tt.score).Name, "score %v", tt.score)
	}
}

func TestRouter_Route_EmptyQueryIsSimple(t *testing.T) {
	r := NewRouter(RouterConfig{}, DefaultProfiles())
	assert.Equal(t, ProfileSimple, r.Route(Query{RawText: "   "}).Name)
	assert.Zero(t, r.Complexity("   ", nil))
}

func TestRouter_Route_ShortIdentifierQueryIsSimple(t *testing.T) {
	// Given: the two-word example query with one entity
	r := NewRouter(RouterConfig{}, DefaultProfiles())
	q := Query{RawText: "implement HybridVectorStore", Entities: []string{"HybridVectorStore"}}

	// Then: it stays in the simple band
	assert.Equal(t, ProfileSimple, r.Route(q).Name)
}

func TestRouter_Route_MultiHopQueryIsComplex(t *testing.T) {
	// Given: a long question with cues, conjunctions and entities
	text := "why does the RRF fusion stage diverge from the MMR packer, and how do the " +
		"pre-filter floor and the dedupe overlap rule interact across profiles when comparing " +
		"results between simple and complex routes?"
	entities := []string{"RRF", "MMR"}
	r := NewRouter(RouterConfig{}, DefaultProfiles())

	// Then: complex
	score := r.Complexity(text, entities)
	assert.GreaterOrEqual(t, score, 0.6)
	assert.Equal(t, ProfileComplex, r.Route(Query{RawText: text, Entities: entities}).Name)
}

func TestRouter_CacheDoesNotChangeResult(t *testing.T) {
	r := NewRouter(RouterConfig{CacheSize: 2}, DefaultProfiles())
	text := "trace token budget allocation across stages"

	first := r.Complexity(text, nil)
	second := r.Complexity(text, nil)

	assert.Equal(t, first, second)
	assert.Equal(t, ComplexityScore(text, nil), first)
}

func TestComplexityScore_Clamped(t *testing.T) {
	long := ""
	for range 100 {
		long += "why compare between across trace relationship and, or; "
	}
	ents := make([]string, 10)
	assert.LessOrEqual(t, ComplexityScore(long, ents), 1.0)
}

func TestQuery_FlagPrecedence(t *testing.T) {
	simple := DefaultProfiles().Simple
	moderate := DefaultProfiles().Moderate

	assert.False(t, Query{Profile: simple}.RerankEnabled())
	assert.True(t, Query{Profile: moderate}.RerankEnabled())
	assert.False(t, Query{Profile: moderate, Flags: FeatureFlags{Reranking: Bool(false)}}.RerankEnabled())
	assert.True(t, Query{Profile: simple, Flags: FeatureFlags{Reranking: Bool(true)}}.RerankEnabled())

	assert.False(t, Query{Profile: moderate, Flags: FeatureFlags{EntityExpansion: Bool(false)}}.ExpansionEnabled())
	assert.True(t, Query{Profile: simple, Flags: FeatureFlags{EntityExpansion: Bool(true)}}.ExpansionEnabled())
}
