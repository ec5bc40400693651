package search

import (
	"math"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Router thresholds and feature caps.
const (
	DefaultSimpleMax   = 0.3
	DefaultModerateMax = 0.6
	DefaultCacheSize   = 256

	wordFeatureMax      = 0.35
	wordFeatureSaturate = 24
	entityFeatureStep   = 0.1
	entityFeatureMax    = 0.25
	structureStep       = 0.05
	structureFeatureMax = 0.2
	multiHopStep        = 0.1
	multiHopFeatureMax  = 0.2
)

var (
	conjunctions  = map[string]struct{}{"and": {}, "or": {}, "but": {}, "then": {}, "while": {}, "because": {}, "whereas": {}}
	multiHopCues  = []string{"compare", "across", "relationship", "between", "trace", "why"}
	clauseSymbols = "?,;:"
)

// RouterConfig sets the complexity band boundaries.
type RouterConfig struct {
	SimpleMax   float64
	ModerateMax float64
	CacheSize   int
}

// Router scores query complexity and maps it to a retrieval profile.
// Scores are memoized; the cache never changes a result.
type Router struct {
	cfg      RouterConfig
	profiles ProfileTable
	cache    *lru.Cache[string, float64]
}

// NewRouter creates a router. Zero thresholds fall back to the defaults.
func NewRouter(cfg RouterConfig, profiles ProfileTable) *Router {
	if cfg.SimpleMax == 0 && cfg.ModerateMax == 0 {
		cfg.SimpleMax, cfg.ModerateMax = DefaultSimpleMax, DefaultModerateMax
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	cache, _ := lru.New[string, float64](cfg.CacheSize)
	return &Router{cfg: cfg, profiles: profiles, cache: cache}
}

// Route returns the profile for q.
func (r *Router) Route(q Query) RetrievalProfile {
	return r.ProfileFor(r.Complexity(q.RawText, q.Entities))
}

// ProfileFor maps a complexity score to its profile.
func (r *Router) ProfileFor(score float64) RetrievalProfile {
	switch {
	case score < r.cfg.SimpleMax:
		return r.profiles.Simple
	case score < r.cfg.ModerateMax:
		return r.profiles.Moderate
	default:
		return r.profiles.Complex
	}
}

// Complexity scores text in [0,1]. Blank text scores 0.
func (r *Router) Complexity(text string, entities []string) float64 {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return 0
	}
	key := strings.Join(words, " ") + "\x00" + strconv.Itoa(len(entities))
	if v, ok := r.cache.Get(key); ok {
		return v
	}
	score := ComplexityScore(text, entities)
	r.cache.Add(key, score)
	return score
}

// ComplexityScore is the uncached scoring function: the clamped sum of a
// word-count feature, an entity feature, a structure feature and a
// multi-hop cue feature.
func ComplexityScore(text string, entities []string) float64 {
	lower := strings.ToLower(text)
	words := strings.Fields(lower)
	if len(words) == 0 {
		return 0
	}

	wordF := wordFeatureMax * math.Min(1, float64(len(words))/wordFeatureSaturate)
	entityF := math.Min(entityFeatureMax, entityFeatureStep*float64(len(entities)))

	structural := strings.Count(lower, "?")
	for _, sym := range clauseSymbols[1:] {
		structural += strings.Count(lower, string(sym))
	}
	for _, w := range words {
		if _, ok := conjunctions[strings.Trim(w, ".,;:!?")]; ok {
			structural++
		}
	}
	structF := math.Min(structureFeatureMax, structureStep*float64(structural))

	cues := 0
	for _, cue := range multiHopCues {
		for _, w := range words {
			if strings.HasPrefix(strings.Trim(w, ".,;:!?"), cue) {
				cues++
				break
			}
		}
	}
	hopF := math.Min(multiHopFeatureMax, multiHopStep*float64(cues))

	return math.Min(1, wordF+entityF+structF+hopF)
}
