package search

import (
	"path"
	"slices"
	"strings"

	"github.com/Aman-CERP/rehydrate/internal/store"
)

// Chunk categories used by role affinity.
const (
	CategoryImplementation = "implementation"
	CategoryTest           = "test"
	CategoryDocs           = "docs"
	CategoryConfig         = "config"
	CategoryOther          = "other"
)

// neutralAffinity scores unknown roles and categories.
const neutralAffinity = 0.5

// DefaultAffinity is the built-in role to category table.
var DefaultAffinity = map[string]map[string]float64{
	"coder": {
		CategoryImplementation: 1.0, CategoryTest: 0.6, CategoryConfig: 0.5, CategoryDocs: 0.3, CategoryOther: 0.4,
	},
	"reviewer": {
		CategoryImplementation: 0.8, CategoryTest: 0.8, CategoryConfig: 0.5, CategoryDocs: 0.5, CategoryOther: 0.4,
	},
	"tester": {
		CategoryTest: 1.0, CategoryImplementation: 0.7, CategoryConfig: 0.4, CategoryDocs: 0.3, CategoryOther: 0.3,
	},
	"architect": {
		CategoryDocs: 1.0, CategoryConfig: 0.7, CategoryImplementation: 0.6, CategoryTest: 0.3, CategoryOther: 0.5,
	},
	"writer": {
		CategoryDocs: 1.0, CategoryImplementation: 0.4, CategoryOther: 0.4, CategoryConfig: 0.3, CategoryTest: 0.2,
	},
}

var sourceExts = map[string]struct{}{
	".go": {}, ".py": {}, ".ts": {}, ".tsx": {}, ".js": {}, ".jsx": {}, ".rs": {}, ".java": {},
	".kt": {}, ".c": {}, ".cc": {}, ".cpp": {}, ".h": {}, ".hpp": {}, ".rb": {}, ".php": {},
	".swift": {}, ".cs": {}, ".scala": {}, ".sh": {}, ".sql": {}, ".proto": {},
}

// RerankConfig holds the reranker weights and optional affinity overrides.
type RerankConfig struct {
	FusedWeight   float64
	RecencyWeight float64
	RoleWeight    float64
	// Affinity replaces the built-in row for each role it names.
	Affinity map[string]map[string]float64
}

// DefaultRerankConfig returns 0.7 / 0.15 / 0.15.
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{FusedWeight: 0.7, RecencyWeight: 0.15, RoleWeight: 0.15}
}

// Reranker rescores candidates by fused score, relative recency and role
// affinity.
type Reranker struct {
	cfg      RerankConfig
	affinity map[string]map[string]float64
}

// NewReranker creates a reranker.
func NewReranker(cfg RerankConfig) *Reranker {
	table := make(map[string]map[string]float64, len(DefaultAffinity)+len(cfg.Affinity))
	for role, row := range DefaultAffinity {
		table[role] = row
	}
	for role, row := range cfg.Affinity {
		table[strings.ToLower(role)] = row
	}
	return &Reranker{cfg: cfg, affinity: table}
}

// Rerank sets FinalScore = fused*wf + recency*wr + affinity*wa and returns
// the candidates sorted by FinalScore. Recency is min-max normalized over
// the candidate set and is 0 when every timestamp is equal or unset.
func (r *Reranker) Rerank(cands []*ScoredCandidate, role string) []*ScoredCandidate {
	var lo, hi int64
	first := true
	for _, c := range cands {
		ts, ok := recencyOf(c)
		if !ok {
			continue
		}
		if first || ts < lo {
			lo = ts
		}
		if first || ts > hi {
			hi = ts
		}
		first = false
	}

	for _, c := range cands {
		var recency float64
		if ts, ok := recencyOf(c); ok && hi > lo {
			recency = float64(ts-lo) / float64(hi-lo)
		}
		c.FinalScore = c.FusedScore*r.cfg.FusedWeight +
			recency*r.cfg.RecencyWeight +
			r.Affinity(role, Category(c.Chunk))*r.cfg.RoleWeight
	}

	out := slices.Clone(cands)
	SortByFinal(out)
	return out
}

// PassThrough is the disabled reranker: FinalScore = FusedScore, order
// unchanged.
func PassThrough(cands []*ScoredCandidate) []*ScoredCandidate {
	for _, c := range cands {
		c.FinalScore = c.FusedScore
	}
	return cands
}

// Affinity looks up role x category, defaulting to 0.5.
func (r *Reranker) Affinity(role, category string) float64 {
	row, ok := r.affinity[strings.ToLower(role)]
	if !ok {
		return neutralAffinity
	}
	if v, ok := row[category]; ok {
		return v
	}
	return neutralAffinity
}

func recencyOf(c *ScoredCandidate) (int64, bool) {
	if c.Chunk == nil || c.Chunk.RecencyTimestamp.IsZero() {
		return 0, false
	}
	return c.Chunk.RecencyTimestamp.UnixNano(), true
}

// Category returns the chunk's "category" metadata tag, or derives one
// from its path.
func Category(ch *store.Chunk) string {
	if ch == nil {
		return CategoryOther
	}
	if tag := strings.ToLower(ch.Metadata["category"]); tag != "" {
		return tag
	}

	p := strings.ToLower(strings.ReplaceAll(ch.SourcePath, "\\", "/"))
	base := path.Base(p)
	ext := path.Ext(base)
	switch {
	case strings.Contains(base, "_test.") || strings.Contains("/"+p, "/test") || strings.HasPrefix(base, "spec.") || strings.Contains(base, ".spec."):
		return CategoryTest
	case ext == ".md" || ext == ".rst" || strings.HasPrefix(p, "docs/") || strings.Contains(p, "/docs/"):
		return CategoryDocs
	case ext == ".yaml" || ext == ".yml" || ext == ".json" || ext == ".toml":
		return CategoryConfig
	}
	if _, ok := sourceExts[ext]; ok {
		return CategoryImplementation
	}
	return CategoryOther
}
