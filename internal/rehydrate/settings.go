package rehydrate

import (
	"strings"
	"time"

	"github.com/Aman-CERP/rehydrate/internal/bundle"
	"github.com/Aman-CERP/rehydrate/internal/config"
	"github.com/Aman-CERP/rehydrate/internal/search"
)

// Settings are the resolved engine parameters. Build them with
// DefaultSettings or SettingsFromConfig.
type Settings struct {
	AdapterTimeout time.Duration
	RecentLimit    int

	Router      search.RouterConfig
	Profiles    search.ProfileTable
	RRFConstant int
	Weights     search.Weights
	PreFilter   search.PreFilterConfig
	Expansion   search.ExpanderConfig
	// ExpansionBaseK feeds k_related = min(max, base + 2*entities).
	ExpansionBaseK int
	// HopEntities seeds the multi-hop pass; 0 disables it.
	HopEntities int
	MaxEntities int
	Rerank      search.RerankConfig
	Lambda      float64
	Allocator   bundle.AllocatorConfig
	Gates       bundle.GateConfig

	Defaults Defaults
	Roles    map[string]Role

	// CircuitBreaker is nil when breakers are off.
	CircuitBreaker *BreakerSettings
}

// Defaults fill feature flags a request leaves unset.
type Defaults struct {
	UseRRF      bool
	Dedupe      search.DedupeMode
	ExpandQuery search.ExpandMode
	Stability   float64
}

// Role holds the per-role bundle inputs.
type Role struct {
	Pinned      []string
	Anchors     []string
	AnchorTerms []string
}

// BreakerSettings configure the per-adapter circuit breakers.
type BreakerSettings struct {
	MaxFailures  int
	ResetTimeout time.Duration
}

// DefaultSettings mirrors config.NewConfig.
func DefaultSettings() Settings {
	return SettingsFromConfig(config.NewConfig())
}

// SettingsFromConfig maps a validated configuration onto engine settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	s := Settings{
		AdapterTimeout: cfg.Retrieval.AdapterTimeout,
		RecentLimit:    cfg.Retrieval.RecentLimit,
		Router: search.RouterConfig{
			SimpleMax:   cfg.Router.SimpleMax,
			ModerateMax: cfg.Router.ModerateMax,
			CacheSize:   cfg.Router.CacheSize,
		},
		Profiles: search.ProfileTable{
			Simple:   profile(search.ProfileSimple, cfg.Profiles.Simple),
			Moderate: profile(search.ProfileModerate, cfg.Profiles.Moderate),
			Complex:  profile(search.ProfileComplex, cfg.Profiles.Complex),
		},
		RRFConstant: cfg.Fusion.RRFConstant,
		Weights: search.Weights{
			Vector:  cfg.Fusion.VectorWeight,
			Lexical: cfg.Fusion.LexicalWeight,
		},
		PreFilter: search.PreFilterConfig{
			MinCandidates: cfg.PreFilter.MinCandidates,
			MaxPerSource:  cfg.PreFilter.MaxPerSource,
		},
		Expansion: search.ExpanderConfig{
			MaxRelated:         cfg.Expansion.MaxRelated,
			StabilityThreshold: cfg.Expansion.StabilityThreshold,
			Concurrency:        cfg.Expansion.Concurrency,
			Timeout:            cfg.Retrieval.AdapterTimeout,
		},
		ExpansionBaseK: cfg.Expansion.BaseK,
		HopEntities:    cfg.Expansion.HopEntities,
		MaxEntities:    cfg.Expansion.MaxEntities,
		Rerank: search.RerankConfig{
			FusedWeight:   cfg.Rerank.FusedWeight,
			RecencyWeight: cfg.Rerank.RecencyWeight,
			RoleWeight:    cfg.Rerank.RoleWeight,
			Affinity:      cfg.Rerank.Affinity,
		},
		Lambda: cfg.Packing.Lambda,
		Allocator: bundle.AllocatorConfig{
			PinnedMaxTokens:  cfg.Budget.PinnedMaxTokens,
			EvidenceMinShare: cfg.Budget.EvidenceMinShare,
			EvidenceMaxShare: cfg.Budget.EvidenceMaxShare,
			RecentMaxShare:   cfg.Budget.RecentMaxShare,
		},
		Gates: bundle.GateConfig{
			Coverage:      threshold(cfg.Gates.Coverage),
			Diversity:     threshold(cfg.Gates.Diversity),
			EvidenceCount: threshold(cfg.Gates.EvidenceCount),
			EvidenceShare: threshold(cfg.Gates.EvidenceShare),
		},
		Defaults: Defaults{
			UseRRF:      cfg.Defaults.UseRRF,
			Dedupe:      search.DedupeMode(cfg.Defaults.Dedupe),
			ExpandQuery: search.ExpandMode(cfg.Defaults.ExpandQuery),
			Stability:   cfg.Defaults.Stability,
		},
		Roles: make(map[string]Role, len(cfg.Roles)),
	}

	for name, r := range cfg.Roles {
		s.Roles[strings.ToLower(name)] = Role{
			Pinned:      r.Pinned,
			Anchors:     r.Anchors,
			AnchorTerms: r.AnchorTerms,
		}
	}

	if cb := cfg.Retrieval.CircuitBreaker; cb.Enabled {
		s.CircuitBreaker = &BreakerSettings{
			MaxFailures:  cb.MaxFailures,
			ResetTimeout: cb.ResetTimeout,
		}
	}
	return s
}

// role returns the configuration for name, or the zero Role.
func (s Settings) role(name string) Role {
	return s.Roles[strings.ToLower(name)]
}

func profile(name search.ProfileName, p config.ProfileConfig) search.RetrievalProfile {
	return search.RetrievalProfile{
		Name:                  name,
		TopK:                  p.TopK,
		SimilarityThreshold:   p.SimilarityThreshold,
		ContextWindowTokens:   p.ContextWindowTokens,
		EnableReranking:       p.EnableReranking,
		EnableEntityExpansion: p.EnableEntityExpansion,
		EnableMultiHop:        p.EnableMultiHop,
	}
}

func threshold(t config.Threshold) bundle.Threshold {
	return bundle.Threshold{Warn: t.Warn, Fail: t.Fail}
}
