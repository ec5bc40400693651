// Package config loads rehydrate configuration.
//
// Values are layered in increasing precedence:
//  1. Hardcoded defaults (NewConfig)
//  2. User config ($XDG_CONFIG_HOME/rehydrate/config.yaml)
//  3. Project config (.rehydrate.yaml in the working directory)
//  4. Environment variables (REHYDRATE_*)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete rehydrate configuration.
type Config struct {
	Version   int                   `yaml:"version" json:"version"`
	Retrieval RetrievalConfig       `yaml:"retrieval" json:"retrieval"`
	Router    RouterConfig          `yaml:"router" json:"router"`
	Profiles  ProfilesConfig        `yaml:"profiles" json:"profiles"`
	Fusion    FusionConfig          `yaml:"fusion" json:"fusion"`
	PreFilter PreFilterConfig       `yaml:"prefilter" json:"prefilter"`
	Expansion ExpansionConfig       `yaml:"expansion" json:"expansion"`
	Rerank    RerankConfig          `yaml:"rerank" json:"rerank"`
	Packing   PackingConfig         `yaml:"packing" json:"packing"`
	Budget    BudgetConfig          `yaml:"budget" json:"budget"`
	Gates     GatesConfig           `yaml:"gates" json:"gates"`
	Defaults  FlagDefaults          `yaml:"defaults" json:"defaults"`
	Roles     map[string]RoleConfig `yaml:"roles" json:"roles"`
	Index     IndexConfig           `yaml:"index" json:"index"`
	Logging   LoggingConfig         `yaml:"logging" json:"logging"`
}

// RetrievalConfig controls adapter I/O.
type RetrievalConfig struct {
	// AdapterTimeout bounds every vector, lexical and entity call.
	AdapterTimeout time.Duration `yaml:"adapter_timeout" json:"adapter_timeout"`
	// CircuitBreaker short-circuits adapters that keep failing.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
	// RecentLimit is how many recency shots are fetched from the catalog.
	RecentLimit int `yaml:"recent_limit" json:"recent_limit"`
}

// CircuitBreakerConfig configures per-adapter circuit breakers.
type CircuitBreakerConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	MaxFailures  int           `yaml:"max_failures" json:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout" json:"reset_timeout"`
}

// RouterConfig holds the complexity thresholds that pick a profile.
type RouterConfig struct {
	// SimpleMax: scores below it route to the simple profile.
	SimpleMax float64 `yaml:"simple_max" json:"simple_max"`
	// ModerateMax: scores below it (and >= SimpleMax) route to moderate.
	ModerateMax float64 `yaml:"moderate_max" json:"moderate_max"`
	CacheSize   int     `yaml:"cache_size" json:"cache_size"`
}

// ProfilesConfig holds the three retrieval profiles.
type ProfilesConfig struct {
	Simple   ProfileConfig `yaml:"simple" json:"simple"`
	Moderate ProfileConfig `yaml:"moderate" json:"moderate"`
	Complex  ProfileConfig `yaml:"complex" json:"complex"`
}

// ProfileConfig is one retrieval parameter set.
type ProfileConfig struct {
	TopK                  int     `yaml:"top_k" json:"top_k"`
	SimilarityThreshold   float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
	ContextWindowTokens   int     `yaml:"context_window_tokens" json:"context_window_tokens"`
	EnableReranking       bool    `yaml:"enable_reranking" json:"enable_reranking"`
	EnableEntityExpansion bool    `yaml:"enable_entity_expansion" json:"enable_entity_expansion"`
	EnableMultiHop        bool    `yaml:"enable_multi_hop" json:"enable_multi_hop"`
}

// FusionConfig configures weighted RRF.
type FusionConfig struct {
	RRFConstant   int     `yaml:"rrf_constant" json:"rrf_constant"`
	VectorWeight  float64 `yaml:"vector_weight" json:"vector_weight"`
	LexicalWeight float64 `yaml:"lexical_weight" json:"lexical_weight"`
}

// PreFilterConfig configures the recall-preserving pre-filter.
type PreFilterConfig struct {
	MinCandidates int `yaml:"min_candidates" json:"min_candidates"`
	MaxPerSource  int `yaml:"max_per_source" json:"max_per_source"`
}

// ExpansionConfig configures entity expansion.
type ExpansionConfig struct {
	MaxRelated         int     `yaml:"max_related" json:"max_related"`
	StabilityThreshold float64 `yaml:"stability_threshold" json:"stability_threshold"`
	Concurrency        int     `yaml:"concurrency" json:"concurrency"`
	MaxEntities        int     `yaml:"max_entities" json:"max_entities"`
	// BaseK is the per-entity k before the 2-per-entity widening.
	BaseK int `yaml:"base_k" json:"base_k"`
	// HopEntities is how many entity-sourced chunks seed the second hop.
	HopEntities int `yaml:"hop_entities" json:"hop_entities"`
}

// RerankConfig configures the heuristic reranker.
type RerankConfig struct {
	FusedWeight   float64 `yaml:"fused_weight" json:"fused_weight"`
	RecencyWeight float64 `yaml:"recency_weight" json:"recency_weight"`
	RoleWeight    float64 `yaml:"role_weight" json:"role_weight"`
	// Affinity maps role -> chunk category -> score in [0,1]. Entries here
	// replace the built-in table for the roles they name.
	Affinity map[string]map[string]float64 `yaml:"affinity,omitempty" json:"affinity,omitempty"`
}

// PackingConfig configures MMR packing.
type PackingConfig struct {
	Lambda float64 `yaml:"lambda" json:"lambda"`
}

// BudgetConfig holds the four-slot token shares.
type BudgetConfig struct {
	PinnedMaxTokens  int     `yaml:"pinned_max_tokens" json:"pinned_max_tokens"`
	EvidenceMinShare float64 `yaml:"evidence_min_share" json:"evidence_min_share"`
	EvidenceMaxShare float64 `yaml:"evidence_max_share" json:"evidence_max_share"`
	RecentMaxShare   float64 `yaml:"recent_max_share" json:"recent_max_share"`
}

// GatesConfig holds quality-gate thresholds.
type GatesConfig struct {
	Coverage      Threshold `yaml:"coverage" json:"coverage"`
	Diversity     Threshold `yaml:"diversity" json:"diversity"`
	EvidenceCount Threshold `yaml:"evidence_count" json:"evidence_count"`
	EvidenceShare Threshold `yaml:"evidence_share" json:"evidence_share"`
}

// Threshold is a soft/hard pair: values below Warn warn, below Fail fail.
// A zero Fail disables the hard check.
type Threshold struct {
	Warn float64 `yaml:"warn" json:"warn"`
	Fail float64 `yaml:"fail" json:"fail"`
}

// FlagDefaults are used for feature flags a request leaves unset.
type FlagDefaults struct {
	UseRRF      bool    `yaml:"use_rrf" json:"use_rrf"`
	Dedupe      string  `yaml:"dedupe" json:"dedupe"`
	ExpandQuery string  `yaml:"expand_query" json:"expand_query"`
	Stability   float64 `yaml:"stability" json:"stability"`
}

// RoleConfig holds per-role bundle inputs.
type RoleConfig struct {
	// Pinned are invariants placed verbatim in the PINNED slot.
	Pinned []string `yaml:"pinned,omitempty" json:"pinned,omitempty"`
	// Anchors are chunk IDs whose text seeds query expansion. They never
	// appear as evidence.
	Anchors []string `yaml:"anchors,omitempty" json:"anchors,omitempty"`
	// AnchorTerms are extra expansion terms.
	AnchorTerms []string `yaml:"anchor_terms,omitempty" json:"anchor_terms,omitempty"`
}

// IndexConfig locates the local indices used by the CLI.
type IndexConfig struct {
	DataDir     string `yaml:"data_dir" json:"data_dir"`
	BM25Backend string `yaml:"bm25_backend" json:"bm25_backend"`
	Dimensions  int    `yaml:"dimensions" json:"dimensions"`
	CacheSize   int    `yaml:"cache_size" json:"cache_size"`
}

// LoggingConfig configures the slog logger.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	FilePath  string `yaml:"file_path,omitempty" json:"file_path,omitempty"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// Dedupe and expansion modes accepted in config and flags.
const (
	DedupeFile        = "file"
	DedupeFileOverlap = "file+overlap"
	ExpandAuto        = "auto"
	ExpandOff         = "off"
)

// MaxPinnedTokens is the hard ceiling on pinned invariant tokens.
// budget.pinned_max_tokens may lower it, never raise it.
const MaxPinnedTokens = 200

// NewConfig returns a Config with every default applied.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Retrieval: RetrievalConfig{
			AdapterTimeout: 5 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures:  5,
				ResetTimeout: 30 * time.Second,
			},
			RecentLimit: 5,
		},
		Router: RouterConfig{
			SimpleMax:   0.3,
			ModerateMax: 0.6,
			CacheSize:   256,
		},
		Profiles: ProfilesConfig{
			Simple: ProfileConfig{
				TopK: 10, SimilarityThreshold: 0.35, ContextWindowTokens: 2000,
			},
			Moderate: ProfileConfig{
				TopK: 20, SimilarityThreshold: 0.30, ContextWindowTokens: 4000,
				EnableReranking: true, EnableEntityExpansion: true,
			},
			Complex: ProfileConfig{
				TopK: 30, SimilarityThreshold: 0.25, ContextWindowTokens: 8000,
				EnableReranking: true, EnableEntityExpansion: true, EnableMultiHop: true,
			},
		},
		Fusion: FusionConfig{
			RRFConstant:   60,
			VectorWeight:  1.0,
			LexicalWeight: 1.0,
		},
		PreFilter: PreFilterConfig{
			MinCandidates: 3,
			MaxPerSource:  3,
		},
		Expansion: ExpansionConfig{
			MaxRelated:         8,
			StabilityThreshold: 0.7,
			Concurrency:        4,
			MaxEntities:        16,
			BaseK:              2,
			HopEntities:        2,
		},
		Rerank: RerankConfig{
			FusedWeight:   0.7,
			RecencyWeight: 0.15,
			RoleWeight:    0.15,
		},
		Packing: PackingConfig{Lambda: 0.7},
		Budget: BudgetConfig{
			PinnedMaxTokens:  MaxPinnedTokens,
			EvidenceMinShare: 0.5,
			EvidenceMaxShare: 0.8,
			RecentMaxShare:   0.1,
		},
		Gates: GatesConfig{
			Coverage:      Threshold{Warn: 0.5, Fail: 0.15},
			Diversity:     Threshold{Warn: 0.3, Fail: 0.1},
			EvidenceCount: Threshold{Warn: 2, Fail: 1},
			EvidenceShare: Threshold{Warn: 0.5},
		},
		Defaults: FlagDefaults{
			UseRRF:      true,
			Dedupe:      DedupeFileOverlap,
			ExpandQuery: ExpandAuto,
			Stability:   0.5,
		},
		Roles: map[string]RoleConfig{},
		Index: IndexConfig{
			DataDir:     ".rehydrate",
			BM25Backend: "sqlite",
			Dimensions:  256,
			CacheSize:   1000,
		},
		Logging: LoggingConfig{
			Level:     "warn",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// GetUserConfigPath returns the user configuration path, following XDG:
//   - $XDG_CONFIG_HOME/rehydrate/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/rehydrate/config.yaml
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "rehydrate", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "rehydrate", "config.yaml")
	}
	return filepath.Join(home, ".config", "rehydrate", "config.yaml")
}

// ProjectConfigPath returns the project config path inside dir.
func ProjectConfigPath(dir string) string {
	return filepath.Join(dir, ".rehydrate.yaml")
}

// Load layers user config, project config and environment overrides on top
// of the defaults, then validates the result.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile loads defaults overlaid with a single explicit file.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFromFile loads .rehydrate.yaml, falling back to .rehydrate.yml.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".rehydrate.yaml", ".rehydrate.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML decodes path over c. Keys absent from the file keep their
// current value, so layering is a sequence of decodes; explicit zeros win.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if c.Roles == nil {
		c.Roles = map[string]RoleConfig{}
	}
	return nil
}

// applyEnvOverrides applies REHYDRATE_* environment variables.
func (c *Config) applyEnvOverrides() error {
	floats := map[string]*float64{
		"REHYDRATE_VECTOR_WEIGHT":  &c.Fusion.VectorWeight,
		"REHYDRATE_LEXICAL_WEIGHT": &c.Fusion.LexicalWeight,
		"REHYDRATE_MMR_LAMBDA":     &c.Packing.Lambda,
		"REHYDRATE_STABILITY":      &c.Defaults.Stability,
	}
	for name, dst := range floats {
		if v := os.Getenv(name); v != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = f
		}
	}

	if v := os.Getenv("REHYDRATE_RRF_CONSTANT"); v != "" {
		k, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("REHYDRATE_RRF_CONSTANT: %w", err)
		}
		c.Fusion.RRFConstant = k
	}
	if v := os.Getenv("REHYDRATE_ADAPTER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("REHYDRATE_ADAPTER_TIMEOUT: %w", err)
		}
		c.Retrieval.AdapterTimeout = d
	}
	if v := os.Getenv("REHYDRATE_DEDUPE"); v != "" {
		c.Defaults.Dedupe = v
	}
	if v := os.Getenv("REHYDRATE_BM25_BACKEND"); v != "" {
		c.Index.BM25Backend = v
	}
	if v := os.Getenv("REHYDRATE_DATA_DIR"); v != "" {
		c.Index.DataDir = v
	}
	if v := os.Getenv("REHYDRATE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Retrieval.AdapterTimeout <= 0 {
		return fmt.Errorf("retrieval.adapter_timeout must be positive, got %s", c.Retrieval.AdapterTimeout)
	}
	if c.Retrieval.RecentLimit < 0 {
		return fmt.Errorf("retrieval.recent_limit must be non-negative, got %d", c.Retrieval.RecentLimit)
	}
	if c.Retrieval.CircuitBreaker.Enabled && c.Retrieval.CircuitBreaker.MaxFailures < 1 {
		return fmt.Errorf("retrieval.circuit_breaker.max_failures must be at least 1")
	}

	if c.Router.SimpleMax < 0 || c.Router.ModerateMax > 1 || c.Router.SimpleMax > c.Router.ModerateMax {
		return fmt.Errorf("router thresholds must satisfy 0 <= simple_max <= moderate_max <= 1, got %.2f / %.2f",
			c.Router.SimpleMax, c.Router.ModerateMax)
	}
	for _, np := range []struct {
		name string
		p    ProfileConfig
	}{
		{"simple", c.Profiles.Simple}, {"moderate", c.Profiles.Moderate}, {"complex", c.Profiles.Complex},
	} {
		name, p := np.name, np.p
		if p.TopK < 1 {
			return fmt.Errorf("profiles.%s.top_k must be at least 1, got %d", name, p.TopK)
		}
		if !inUnit(p.SimilarityThreshold) {
			return fmt.Errorf("profiles.%s.similarity_threshold must be between 0 and 1, got %f", name, p.SimilarityThreshold)
		}
	}

	if c.Fusion.RRFConstant < 1 {
		return fmt.Errorf("fusion.rrf_constant must be positive, got %d", c.Fusion.RRFConstant)
	}
	if c.Fusion.VectorWeight < 0 || c.Fusion.LexicalWeight < 0 {
		return fmt.Errorf("fusion weights must be non-negative")
	}
	if c.Fusion.VectorWeight+c.Fusion.LexicalWeight == 0 {
		return fmt.Errorf("fusion weights must not both be zero")
	}

	if c.PreFilter.MinCandidates < 0 || c.PreFilter.MaxPerSource < 1 {
		return fmt.Errorf("prefilter.min_candidates must be >= 0 and max_per_source >= 1")
	}
	if c.Expansion.MaxRelated < 1 || c.Expansion.Concurrency < 1 {
		return fmt.Errorf("expansion.max_related and expansion.concurrency must be at least 1")
	}
	if c.Expansion.BaseK < 0 || c.Expansion.HopEntities < 0 {
		return fmt.Errorf("expansion.base_k and expansion.hop_entities must be non-negative")
	}
	if !inUnit(c.Expansion.StabilityThreshold) {
		return fmt.Errorf("expansion.stability_threshold must be between 0 and 1, got %f", c.Expansion.StabilityThreshold)
	}

	if c.Rerank.FusedWeight < 0 || c.Rerank.RecencyWeight < 0 || c.Rerank.RoleWeight < 0 {
		return fmt.Errorf("rerank weights must be non-negative")
	}
	if !inUnit(c.Packing.Lambda) {
		return fmt.Errorf("packing.lambda must be between 0 and 1, got %f", c.Packing.Lambda)
	}

	b := c.Budget
	if b.PinnedMaxTokens < 0 || b.PinnedMaxTokens > MaxPinnedTokens {
		return fmt.Errorf("budget.pinned_max_tokens must be between 0 and %d, got %d", MaxPinnedTokens, b.PinnedMaxTokens)
	}
	if !inUnit(b.EvidenceMinShare) || !inUnit(b.EvidenceMaxShare) || !inUnit(b.RecentMaxShare) {
		return fmt.Errorf("budget shares must be between 0 and 1")
	}
	if b.EvidenceMinShare > b.EvidenceMaxShare {
		return fmt.Errorf("budget.evidence_min_share (%.2f) exceeds evidence_max_share (%.2f)", b.EvidenceMinShare, b.EvidenceMaxShare)
	}
	if b.EvidenceMaxShare+b.RecentMaxShare > 1 {
		return fmt.Errorf("budget.evidence_max_share + recent_max_share must not exceed 1")
	}

	for _, g := range []struct {
		name string
		th   Threshold
	}{
		{"coverage", c.Gates.Coverage}, {"diversity", c.Gates.Diversity},
		{"evidence_count", c.Gates.EvidenceCount}, {"evidence_share", c.Gates.EvidenceShare},
	} {
		if g.th.Fail > g.th.Warn {
			return fmt.Errorf("gates.%s.fail (%.2f) must not exceed warn (%.2f)", g.name, g.th.Fail, g.th.Warn)
		}
	}

	if err := ValidateDedupe(c.Defaults.Dedupe); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	if err := ValidateExpand(c.Defaults.ExpandQuery); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	if !inUnit(c.Defaults.Stability) {
		return fmt.Errorf("defaults.stability must be between 0 and 1, got %f", c.Defaults.Stability)
	}

	switch c.Index.BM25Backend {
	case "sqlite", "bleve":
	default:
		return fmt.Errorf("index.bm25_backend must be 'sqlite' or 'bleve', got %s", c.Index.BM25Backend)
	}
	if c.Index.Dimensions < 1 {
		return fmt.Errorf("index.dimensions must be positive, got %d", c.Index.Dimensions)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	return nil
}

// ValidateDedupe checks a dedupe mode name.
func ValidateDedupe(mode string) error {
	switch mode {
	case DedupeFile, DedupeFileOverlap:
		return nil
	}
	return fmt.Errorf("dedupe must be %q or %q, got %q", DedupeFile, DedupeFileOverlap, mode)
}

// ValidateExpand checks an expand_query mode name.
func ValidateExpand(mode string) error {
	switch mode {
	case ExpandAuto, ExpandOff:
		return nil
	}
	return fmt.Errorf("expand_query must be %q or %q, got %q", ExpandAuto, ExpandOff, mode)
}

// Role returns the configuration for role, or an empty RoleConfig.
func (c *Config) Role(role string) RoleConfig {
	return c.Roles[strings.ToLower(role)]
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func inUnit(f float64) bool {
	return f >= 0 && f <= 1
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
