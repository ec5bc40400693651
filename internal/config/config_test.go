package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the user config at an empty temp dir so the developer's
// own ~/.config does not leak into tests.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

// =============================================================================
// Defaults
// =============================================================================

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, 60, cfg.Fusion.RRFConstant)
	assert.Equal(t, 1.0, cfg.Fusion.VectorWeight)
	assert.Equal(t, 1.0, cfg.Fusion.LexicalWeight)
	assert.Equal(t, 5*time.Second, cfg.Retrieval.AdapterTimeout)
	assert.Equal(t, 0.3, cfg.Router.SimpleMax)
	assert.Equal(t, 0.6, cfg.Router.ModerateMax)
	assert.Equal(t, 3, cfg.PreFilter.MinCandidates)
	assert.Equal(t, 3, cfg.PreFilter.MaxPerSource)
	assert.Equal(t, 8, cfg.Expansion.MaxRelated)
	assert.Equal(t, 0.7, cfg.Expansion.StabilityThreshold)
	assert.Equal(t, 4, cfg.Expansion.Concurrency)
	assert.Equal(t, 0.7, cfg.Rerank.FusedWeight)
	assert.Equal(t, 0.7, cfg.Packing.Lambda)
	assert.Equal(t, 200, cfg.Budget.PinnedMaxTokens)
	assert.Equal(t, DedupeFileOverlap, cfg.Defaults.Dedupe)
	assert.Equal(t, ExpandAuto, cfg.Defaults.ExpandQuery)
	assert.True(t, cfg.Defaults.UseRRF)

	assert.False(t, cfg.Profiles.Simple.EnableReranking)
	assert.True(t, cfg.Profiles.Complex.EnableMultiHop)

	require.NoError(t, cfg.Validate())
}

// =============================================================================
// Layering
// =============================================================================

func TestLoad_NoFiles_UsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, NewConfig().Fusion, cfg.Fusion)
}

func TestLoad_ProjectOverridesUser(t *testing.T) {
	// Given: a user config and a project config that disagree
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	userPath := filepath.Join(xdg, "rehydrate", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(userPath), 0o755))
	require.NoError(t, os.WriteFile(userPath, []byte(`
fusion:
  rrf_constant: 40
  lexical_weight: 0.5
packing:
  lambda: 0.6
`), 0o644))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(ProjectConfigPath(dir), []byte(`
fusion:
  rrf_constant: 80
retrieval:
  adapter_timeout: 2s
roles:
  coder:
    pinned:
      - "Never edit generated files."
    anchor_terms: [storage, vector]
`), 0o644))

	// When: loading
	cfg, err := Load(dir)
	require.NoError(t, err)

	// Then: project wins where both set, user survives elsewhere
	assert.Equal(t, 80, cfg.Fusion.RRFConstant)
	assert.Equal(t, 0.5, cfg.Fusion.LexicalWeight)
	assert.Equal(t, 1.0, cfg.Fusion.VectorWeight)
	assert.Equal(t, 0.6, cfg.Packing.Lambda)
	assert.Equal(t, 2*time.Second, cfg.Retrieval.AdapterTimeout)
	assert.Equal(t, []string{"Never edit generated files."}, cfg.Role("Coder").Pinned)
	assert.Equal(t, []string{"storage", "vector"}, cfg.Role("coder").AnchorTerms)
}

func TestLoad_ExplicitZeroWins(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(ProjectConfigPath(dir), []byte("fusion:\n  lexical_weight: 0\n"), 0o644))

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.Fusion.LexicalWeight)
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("REHYDRATE_RRF_CONSTANT", "30")
	t.Setenv("REHYDRATE_MMR_LAMBDA", "0.5")
	t.Setenv("REHYDRATE_ADAPTER_TIMEOUT", "750ms")
	t.Setenv("REHYDRATE_DEDUPE", "file")
	t.Setenv("REHYDRATE_BM25_BACKEND", "bleve")

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Fusion.RRFConstant)
	assert.Equal(t, 0.5, cfg.Packing.Lambda)
	assert.Equal(t, 750*time.Millisecond, cfg.Retrieval.AdapterTimeout)
	assert.Equal(t, DedupeFile, cfg.Defaults.Dedupe)
	assert.Equal(t, "bleve", cfg.Index.BM25Backend)
}

func TestLoad_BadEnvValue(t *testing.T) {
	isolate(t)
	t.Setenv("REHYDRATE_VECTOR_WEIGHT", "heavy")

	_, err := Load(t.TempDir())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "REHYDRATE_VECTOR_WEIGHT")
}

func TestLoad_MalformedYAML(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(ProjectConfigPath(dir), []byte("fusion: [unclosed"), 0o644))

	_, err := Load(dir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

// =============================================================================
// Validation
// =============================================================================

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero timeout", func(c *Config) { c.Retrieval.AdapterTimeout = 0 }, "adapter_timeout"},
		{"router order", func(c *Config) { c.Router.SimpleMax = 0.8 }, "router thresholds"},
		{"rrf constant", func(c *Config) { c.Fusion.RRFConstant = 0 }, "rrf_constant"},
		{"both weights zero", func(c *Config) { c.Fusion.VectorWeight, c.Fusion.LexicalWeight = 0, 0 }, "both be zero"},
		{"lambda", func(c *Config) { c.Packing.Lambda = 1.5 }, "packing.lambda"},
		{"shares", func(c *Config) { c.Budget.EvidenceMinShare = 0.9 }, "evidence_min_share"},
		{"share sum", func(c *Config) { c.Budget.RecentMaxShare = 0.3 }, "recent_max_share"},
		{"gate order", func(c *Config) { c.Gates.Coverage.Fail = 0.9 }, "gates.coverage"},
		{"dedupe", func(c *Config) { c.Defaults.Dedupe = "span" }, "dedupe"},
		{"expand", func(c *Config) { c.Defaults.ExpandQuery = "always" }, "expand_query"},
		{"stability", func(c *Config) { c.Defaults.Stability = -0.1 }, "stability"},
		{"backend", func(c *Config) { c.Index.BM25Backend = "lucene" }, "bm25_backend"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"top k", func(c *Config) { c.Profiles.Moderate.TopK = 0 }, "profiles.moderate.top_k"},
		{"pinned above cap", func(c *Config) { c.Budget.PinnedMaxTokens = 1000 }, "pinned_max_tokens"},
		{"pinned negative", func(c *Config) { c.Budget.PinnedMaxTokens = -1 }, "pinned_max_tokens"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_PinnedCapBoundary(t *testing.T) {
	cfg := NewConfig()
	cfg.Budget.PinnedMaxTokens = MaxPinnedTokens
	assert.NoError(t, cfg.Validate())

	cfg.Budget.PinnedMaxTokens = MaxPinnedTokens + 1
	assert.Error(t, cfg.Validate())
}

func TestValidate_ReportsFirstInvalidInFixedOrder(t *testing.T) {
	// Given: every profile and every gate invalid at once
	for range 20 {
		cfg := NewConfig()
		cfg.Profiles.Simple.TopK = 0
		cfg.Profiles.Moderate.TopK = 0
		cfg.Profiles.Complex.TopK = 0

		// Then: the same field is reported every time
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "profiles.simple.top_k")
	}
	for range 20 {
		cfg := NewConfig()
		for _, th := range []*Threshold{&cfg.Gates.Coverage, &cfg.Gates.Diversity, &cfg.Gates.EvidenceCount, &cfg.Gates.EvidenceShare} {
			th.Fail = th.Warn + 1
		}

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "gates.coverage")
	}
}

// =============================================================================
// Writing and backups
// =============================================================================

func TestWriteYAML_RoundTripsThroughLoadFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := NewConfig()
	cfg.Fusion.RRFConstant = 42
	cfg.Retrieval.AdapterTimeout = 1500 * time.Millisecond

	require.NoError(t, cfg.WriteYAML(path))
	loaded, err := LoadFile(path)

	require.NoError(t, err)
	assert.Equal(t, 42, loaded.Fusion.RRFConstant)
	assert.Equal(t, 1500*time.Millisecond, loaded.Retrieval.AdapterTimeout)
}

func TestBackupFile_PrunesOldest(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".rehydrate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o644))

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var last string
	for i := 0; i < MaxBackups+2; i++ {
		p, err := BackupFile(path, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		last = p
	}

	backups, err := ListBackups(path)
	require.NoError(t, err)
	assert.Len(t, backups, MaxBackups)
	assert.Equal(t, last, backups[0])
}

func TestBackupFile_MissingSource(t *testing.T) {
	p, err := BackupFile(filepath.Join(t.TempDir(), "absent.yaml"), time.Now())
	require.NoError(t, err)
	assert.Empty(t, p)
}
