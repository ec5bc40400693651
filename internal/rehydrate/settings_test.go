package rehydrate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/rehydrate/internal/config"
	"github.com/Aman-CERP/rehydrate/internal/search"
)

func TestSettingsFromConfig(t *testing.T) {
	// Given: a config with a role, a breaker and custom fusion weights
	cfg := config.NewConfig()
	cfg.Roles["Reviewer"] = config.RoleConfig{Pinned: []string{"be kind"}, Anchors: []string{"a1"}}
	cfg.Retrieval.CircuitBreaker.Enabled = true
	cfg.Fusion.LexicalWeight = 0.5

	// When
	s := SettingsFromConfig(cfg)

	// Then
	assert.Equal(t, 5*time.Second, s.AdapterTimeout)
	assert.Equal(t, s.AdapterTimeout, s.Expansion.Timeout)
	assert.Equal(t, search.Weights{Vector: 1, Lexical: 0.5}, s.Weights)
	assert.Equal(t, search.ProfileComplex, s.Profiles.Complex.Name)
	assert.True(t, s.Profiles.Complex.EnableMultiHop)
	assert.Equal(t, []string{"be kind"}, s.role("reviewer").Pinned)
	assert.Equal(t, []string{"a1"}, s.role("REVIEWER").Anchors)
	require.NotNil(t, s.CircuitBreaker)
	assert.Equal(t, 5, s.CircuitBreaker.MaxFailures)
}

func TestDefaultSettings_BreakerOff(t *testing.T) {
	s := DefaultSettings()

	assert.Nil(t, s.CircuitBreaker)
	assert.True(t, s.Defaults.UseRRF)
	assert.Equal(t, search.DedupeFileOverlap, s.Defaults.Dedupe)
	assert.Equal(t, 60, s.RRFConstant)
	assert.Equal(t, 2, s.ExpansionBaseK)
	assert.Empty(t, s.role("coder").Pinned)
}
