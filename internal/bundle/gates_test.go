package bundle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evidence(path, text string, tokens int) Item {
	return Item{ChunkID: path, SourcePath: path, Text: text, Tokens: tokens}
}

func checkByName(t *testing.T, v Verdict, name string) Check {
	t.Helper()
	for _, c := range v.Checks {
		if c.Name == name {
			return c
		}
	}
	require.Failf(t, "missing check", name)
	return Check{}
}

func TestGates_Pass(t *testing.T) {
	// Given: diverse evidence covering every query term and half the budget
	b := ContextBundle{
		Budget: 100,
		Evidence: []Item{
			evidence("store/hybrid.go", "type HybridVectorStore struct", 30),
			evidence("store/vector.go", "func implement vector search", 30),
		},
	}

	v := NewGates(DefaultGateConfig()).Evaluate(b, "implement HybridVectorStore")

	assert.Equal(t, StatusPass, v.Status)
	assert.InDelta(t, 1.0, checkByName(t, v, GateCoverage).Value, 1e-9)
	assert.False(t, v.Failed())
}

func TestGates_EmptyEvidenceFails(t *testing.T) {
	v := NewGates(DefaultGateConfig()).Evaluate(ContextBundle{Budget: 100}, "find the router")

	assert.True(t, v.Failed())
	assert.ElementsMatch(t, []string{GateCoverage, GateDiversity, GateEvidenceCount}, v.Failing())
	assert.Equal(t, StatusWarn, checkByName(t, v, GateEvidenceShare).Status)
}

func TestGates_LowDiversityWarns(t *testing.T) {
	// Given: four chunks from one file, full coverage
	var items []Item
	for range 4 {
		items = append(items, evidence("one.go", "router profile", 20))
	}
	b := ContextBundle{Budget: 100, Evidence: items}

	v := NewGates(DefaultGateConfig()).Evaluate(b, "router profile")

	assert.Equal(t, StatusWarn, checkByName(t, v, GateDiversity).Status)
	assert.Equal(t, StatusWarn, v.Status)
}

func TestGates_QueryWithoutTermsHasFullCoverage(t *testing.T) {
	b := ContextBundle{Budget: 10, Evidence: []Item{evidence("a.go", "x", 5), evidence("b.go", "y", 5)}}

	v := NewGates(DefaultGateConfig()).Evaluate(b, "the and")

	assert.Equal(t, 1.0, checkByName(t, v, GateCoverage).Value)
}

func TestGates_EvidenceShareNeverFails(t *testing.T) {
	b := ContextBundle{Budget: 1000, Evidence: []Item{evidence("a.go", "router", 1), evidence("b.go", "router", 1)}}

	v := NewGates(DefaultGateConfig()).Evaluate(b, "router")

	assert.Equal(t, StatusWarn, checkByName(t, v, GateEvidenceShare).Status)
	assert.False(t, v.Failed())
}
