package bundle

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderText(t *testing.T) {
	b := ContextBundle{
		Pinned:       []Item{{Text: "never log secrets"}},
		AnchorPriors: []string{"cfg", "hidden-prior"},
		Evidence:     []Item{{SourcePath: "store/hnsw.go", SpanStart: 10, SpanEnd: 20, Text: "func Add()"}},
		Recent:       []Item{{SourcePath: "notes.md", SpanStart: 1, SpanEnd: 1, Text: "shipped"}},
	}

	got := RenderText(b)

	want := "### PINNED\nnever log secrets\n" +
		"### EVIDENCE\n--- store/hnsw.go:10-20\nfunc Add()\n" +
		"### RECENT\n--- notes.md:1-1\nshipped\n"
	assert.Equal(t, want, got)
	assert.NotContains(t, got, "hidden-prior")
}

func TestRenderText_EmptyBundleKeepsHeaders(t *testing.T) {
	got := RenderText(ContextBundle{})
	assert.Equal(t, "### PINNED\n### EVIDENCE\n### RECENT\n", got)
	assert.Equal(t, HeaderCost(), EstimateTokens(headerPinned)+EstimateTokens(headerEvidence)+EstimateTokens(headerRecent))
}

func TestRenderJSON(t *testing.T) {
	b := ContextBundle{Role: "coder", Budget: 100, Evidence: []Item{{ChunkID: "a", Text: "x", Tokens: 3}}}

	data, err := RenderJSON(b)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "coder", decoded["role"])
	assert.Contains(t, decoded, "verdict")
	assert.Contains(t, decoded, "evidence")
}
