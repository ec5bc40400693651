package index

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRecords(t *testing.T) {
	// Given: two records, a blank line and a supplied embedding
	in := `{"id":"a","source_path":"pkg/a.go","span_start":1,"span_end":9,"text":"func A() {}","recency_timestamp":"2026-05-01T10:00:00Z","metadata":{"category":"implementation"}}

{"id":"b","source_path":"docs/b.md","span_start":3,"span_end":4,"text":"notes","embedding_ref":"shared","embedding":[0.5,0.5]}
`
	// When
	recs, err := ReadRecords(strings.NewReader(in))

	// Then
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "pkg/a.go", recs[0].SourcePath)
	assert.Equal(t, 2026, recs[0].RecencyTimestamp.Year())
	assert.Equal(t, "implementation", recs[0].Metadata["category"])
	assert.Equal(t, "shared", recs[1].EmbeddingKey())
	assert.Equal(t, []float32{0.5, 0.5}, recs[1].Embedding)
}

func TestReadRecords_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bad json", `{"id":`, "line 1"},
		{"missing id", `{"text":"x"}`, "chunk id is required"},
		{"duplicate", "{\"id\":\"a\"}\n{\"id\":\"a\"}", "duplicate chunk id"},
		{"inverted span", `{"id":"a","span_start":5,"span_end":2}`, "span_end 2 before span_start 5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadRecords(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"a","text":"x"}`+"\n"), 0o644))

	recs, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}
