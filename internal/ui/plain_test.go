package ui

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainRenderer_UpdateProgress_Format(t *testing.T) {
	tests := []struct {
		name string
		ev   ProgressEvent
		want string
	}{
		{"count and message", ProgressEvent{Stage: StageEmbedding, Current: 32, Total: 100, Message: "batch"}, "[EMBED] 32/100 - batch\n"},
		{"count only", ProgressEvent{Stage: StageStoring, Current: 2, Total: 3}, "[STORE] 2/3\n"},
		{"message only", ProgressEvent{Stage: StageLoading, Message: "chunks.jsonl"}, "[LOAD] chunks.jsonl\n"},
		{"nothing to say", ProgressEvent{Stage: StageLoading}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			r := NewPlainRenderer(NewConfig(buf))

			r.UpdateProgress(tt.ev)

			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestPlainRenderer_NoANSICodes(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))
	require.NoError(t, r.Start(context.Background()))

	// When: rendering every stage and completing
	for _, s := range []Stage{StageLoading, StageEmbedding, StageStoring} {
		r.UpdateProgress(ProgressEvent{Stage: s, Current: 1, Total: 2, Message: "working"})
	}
	r.Complete(CompletionStats{Chunks: 4, Embedded: 4, Embed: time.Second, Store: time.Second})
	require.NoError(t, r.Stop())

	// Then
	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestPlainRenderer_Complete(t *testing.T) {
	// Given
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: completing a run that embedded 10 chunks in 2s
	r.Complete(CompletionStats{
		Chunks: 12, Embedded: 10, Supplied: 2,
		Embed: 2 * time.Second, Store: 150 * time.Millisecond,
		Model: "static-hash", Dimensions: 256,
	})

	// Then: timings, throughput and embedder are reported
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[DONE] embed 2s, store 150ms (5.0 chunks/sec)", lines[0])
	assert.Equal(t, "Embedder: static-hash (256 dims)", lines[1])
}

func TestPlainRenderer_CompleteWithoutEmbedding(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.Complete(CompletionStats{Chunks: 3, Supplied: 3, Store: 5 * time.Millisecond})

	assert.Equal(t, "[DONE] embed 0s, store 5ms\n", buf.String())
}
