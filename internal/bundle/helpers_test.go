package bundle

import (
	"strings"

	"github.com/Aman-CERP/rehydrate/internal/search"
	"github.com/Aman-CERP/rehydrate/internal/store"
)

func candidate(id, path string, start, end int, score float64, text string, emb []float32) *search.ScoredCandidate {
	return &search.ScoredCandidate{
		ChunkID:    id,
		FusedScore: score,
		FinalScore: score,
		Chunk:      &store.Chunk{ID: id, SourcePath: path, SpanStart: start, SpanEnd: end, Text: text},
		Embedding:  emb,
	}
}

// textOfTokens returns text whose rendered chunk cost is close to n.
func textOfTokens(n int) string {
	return strings.Repeat("word", n)
}

func packedIDs(p []PackedChunk) []string {
	out := make([]string, len(p))
	for i, c := range p {
		out[i] = c.Candidate.ChunkID
	}
	return out
}

func itemIDs(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ChunkID
	}
	return out
}
