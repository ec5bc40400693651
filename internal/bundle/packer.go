package bundle

import (
	"math"

	"github.com/Aman-CERP/rehydrate/internal/search"
)

// DefaultLambda weighs relevance against novelty in MMR.
const DefaultLambda = 0.7

// Pack greedily selects candidates by Maximal Marginal Relevance:
//
//	mmr = lambda*FinalScore - (1-lambda)*max cosine(selected)
//
// Ties go to higher raw vector score, then smaller chunk ID. Dropped and
// unhydrated candidates are never selected. Packing stops as soon as the
// best remaining candidate does not fit in budgetTokens, so a lower ranked
// small chunk never jumps ahead of a better one.
func Pack(cands []*search.ScoredCandidate, budgetTokens int, lambda float64) []PackedChunk {
	type entry struct {
		c      *search.ScoredCandidate
		cost   int
		maxSim float64
		taken  bool
	}

	pool := make([]*entry, 0, len(cands))
	for _, c := range cands {
		if c.Dropped || c.Chunk == nil {
			continue
		}
		pool = append(pool, &entry{
			c:    c,
			cost: StoredChunkCost(c.Chunk),
		})
	}

	out := []PackedChunk{}
	remaining := budgetTokens
	for range pool {
		var (
			best    *entry
			bestMMR float64
		)
		for _, e := range pool {
			if e.taken {
				continue
			}
			mmr := lambda*e.c.FinalScore - (1-lambda)*e.maxSim
			if best == nil || better(mmr, e.c, bestMMR, best.c) {
				best, bestMMR = e, mmr
			}
		}
		if best == nil || best.cost > remaining {
			break
		}

		best.taken = true
		remaining -= best.cost
		out = append(out, PackedChunk{Candidate: best.c, Cost: best.cost, MMR: bestMMR})

		for _, e := range pool {
			if !e.taken {
				e.maxSim = max(e.maxSim, cosine(e.c.Embedding, best.c.Embedding))
			}
		}
	}
	return out
}

func better(mmr float64, c *search.ScoredCandidate, bestMMR float64, b *search.ScoredCandidate) bool {
	if mmr != bestMMR {
		return mmr > bestMMR
	}
	if c.VectorScore != b.VectorScore {
		return c.VectorScore > b.VectorScore
	}
	return c.ChunkID < b.ChunkID
}

// cosine returns the cosine similarity of a and b, or 0 if either is
// missing, zero or of a different length.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
