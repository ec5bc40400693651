package bundle

import (
	"cmp"
	"slices"

	"github.com/Aman-CERP/rehydrate/internal/store"
)

// Assembler fills the four bundle slots within an allocation.
type Assembler struct {
	alloc *Allocator
}

// NewAssembler creates an assembler using alloc for budget planning.
func NewAssembler(alloc *Allocator) *Assembler {
	return &Assembler{alloc: alloc}
}

// Assemble builds the bundle.
//
//   - Pinned texts go in verbatim and are never truncated.
//   - Evidence is ordered by FinalScore and trimmed lowest score first to
//     the evidence cap.
//   - Recent chunks already in evidence are removed; the rest are ordered
//     newest first and trimmed oldest first to the recent cap.
//   - Finally recent, then evidence, items are dropped from the tail until
//     the total fits the budget.
//
// A budget the pinned slot cannot fit in is a BudgetConfigError.
func (a *Assembler) Assemble(evidence []PackedChunk, pinned []string, recent []*store.Chunk, budget int) (ContextBundle, error) {
	alloc, err := a.alloc.Allocate(budget, pinned)
	if err != nil {
		return ContextBundle{}, err
	}

	b := ContextBundle{
		Budget:       budget,
		Allocation:   alloc,
		Pinned:       make([]Item, 0, len(pinned)),
		AnchorPriors: []string{},
	}
	for _, p := range pinned {
		b.Pinned = append(b.Pinned, Item{Text: p, Tokens: PinnedCost(p)})
	}

	b.Evidence = evidenceItems(evidence)
	b.Evidence = trimTail(b.Evidence, alloc.EvidenceMax)

	inEvidence := make(map[string]struct{}, len(b.Evidence))
	for _, it := range b.Evidence {
		inEvidence[it.ChunkID] = struct{}{}
	}
	b.Recent = recentItems(recent, inEvidence)
	b.Recent = trimTail(b.Recent, alloc.RecentMax)

	for total(b) > budget {
		switch {
		case len(b.Recent) > 0:
			b.Recent = b.Recent[:len(b.Recent)-1]
		case len(b.Evidence) > 0:
			b.Evidence = b.Evidence[:len(b.Evidence)-1]
		default:
			// Unreachable: Allocate guarantees header+pinned fits.
			return b, nil
		}
	}
	b.UsedTokens = total(b)
	return b, nil
}

func evidenceItems(packed []PackedChunk) []Item {
	ordered := slices.Clone(packed)
	slices.SortStableFunc(ordered, func(x, y PackedChunk) int {
		a, b := x.Candidate, y.Candidate
		if c := cmp.Compare(b.FinalScore, a.FinalScore); c != 0 {
			return c
		}
		if c := cmp.Compare(b.VectorScore, a.VectorScore); c != 0 {
			return c
		}
		return cmp.Compare(a.ChunkID, b.ChunkID)
	})

	items := make([]Item, 0, len(ordered))
	for _, p := range ordered {
		ch := p.Candidate.Chunk
		items = append(items, Item{
			ChunkID:    p.Candidate.ChunkID,
			SourcePath: ch.SourcePath,
			SpanStart:  ch.SpanStart,
			SpanEnd:    ch.SpanEnd,
			Text:       ch.Text,
			Tokens:     p.Cost,
			Score:      p.Candidate.FinalScore,
		})
	}
	return items
}

// recentItems orders chunks newest first (ties by ID), skips those in
// evidence and scores them by position so the oldest scores lowest.
func recentItems(chunks []*store.Chunk, skip map[string]struct{}) []Item {
	ordered := make([]*store.Chunk, 0, len(chunks))
	seen := make(map[string]struct{}, len(chunks))
	for _, ch := range chunks {
		if ch == nil {
			continue
		}
		if _, dup := skip[ch.ID]; dup {
			continue
		}
		if _, dup := seen[ch.ID]; dup {
			continue
		}
		seen[ch.ID] = struct{}{}
		ordered = append(ordered, ch)
	}
	slices.SortStableFunc(ordered, func(a, b *store.Chunk) int {
		if c := b.RecencyTimestamp.Compare(a.RecencyTimestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	items := make([]Item, 0, len(ordered))
	for i, ch := range ordered {
		items = append(items, Item{
			ChunkID:    ch.ID,
			SourcePath: ch.SourcePath,
			SpanStart:  ch.SpanStart,
			SpanEnd:    ch.SpanEnd,
			Text:       ch.Text,
			Tokens:     StoredChunkCost(ch),
			Score:      1 - float64(i)/float64(len(ordered)),
		})
	}
	return items
}

// trimTail drops items from the end of a score-ordered slice until the
// slot fits its cap.
func trimTail(items []Item, capTokens int) []Item {
	for len(items) > 0 && sumTokens(items) > capTokens {
		items = items[:len(items)-1]
	}
	return items
}

func total(b ContextBundle) int {
	return b.Allocation.Header + sumTokens(b.Pinned) + sumTokens(b.Evidence) + sumTokens(b.Recent)
}
