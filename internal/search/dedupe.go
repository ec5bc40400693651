package search

import "slices"

// Reasons recorded in ScoredCandidate.DroppedBy.
const (
	DropSameFile = "dedupe:file"
	DropExact    = "dedupe:exact"
	DropOverlap  = "dedupe:overlap"
)

// DedupPair records one dropped candidate and the candidate it lost to.
type DedupPair struct {
	Dropped string `json:"dropped"`
	Kept    string `json:"kept"`
	Reason  string `json:"reason"`
}

// Dedupe walks cands in FinalScore order and marks redundant ones Dropped.
//
//   - DedupeFile keeps only the best candidate per source path.
//   - DedupeFileOverlap drops exact duplicates (same path and span) and
//     any candidate overlapping more than half of the shorter span of an
//     already kept candidate in the same file. Distinct regions survive.
//
// The returned slice holds every input candidate, dropped ones included,
// sorted by FinalScore. Candidates already marked dropped are left alone.
func Dedupe(cands []*ScoredCandidate, mode DedupeMode) ([]*ScoredCandidate, []DedupPair) {
	ordered := slices.Clone(cands)
	SortByFinal(ordered)

	kept := make(map[string][]*ScoredCandidate)
	var pairs []DedupPair
	for _, c := range ordered {
		if c.Dropped {
			continue
		}
		if c.Chunk == nil {
			continue
		}
		path := c.Chunk.SourcePath
		if winner, reason := redundantWith(c, kept[path], mode); winner != nil {
			c.Dropped = true
			c.DroppedBy = reason
			pairs = append(pairs, DedupPair{Dropped: c.ChunkID, Kept: winner.ChunkID, Reason: reason})
			continue
		}
		kept[path] = append(kept[path], c)
	}
	return ordered, pairs
}

func redundantWith(c *ScoredCandidate, sameFile []*ScoredCandidate, mode DedupeMode) (*ScoredCandidate, string) {
	if len(sameFile) == 0 {
		return nil, ""
	}
	if mode == DedupeFile {
		return sameFile[0], DropSameFile
	}
	for _, k := range sameFile {
		if k.Chunk.SpanStart == c.Chunk.SpanStart && k.Chunk.SpanEnd == c.Chunk.SpanEnd {
			return k, DropExact
		}
	}
	for _, k := range sameFile {
		if overlapsMajority(k, c) {
			return k, DropOverlap
		}
	}
	return nil, ""
}

// overlapsMajority reports whether the spans share more than half of the
// shorter one.
func overlapsMajority(a, b *ScoredCandidate) bool {
	lo := max(a.Chunk.SpanStart, b.Chunk.SpanStart)
	hi := min(a.Chunk.SpanEnd, b.Chunk.SpanEnd)
	if hi < lo {
		return false
	}
	shorter := min(a.Chunk.SpanLen(), b.Chunk.SpanLen())
	if shorter == 0 {
		return false
	}
	return 2*(hi-lo+1) > shorter
}
