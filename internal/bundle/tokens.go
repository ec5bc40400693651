package bundle

import (
	"strconv"
	"strings"

	"github.com/Aman-CERP/rehydrate/internal/store"
)

// EstimateTokens approximates the token count of text at four bytes per
// token, rounded up. Packer, allocator and gates all use it so budgets
// agree. Because it rounds up, the sum over pieces is never less than the
// estimate of their concatenation.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// Section headers in the text rendering.
const (
	headerPinned   = "### PINNED\n"
	headerEvidence = "### EVIDENCE\n"
	headerRecent   = "### RECENT\n"
)

// HeaderCost is the fixed cost of the three section headers.
func HeaderCost() int {
	return EstimateTokens(headerPinned) + EstimateTokens(headerEvidence) + EstimateTokens(headerRecent)
}

// renderPinned renders a pinned invariant.
func renderPinned(text string) string { return text + "\n" }

// renderChunk renders an evidence or recent item as
// "--- path:start-end\n<text>\n".
func renderChunk(path string, start, end int, text string) string {
	var b strings.Builder
	b.Grow(len(path) + len(text) + 24)
	b.WriteString("--- ")
	b.WriteString(path)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(start))
	b.WriteByte('-')
	b.WriteString(strconv.Itoa(end))
	b.WriteByte('\n')
	b.WriteString(text)
	b.WriteByte('\n')
	return b.String()
}

// PinnedCost is the rendered cost of one pinned text.
func PinnedCost(text string) int { return EstimateTokens(renderPinned(text)) }

// ChunkCost is the rendered cost of one evidence or recent chunk.
func ChunkCost(path string, start, end int, text string) int {
	return EstimateTokens(renderChunk(path, start, end, text))
}

// StoredChunkCost is the cost charged for a stored chunk: the estimate, or
// the indexed token count plus the header line when that is larger.
func StoredChunkCost(ch *store.Chunk) int {
	est := ChunkCost(ch.SourcePath, ch.SpanStart, ch.SpanEnd, ch.Text)
	if ch.TokenCount <= 0 {
		return est
	}
	header := EstimateTokens(renderChunk(ch.SourcePath, ch.SpanStart, ch.SpanEnd, ""))
	return max(est, ch.TokenCount+header)
}
