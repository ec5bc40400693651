package bundle

import (
	"encoding/json"
	"strings"
)

// RenderText renders the bundle as plain text:
//
//	### PINNED
//	<pinned text>
//	### EVIDENCE
//	--- path:start-end
//	<text>
//	### RECENT
//	--- path:start-end
//	<text>
//
// Headers appear even for empty slots. Anchor priors are not rendered.
func RenderText(b ContextBundle) string {
	var sb strings.Builder
	sb.WriteString(headerPinned)
	for _, it := range b.Pinned {
		sb.WriteString(renderPinned(it.Text))
	}
	sb.WriteString(headerEvidence)
	for _, it := range b.Evidence {
		sb.WriteString(renderChunk(it.SourcePath, it.SpanStart, it.SpanEnd, it.Text))
	}
	sb.WriteString(headerRecent)
	for _, it := range b.Recent {
		sb.WriteString(renderChunk(it.SourcePath, it.SpanStart, it.SpanEnd, it.Text))
	}
	return sb.String()
}

// RenderJSON renders the bundle as indented JSON.
func RenderJSON(b ContextBundle) ([]byte, error) {
	return json.MarshalIndent(b, "", "  ")
}
