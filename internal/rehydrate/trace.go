package rehydrate

import (
	"encoding/json"
	"fmt"

	"github.com/Aman-CERP/rehydrate/internal/bundle"
	"github.com/Aman-CERP/rehydrate/internal/search"
)

// Trace stage names.
const (
	StageRoute     = "route"
	StageVector    = "vector"
	StageLexical   = "lexical"
	StageFusion    = "fusion"
	StageHydrate   = "hydrate"
	StagePreFilter = "prefilter"
	StageExpand    = "expand"
	StageMultiHop  = "multihop"
	StageRerank    = "rerank"
	StageDedupe    = "dedupe"
	StagePack      = "pack"
	StageRecent    = "recent"
	StageAssemble  = "assemble"
	StageGates     = "gates"
)

// TraceEvent is one notable thing that happened during a rehydration.
type TraceEvent struct {
	Stage   string         `json:"stage"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// StageCount is the number of candidates leaving a stage.
type StageCount struct {
	Stage string `json:"stage"`
	Count int    `json:"count"`
}

// Trace records how a bundle was built. It only grows: Add and Count
// append, nothing is rewritten.
type Trace struct {
	Query       string                  `json:"query"`
	Role        string                  `json:"role"`
	Entities    []string                `json:"entities"`
	Complexity  float64                 `json:"complexity"`
	Profile     search.RetrievalProfile `json:"profile"`
	FusionMode  search.FusionMode       `json:"fusion_mode,omitempty"`
	LexicalText string                  `json:"lexical_query,omitempty"`
	Flags       ResolvedFlags           `json:"flags"`

	StageCounts []StageCount         `json:"stage_counts"`
	Events      []TraceEvent         `json:"events"`
	DedupPairs  []search.DedupPair   `json:"dedup_pairs"`
	Expansion   []search.ExpandStats `json:"expansion,omitempty"`
	Timeouts    []string             `json:"timeouts"`
	Unavailable []string             `json:"unavailable"`
	Orphans     []string             `json:"orphans"`

	Verdict bundle.Verdict `json:"verdict"`
}

func newTrace(role, query string) *Trace {
	return &Trace{
		Query:       query,
		Role:        role,
		Entities:    []string{},
		StageCounts: []StageCount{},
		Events:      []TraceEvent{},
		DedupPairs:  []search.DedupPair{},
		Timeouts:    []string{},
		Unavailable: []string{},
		Orphans:     []string{},
	}
}

// Add appends an event. kv are alternating string keys and values, the
// same shape slog takes; a trailing odd value is stored under "!BADKEY".
func (t *Trace) Add(stage, msg string, kv ...any) {
	ev := TraceEvent{Stage: stage, Message: msg}
	if len(kv) > 0 {
		ev.Attrs = make(map[string]any, (len(kv)+1)/2)
		for i := 0; i < len(kv); i += 2 {
			if i+1 == len(kv) {
				ev.Attrs["!BADKEY"] = kv[i]
				break
			}
			ev.Attrs[fmt.Sprint(kv[i])] = kv[i+1]
		}
	}
	t.Events = append(t.Events, ev)
}

// Count appends a stage count.
func (t *Trace) Count(stage string, n int) {
	t.StageCounts = append(t.StageCounts, StageCount{Stage: stage, Count: n})
}

// StageCount returns the last count recorded for stage.
func (t *Trace) StageCount(stage string) (int, bool) {
	for i := len(t.StageCounts) - 1; i >= 0; i-- {
		if t.StageCounts[i].Stage == stage {
			return t.StageCounts[i].Count, true
		}
	}
	return 0, false
}

// EventsFor returns the events recorded for stage, in order.
func (t *Trace) EventsFor(stage string) []TraceEvent {
	var out []TraceEvent
	for _, ev := range t.Events {
		if ev.Stage == stage {
			out = append(out, ev)
		}
	}
	return out
}

// JSON renders the trace.
func (t *Trace) JSON() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}
