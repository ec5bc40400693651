package search

import (
	"strings"

	"github.com/Aman-CERP/rehydrate/internal/store"
)

// Lexical query expansion limits.
const (
	DefaultMaxSynonyms    = 3
	DefaultMaxAnchorTerms = 8
)

// TermExpander widens the lexical query with code synonyms and the role's
// anchor terms. The vector query is never expanded.
type TermExpander struct {
	synonyms    map[string][]string
	maxSynonyms int
	maxAnchors  int
	stop        map[string]struct{}
}

// TermExpanderOption configures a TermExpander.
type TermExpanderOption func(*TermExpander)

// WithMaxSynonyms caps synonyms added per query term.
func WithMaxSynonyms(n int) TermExpanderOption {
	return func(e *TermExpander) { e.maxSynonyms = n }
}

// WithMaxAnchorTerms caps anchor terms added per query.
func WithMaxAnchorTerms(n int) TermExpanderOption {
	return func(e *TermExpander) { e.maxAnchors = n }
}

// WithSynonyms adds to the synonym table.
func WithSynonyms(extra map[string][]string) TermExpanderOption {
	return func(e *TermExpander) {
		for k, v := range extra {
			k = strings.ToLower(k)
			e.synonyms[k] = append(e.synonyms[k], v...)
		}
	}
}

// NewTermExpander creates an expander over CodeSynonyms.
func NewTermExpander(opts ...TermExpanderOption) *TermExpander {
	e := &TermExpander{
		synonyms:    make(map[string][]string, len(CodeSynonyms)),
		maxSynonyms: DefaultMaxSynonyms,
		maxAnchors:  DefaultMaxAnchorTerms,
		stop:        store.BuildStopWordMap(store.DefaultCodeStopWords),
	}
	for k, v := range CodeSynonyms {
		e.synonyms[k] = v
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expansion is the result of expanding one query.
type Expansion struct {
	// Query is the text sent to the lexical searcher.
	Query string
	// Priors are the terms added beyond the raw text, in order. They are
	// reported with the bundle but never rendered into it.
	Priors []string
}

// Expand returns the lexical query for raw. With ExpandOff the raw text is
// returned as is. With ExpandAuto it is followed by up to maxSynonyms
// synonyms per query term and up to maxAnchors anchor terms, each added
// once.
func (e *TermExpander) Expand(raw string, anchorTerms []string, mode ExpandMode) Expansion {
	if mode == ExpandOff {
		return Expansion{Query: raw}
	}

	terms := store.UniqueTerms(raw, e.stop)
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		seen[t] = struct{}{}
	}

	var priors []string
	add := func(term string) bool {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			return false
		}
		if _, dup := seen[term]; dup {
			return false
		}
		seen[term] = struct{}{}
		priors = append(priors, term)
		return true
	}

	for _, t := range terms {
		added := 0
		for _, syn := range e.synonyms[t] {
			if added == e.maxSynonyms {
				break
			}
			if add(syn) {
				added++
			}
		}
	}

	anchors := 0
	for _, a := range anchorTerms {
		if anchors == e.maxAnchors {
			break
		}
		if add(a) {
			anchors++
		}
	}

	if len(priors) == 0 {
		return Expansion{Query: raw}
	}
	return Expansion{Query: raw + " " + strings.Join(priors, " "), Priors: priors}
}
