package rehydrate

import (
	"fmt"
	"math"

	rerrors "github.com/Aman-CERP/rehydrate/internal/errors"
	"github.com/Aman-CERP/rehydrate/internal/search"
)

// FeatureFlags are the per-request kill switches.
type FeatureFlags = search.FeatureFlags

// ResolvedFlags are FeatureFlags with every default applied. EntityExpansion
// and Reranking stay nil when the routed profile decides.
type ResolvedFlags struct {
	UseRRF          bool              `json:"use_rrf"`
	Dedupe          search.DedupeMode `json:"dedupe"`
	ExpandQuery     search.ExpandMode `json:"expand_query"`
	Stability       float64           `json:"stability"`
	EntityExpansion *bool             `json:"entity_expansion,omitempty"`
	Reranking       *bool             `json:"reranking,omitempty"`
}

// asFlags turns the resolved values back into request flags, so a Query
// carries exactly what was resolved.
func (r ResolvedFlags) asFlags() FeatureFlags {
	return FeatureFlags{
		UseRRF:          search.Bool(r.UseRRF),
		Dedupe:          r.Dedupe,
		ExpandQuery:     r.ExpandQuery,
		Stability:       search.Float(r.Stability),
		EntityExpansion: r.EntityExpansion,
		Reranking:       r.Reranking,
	}
}

// ResolveFlags validates f and fills unset values from d. Unknown modes,
// a stability outside [0,1], and a stability given while entity expansion
// is explicitly off are InvalidFlags errors.
func ResolveFlags(f FeatureFlags, d Defaults) (ResolvedFlags, error) {
	r := ResolvedFlags{
		UseRRF:          d.UseRRF,
		Dedupe:          d.Dedupe,
		ExpandQuery:     d.ExpandQuery,
		Stability:       d.Stability,
		EntityExpansion: f.EntityExpansion,
		Reranking:       f.Reranking,
	}
	if f.UseRRF != nil {
		r.UseRRF = *f.UseRRF
	}
	if f.Dedupe != "" {
		r.Dedupe = f.Dedupe
	}
	if f.ExpandQuery != "" {
		r.ExpandQuery = f.ExpandQuery
	}
	if f.Stability != nil {
		r.Stability = *f.Stability
	}

	if !r.Dedupe.Valid() {
		return ResolvedFlags{}, rerrors.InvalidFlagsError(fmt.Sprintf(
			"dedupe must be %q or %q, got %q", search.DedupeFile, search.DedupeFileOverlap, r.Dedupe))
	}
	if !r.ExpandQuery.Valid() {
		return ResolvedFlags{}, rerrors.InvalidFlagsError(fmt.Sprintf(
			"expand_query must be %q or %q, got %q", search.ExpandAuto, search.ExpandOff, r.ExpandQuery))
	}
	if math.IsNaN(r.Stability) || r.Stability < 0 || r.Stability > 1 {
		return ResolvedFlags{}, rerrors.InvalidFlagsError(fmt.Sprintf(
			"stability must be between 0 and 1, got %v", r.Stability))
	}
	if f.Stability != nil && f.EntityExpansion != nil && !*f.EntityExpansion {
		return ResolvedFlags{}, rerrors.InvalidFlagsError(
			"stability only tunes entity expansion, which is disabled").
			WithSuggestion("Drop the stability flag or enable entity expansion")
	}
	return r, nil
}
