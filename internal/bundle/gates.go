package bundle

import (
	"github.com/Aman-CERP/rehydrate/internal/store"
)

// Status is a gate outcome. Order matters: later is worse.
type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

func (s Status) rank() int {
	switch s {
	case StatusWarn:
		return 1
	case StatusFail:
		return 2
	default:
		return 0
	}
}

// Gate names.
const (
	GateCoverage      = "coverage"
	GateDiversity     = "diversity"
	GateEvidenceCount = "evidence_count"
	GateEvidenceShare = "evidence_share"
)

// Threshold is a soft/hard pair. A value below Warn warns; below Fail
// fails. A zero Fail never fails.
type Threshold struct {
	Warn float64 `json:"warn"`
	Fail float64 `json:"fail"`
}

// GateConfig holds one threshold per gate.
type GateConfig struct {
	Coverage      Threshold
	Diversity     Threshold
	EvidenceCount Threshold
	EvidenceShare Threshold
}

// DefaultGateConfig returns the built-in thresholds.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		Coverage:      Threshold{Warn: 0.5, Fail: 0.15},
		Diversity:     Threshold{Warn: 0.3, Fail: 0.1},
		EvidenceCount: Threshold{Warn: 2, Fail: 1},
		EvidenceShare: Threshold{Warn: 0.5},
	}
}

// Check is one evaluated gate.
type Check struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Warn   float64 `json:"warn"`
	Fail   float64 `json:"fail"`
	Status Status  `json:"status"`
}

// Verdict is the worst check status plus every check.
type Verdict struct {
	Status Status  `json:"status"`
	Checks []Check `json:"checks"`
}

// Failed reports a hard failure.
func (v Verdict) Failed() bool { return v.Status == StatusFail }

// Failing returns the names of failed checks.
func (v Verdict) Failing() []string {
	var out []string
	for _, c := range v.Checks {
		if c.Status == StatusFail {
			out = append(out, c.Name)
		}
	}
	return out
}

// Gates grades a bundle.
type Gates struct {
	cfg  GateConfig
	stop map[string]struct{}
}

// NewGates creates gates with cfg.
func NewGates(cfg GateConfig) *Gates {
	return &Gates{cfg: cfg, stop: store.BuildStopWordMap(store.DefaultCodeStopWords)}
}

// Evaluate grades b against the query text:
//
//   - coverage: share of query terms found in evidence (1 with no terms)
//   - diversity: distinct evidence paths / evidence items
//   - evidence_count: number of evidence items
//   - evidence_share: evidence tokens / budget
func (g *Gates) Evaluate(b ContextBundle, query string) Verdict {
	checks := []Check{
		grade(GateCoverage, g.coverage(b, query), g.cfg.Coverage),
		grade(GateDiversity, diversity(b), g.cfg.Diversity),
		grade(GateEvidenceCount, float64(len(b.Evidence)), g.cfg.EvidenceCount),
		grade(GateEvidenceShare, evidenceShare(b), g.cfg.EvidenceShare),
	}
	v := Verdict{Status: StatusPass, Checks: checks}
	for _, c := range checks {
		if c.Status.rank() > v.Status.rank() {
			v.Status = c.Status
		}
	}
	return v
}

func grade(name string, value float64, t Threshold) Check {
	c := Check{Name: name, Value: value, Warn: t.Warn, Fail: t.Fail, Status: StatusPass}
	switch {
	case value < t.Fail:
		c.Status = StatusFail
	case value < t.Warn:
		c.Status = StatusWarn
	}
	return c
}

func (g *Gates) coverage(b ContextBundle, query string) float64 {
	terms := store.UniqueTerms(query, g.stop)
	if len(terms) == 0 {
		return 1
	}
	present := make(map[string]struct{})
	for _, it := range b.Evidence {
		for _, t := range store.TokenizeCode(it.Text + " " + it.SourcePath) {
			present[t] = struct{}{}
		}
	}
	hit := 0
	for _, t := range terms {
		if _, ok := present[t]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(terms))
}

func diversity(b ContextBundle) float64 {
	if len(b.Evidence) == 0 {
		return 0
	}
	paths := make(map[string]struct{}, len(b.Evidence))
	for _, it := range b.Evidence {
		paths[it.SourcePath] = struct{}{}
	}
	return float64(len(paths)) / float64(len(b.Evidence))
}

func evidenceShare(b ContextBundle) float64 {
	if b.Budget <= 0 {
		return 0
	}
	return float64(b.EvidenceTokens()) / float64(b.Budget)
}
