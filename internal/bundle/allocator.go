package bundle

import (
	"fmt"

	rerrors "github.com/Aman-CERP/rehydrate/internal/errors"
)

// Budget defaults. DefaultPinnedMaxTokens is also the ceiling: a larger
// pinned cap is clamped to it.
const (
	DefaultPinnedMaxTokens  = 200
	DefaultEvidenceMinShare = 0.5
	DefaultEvidenceMaxShare = 0.8
	DefaultRecentMaxShare   = 0.1
)

// AllocatorConfig sets the slot shares.
type AllocatorConfig struct {
	PinnedMaxTokens  int
	EvidenceMinShare float64
	EvidenceMaxShare float64
	RecentMaxShare   float64
}

// DefaultAllocatorConfig returns 200 pinned tokens and 50/80/10 shares.
func DefaultAllocatorConfig() AllocatorConfig {
	return AllocatorConfig{
		PinnedMaxTokens:  DefaultPinnedMaxTokens,
		EvidenceMinShare: DefaultEvidenceMinShare,
		EvidenceMaxShare: DefaultEvidenceMaxShare,
		RecentMaxShare:   DefaultRecentMaxShare,
	}
}

// Allocation is the per-slot token plan for one budget.
type Allocation struct {
	Budget      int `json:"budget"`
	Header      int `json:"header"`
	Pinned      int `json:"pinned"`
	EvidenceMax int `json:"evidence_max"`
	// EvidenceMin is advisory: a bundle below it is reported, not rejected.
	EvidenceMin int `json:"evidence_min"`
	RecentMax   int `json:"recent_max"`
}

// Allocator splits a token budget across the bundle slots.
type Allocator struct {
	cfg AllocatorConfig
}

// NewAllocator creates an allocator. Zero fields take defaults and the
// pinned cap never exceeds DefaultPinnedMaxTokens.
func NewAllocator(cfg AllocatorConfig) *Allocator {
	def := DefaultAllocatorConfig()
	if cfg.PinnedMaxTokens <= 0 || cfg.PinnedMaxTokens > DefaultPinnedMaxTokens {
		cfg.PinnedMaxTokens = def.PinnedMaxTokens
	}
	if cfg.EvidenceMinShare <= 0 {
		cfg.EvidenceMinShare = def.EvidenceMinShare
	}
	if cfg.EvidenceMaxShare <= 0 {
		cfg.EvidenceMaxShare = def.EvidenceMaxShare
	}
	if cfg.RecentMaxShare < 0 {
		cfg.RecentMaxShare = def.RecentMaxShare
	}
	return &Allocator{cfg: cfg}
}

// Allocate plans budget for the given pinned texts. Pinned costs more than
// the pinned cap, or pinned plus headers exceeding the budget, is a
// BudgetConfigError.
func (a *Allocator) Allocate(budget int, pinned []string) (Allocation, error) {
	if budget <= 0 {
		return Allocation{}, rerrors.BudgetConfigError(fmt.Sprintf("token budget must be positive, got %d", budget))
	}

	pinnedCost := 0
	for _, p := range pinned {
		pinnedCost += PinnedCost(p)
	}
	if pinnedCost > a.cfg.PinnedMaxTokens {
		return Allocation{}, rerrors.BudgetConfigError(fmt.Sprintf(
			"pinned invariants need %d tokens, cap is %d", pinnedCost, a.cfg.PinnedMaxTokens))
	}

	header := HeaderCost()
	if header+pinnedCost > budget {
		return Allocation{}, rerrors.BudgetConfigError(fmt.Sprintf(
			"pinned invariants and headers need %d tokens, budget is %d", header+pinnedCost, budget))
	}

	free := budget - header - pinnedCost
	return Allocation{
		Budget:      budget,
		Header:      header,
		Pinned:      pinnedCost,
		EvidenceMax: min(share(budget, a.cfg.EvidenceMaxShare), free),
		EvidenceMin: share(budget, a.cfg.EvidenceMinShare),
		RecentMax:   min(share(budget, a.cfg.RecentMaxShare), free),
	}, nil
}

func share(budget int, s float64) int {
	return int(float64(budget) * s)
}
