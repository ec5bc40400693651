package ui

import (
	"sync"
	"time"
)

// etaSmoothing weighs a new ETA sample against the previous one.
const etaSmoothing = 0.3

// ProgressTracker holds progress state across stages. It is safe for
// concurrent use.
type ProgressTracker struct {
	mu         sync.Mutex
	stage      Stage
	current    int
	total      int
	message    string
	stageStart time.Time
	lastETA    time.Duration
	now        func() time.Time
}

// ProgressStats is a snapshot of a tracker.
type ProgressStats struct {
	Stage    Stage
	Current  int
	Total    int
	Progress float64
	// Rate is items per second in the current stage.
	Rate    float64
	ETA     time.Duration
	Message string
}

// NewProgressTracker creates a tracker in StageLoading.
func NewProgressTracker() *ProgressTracker {
	return newTrackerAt(time.Now)
}

func newTrackerAt(now func() time.Time) *ProgressTracker {
	return &ProgressTracker{stage: StageLoading, stageStart: now(), now: now}
}

// Apply records an event, resetting counters when the stage changes.
func (p *ProgressTracker) Apply(ev ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ev.Stage != p.stage {
		p.stage = ev.Stage
		p.stageStart = p.now()
		p.lastETA = 0
	}
	p.current = ev.Current
	p.total = ev.Total
	if ev.Message != "" {
		p.message = ev.Message
	}
}

// Stats returns a snapshot. ETA is exponentially smoothed across calls.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := ProgressStats{Stage: p.stage, Current: p.current, Total: p.total, Message: p.message}
	if p.total > 0 {
		st.Progress = min(1, float64(p.current)/float64(p.total))
	}
	elapsed := p.now().Sub(p.stageStart)
	if elapsed > 0 {
		st.Rate = float64(p.current) / elapsed.Seconds()
	}
	st.ETA = p.eta(st.Progress, elapsed)
	return st
}

// eta must be called with mu held.
func (p *ProgressTracker) eta(progress float64, elapsed time.Duration) time.Duration {
	if progress <= 0 || progress >= 1 {
		return 0
	}
	raw := time.Duration(float64(elapsed)/progress) - elapsed
	if raw < 0 {
		return 0
	}
	if p.lastETA == 0 {
		p.lastETA = raw
		return raw
	}
	p.lastETA = time.Duration(etaSmoothing*float64(raw) + (1-etaSmoothing)*float64(p.lastETA))
	return p.lastETA
}
