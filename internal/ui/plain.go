package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer writes one line per update, with no escape codes.
type PlainRenderer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewPlainRenderer creates a plain renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error { return nil }

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(ev ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case ev.Total > 0 && ev.Message != "":
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d - %s\n", ev.Stage.Icon(), ev.Current, ev.Total, ev.Message)
	case ev.Total > 0:
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d\n", ev.Stage.Icon(), ev.Current, ev.Total)
	case ev.Message != "":
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", ev.Stage.Icon(), ev.Message)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "[%s] embed %s, store %s", StageComplete.Icon(),
		stats.Embed.Round(time.Millisecond), stats.Store.Round(time.Millisecond))
	if stats.Embed > 0 && stats.Embedded > 0 {
		_, _ = fmt.Fprintf(r.out, " (%.1f chunks/sec)", float64(stats.Embedded)/stats.Embed.Seconds())
	}
	_, _ = fmt.Fprintln(r.out)
	if stats.Model != "" {
		_, _ = fmt.Fprintf(r.out, "Embedder: %s (%d dims)\n", stats.Model, stats.Dimensions)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error { return nil }

var _ Renderer = (*PlainRenderer)(nil)
