package ui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Aman-CERP/rehydrate/internal/output"
)

// stopWait bounds how long Stop waits for the program to exit.
const stopWait = 2 * time.Second

// TUIRenderer draws a live progress view with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	tracker *ProgressTracker
	model   *indexModel
	program *tea.Program
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. The output must be a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !output.IsTerminal(cfg.Output) {
		return nil, fmt.Errorf("output is not a terminal")
	}
	tracker := NewProgressTracker()
	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   newIndexModel(tracker, cfg.Title, cfg.NoColor || output.NoColor()),
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer. The program runs until Complete or Stop.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		return nil
	}

	r.program = tea.NewProgram(r.model, tea.WithOutput(r.cfg.Output), tea.WithContext(ctx))
	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(ev ProgressEvent) {
	r.tracker.Apply(ev)
	r.send(progressMsg(ev))
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.tracker.Apply(ProgressEvent{Stage: StageComplete})
	r.send(completeMsg(stats))
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p == nil {
		return nil
	}
	p.Quit()
	select {
	case <-r.done:
	case <-time.After(stopWait):
	}
	return nil
}

func (r *TUIRenderer) send(msg tea.Msg) {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

type (
	progressMsg ProgressEvent
	completeMsg CompletionStats
	tickMsg     time.Time
)

type tuiStyles struct {
	header, active, done, dim, label lipgloss.Style
}

func newTUIStyles(noColor bool) tuiStyles {
	if noColor {
		s := lipgloss.NewStyle()
		return tuiStyles{header: s, active: s, done: s, dim: s, label: s}
	}
	return tuiStyles{
		header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(output.ColorAccent)),
		active: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(output.ColorAccent)),
		done:   lipgloss.NewStyle().Foreground(lipgloss.Color(output.ColorAccent)),
		dim:    lipgloss.NewStyle().Foreground(lipgloss.Color(output.ColorGray)),
		label:  lipgloss.NewStyle().Foreground(lipgloss.Color(output.ColorGray)),
	}
}

// indexModel is the bubbletea model behind TUIRenderer.
type indexModel struct {
	tracker  *ProgressTracker
	title    string
	spinner  spinner.Model
	bar      progress.Model
	styles   tuiStyles
	complete bool
	stats    CompletionStats
	quitting bool
}

func newIndexModel(tracker *ProgressTracker, title string, noColor bool) *indexModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	barOpts := []progress.Option{progress.WithWidth(40), progress.WithoutPercentage()}
	if !noColor {
		s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(output.ColorAccent))
		barOpts = append(barOpts, progress.WithSolidFill(output.ColorAccent))
	}
	return &indexModel{
		tracker: tracker,
		title:   title,
		spinner: s,
		bar:     progress.New(barOpts...),
		styles:  newTUIStyles(noColor),
	}
}

// Init implements tea.Model.
func (m *indexModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (m *indexModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.bar.Width = max(20, min(60, msg.Width-20))
	case progressMsg:
		return m, nil
	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit
	case tickMsg:
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *indexModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	st := m.tracker.Stats()
	var b strings.Builder
	title := "rehydrate index"
	if m.title != "" {
		title += " • " + m.title
	}
	b.WriteString(m.styles.header.Render(title) + "\n")
	b.WriteString(m.renderStages(st.Stage) + "\n")
	if st.Total == 0 {
		b.WriteString(m.spinner.View() + " " + m.styles.dim.Render(st.Stage.String()+"...") + "\n")
		return b.String()
	}
	b.WriteString(fmt.Sprintf("%s  %s\n", m.bar.ViewAs(st.Progress),
		m.styles.active.Render(fmt.Sprintf("%3.0f%%", st.Progress*100))))
	line := fmt.Sprintf("%d / %d  •  %.0f/s", st.Current, st.Total, st.Rate)
	if st.ETA > 0 {
		line += "  •  ETA " + formatDuration(st.ETA)
	}
	b.WriteString(m.styles.label.Render(line) + "\n")
	return b.String()
}

func (m *indexModel) renderStages(current Stage) string {
	parts := make([]string, 0, 3)
	for _, s := range []Stage{StageLoading, StageEmbedding, StageStoring} {
		switch {
		case s < current:
			parts = append(parts, m.styles.done.Render("● "+s.String()))
		case s == current:
			parts = append(parts, m.styles.active.Render(m.spinner.View()+" "+s.String()))
		default:
			parts = append(parts, m.styles.dim.Render("○ "+s.String()))
		}
	}
	return strings.Join(parts, m.styles.dim.Render(" → "))
}

func (m *indexModel) renderComplete() string {
	lines := []string{
		m.styles.done.Render("✓ Indexing complete"),
		fmt.Sprintf("%s %d (%d embedded, %d supplied)", m.styles.label.Render("Chunks:  "),
			m.stats.Chunks, m.stats.Embedded, m.stats.Supplied),
		fmt.Sprintf("%s embed %s, store %s", m.styles.label.Render("Duration:"),
			formatDuration(m.stats.Embed), formatDuration(m.stats.Store)),
	}
	return strings.Join(lines, "\n") + "\n"
}

// formatDuration renders d as 850ms, 12s, 3m 5s or 1h 2m.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Round(time.Second).Seconds()))
	case d < time.Hour:
		d = d.Round(time.Second)
		if s := int(d.Seconds()) % 60; s != 0 {
			return fmt.Sprintf("%dm %ds", int(d.Minutes()), s)
		}
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

var _ Renderer = (*TUIRenderer)(nil)
