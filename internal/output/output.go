// Package output formats CLI status lines and bundle summaries. Styling is
// applied only when writing to a terminal and NO_COLOR is unset.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette, ANSI 256 codes.
const (
	ColorAccent = "154"
	ColorGray   = "245"
	ColorRed    = "196"
	ColorYellow = "220"
)

// Styles holds the lipgloss styles a Writer applies.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Label   lipgloss.Style
}

// DefaultStyles returns the colored styles.
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorAccent)),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
	}
}

// PlainStyles returns styles that render text unchanged.
func PlainStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle(),
		Success: lipgloss.NewStyle(),
		Warning: lipgloss.NewStyle(),
		Error:   lipgloss.NewStyle(),
		Label:   lipgloss.NewStyle(),
	}
}

// Writer provides formatted output for the CLI.
type Writer struct {
	out    io.Writer
	styles Styles
	color  bool
}

// New creates a Writer, colored when out is a terminal.
func New(out io.Writer) *Writer {
	if IsTerminal(out) && !NoColor() {
		return &Writer{out: out, styles: DefaultStyles(), color: true}
	}
	return NewPlain(out)
}

// NewPlain creates a Writer that never styles.
func NewPlain(out io.Writer) *Writer {
	return &Writer{out: out, styles: PlainStyles()}
}

// Color reports whether the writer styles its output.
func (w *Writer) Color() bool { return w.color }

// IsTerminal reports whether w is a terminal file.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// NoColor reports whether NO_COLOR is set.
func NoColor() bool {
	_, ok := os.LookupEnv("NO_COLOR")
	return ok
}

// Write errors are ignored for console output.
func (w *Writer) line(s string) {
	_, _ = fmt.Fprintln(w.out, s)
}

// Status prints msg behind an icon, or indented when icon is empty.
func (w *Writer) Status(icon, msg string) {
	if icon == "" {
		w.line("   " + msg)
		return
	}
	w.line(icon + " " + msg)
}

// Statusf is Status with formatting.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message.
func (w *Writer) Success(msg string) {
	w.Status(w.styles.Success.Render("✓"), msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status(w.styles.Warning.Render("!"), msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status(w.styles.Error.Render("✗"), msg)
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Header prints a bold section title.
func (w *Writer) Header(title string) {
	w.line(w.styles.Header.Render(title))
}

// KeyValue prints an aligned label and value.
func (w *Writer) KeyValue(key string, value any) {
	w.line(fmt.Sprintf("  %s %v", w.styles.Label.Render(fmt.Sprintf("%-14s", key+":")), value))
}

// Code prints content indented between blank lines.
func (w *Writer) Code(content string) {
	w.Newline()
	for _, l := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		w.line("  " + l)
	}
	w.Newline()
}

// Raw prints s unchanged.
func (w *Writer) Raw(s string) {
	_, _ = io.WriteString(w.out, s)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	w.line("")
}
