package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/dbgwatch/dbgwatch/internal/domain"
)

// Printer renders operator-facing output: status lines, warnings, and the
// filtered log lines themselves, interleaved in stream order.
type Printer struct {
	mu  sync.Mutex
	out io.Writer

	status lipgloss.Style
	warn   lipgloss.Style
	ts     lipgloss.Style
}

// NewPrinter creates a Printer writing to out.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{
		out:    out,
		status: lipgloss.NewStyle().Foreground(lipgloss.Color("6")), // cyan
		warn:   lipgloss.NewStyle().Foreground(lipgloss.Color("3")), // yellow
		ts:     lipgloss.NewStyle().Faint(true),
	}
}

// Statusf prints a styled status line.
func (p *Printer) Statusf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, p.status.Render("-- "+fmt.Sprintf(format, args...)))
}

// Warnf prints a styled warning line.
func (p *Printer) Warnf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, p.warn.Render("!! "+fmt.Sprintf(format, args...)))
}

// Line prints a filtered log line with its read timestamp.
func (p *Printer) Line(line domain.LogLine) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s %s\n", p.ts.Render(line.Timestamp.Format("15:04:05")), line.Text)
}
