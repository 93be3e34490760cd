// Package spinner renders a progress bar for A/B trials on the terminal.
// On a non-terminal writer it prints one plain line per update instead.
package spinner

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	barFilled = "█"
	barEmpty  = "░"

	carriageReturn = "\r"
)

// Config holds progress bar options.
type Config struct {
	Label string
	Width int // bar cells; defaults to 24
	// Writer defaults to os.Stderr.
	Writer io.Writer
	// IsTTY overrides terminal detection.
	IsTTY *bool
}

// Progress tracks completed trials out of a total.
type Progress struct {
	mu sync.Mutex

	cfg     Config
	isTTY   bool
	done    int
	total   int
	start   time.Time
	lastLen int
	closed  bool
}

// New creates a progress bar. The total may be revised by Update.
func New(cfg Config) *Progress {
	if cfg.Width <= 0 {
		cfg.Width = 24
	}
	if cfg.Writer == nil {
		cfg.Writer = os.Stderr
	}
	isTTY := isTerminalWriter(cfg.Writer)
	if cfg.IsTTY != nil {
		isTTY = *cfg.IsTTY
	}
	return &Progress{cfg: cfg, isTTY: isTTY, start: time.Now()}
}

func isTerminalWriter(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// Update records done of total trials and redraws. Its signature matches
// the harness progress callback.
func (p *Progress) Update(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.done, p.total = done, total
	line := p.line()
	if p.isTTY {
		p.overwrite(line)
		return
	}
	fmt.Fprintln(p.cfg.Writer, line)
}

// Done finishes the bar with a final status line.
func (p *Progress) Done(ok bool, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	symbol := "✓"
	if !ok {
		symbol = "✗"
	}
	out := fmt.Sprintf("%s %s %s", symbol, message, formatElapsed(time.Since(p.start)))
	if p.isTTY {
		p.overwrite(out)
		fmt.Fprintln(p.cfg.Writer)
		return
	}
	fmt.Fprintln(p.cfg.Writer, out)
}

// Current returns the last reported counts.
func (p *Progress) Current() (done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done, p.total
}

// line renders e.g. "trials [██████░░░░] 50% (4/8) (1.2s)".
// Caller holds mu.
func (p *Progress) line() string {
	var parts []string
	if p.cfg.Label != "" {
		parts = append(parts, p.cfg.Label)
	}
	parts = append(parts, bar(p.done, p.total, p.cfg.Width))

	pct := 0.0
	if p.total > 0 {
		pct = float64(p.done) / float64(p.total) * 100
	}
	parts = append(parts,
		fmt.Sprintf("%.0f%%", pct),
		fmt.Sprintf("(%d/%d)", p.done, p.total),
		formatElapsed(time.Since(p.start)))

	if eta := p.eta(); eta > 0 {
		parts = append(parts, "ETA "+eta.Round(time.Second).String())
	}
	return strings.Join(parts, " ")
}

// eta needs at least two samples. Caller holds mu.
func (p *Progress) eta() time.Duration {
	if p.done < 2 || p.done >= p.total {
		return 0
	}
	per := time.Since(p.start) / time.Duration(p.done)
	return per * time.Duration(p.total-p.done)
}

func (p *Progress) overwrite(s string) {
	if p.lastLen > 0 {
		fmt.Fprint(p.cfg.Writer, carriageReturn+strings.Repeat(" ", p.lastLen)+carriageReturn)
	}
	fmt.Fprint(p.cfg.Writer, s)
	p.lastLen = len(s)
}

func bar(done, total, width int) string {
	filled := 0
	if total > 0 {
		filled = done * width / total
	}
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat(barFilled, filled) + strings.Repeat(barEmpty, width-filled) + "]"
}

func formatElapsed(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("(%.1fs)", d.Seconds())
	}
	return fmt.Sprintf("(%dm %ds)", int(d.Minutes()), int(d.Seconds())%60)
}
