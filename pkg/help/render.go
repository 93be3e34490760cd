package help

import (
	"fmt"
	"io"
	"strings"
)

const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorCyan   = "\033[36m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"

	boxTee        = "├"
	boxHorizontal = "─"
	boxVertical   = "│"

	usageColumn = 18
	indent      = "  "
)

// Renderer writes the command reference, optionally with ANSI colors.
type Renderer struct {
	w     io.Writer
	color bool
}

// NewRenderer creates a renderer writing to w.
func NewRenderer(w io.Writer, color bool) *Renderer {
	return &Renderer{w: w, color: color}
}

// RenderFull writes every category with its commands.
func (r *Renderer) RenderFull() {
	r.writeln("")
	r.writeln(indent + r.paint(colorBold+colorCyan, "Reflex Inspect Commands"))
	r.writeln("")
	for _, cat := range CategoryOrder {
		cmds := ByCategory(cat)
		if len(cmds) == 0 {
			continue
		}
		r.writeln(indent + r.paint(colorBold+colorGreen, cat.DisplayName()))
		r.writeln(indent + r.paint(colorGray, boxTee+strings.Repeat(boxHorizontal, usageColumn+24)))
		for _, c := range cmds {
			r.commandLine(c)
		}
		r.writeln("")
	}
}

// RenderCommand writes the detail view of one command. It reports
// whether the command exists.
func (r *Renderer) RenderCommand(name string) bool {
	c, ok := Lookup(name)
	if !ok {
		r.writeln(fmt.Sprintf("%sUnknown command %q. Type help for the list.", indent, name))
		return false
	}
	r.writeln("")
	title := r.paint(colorCyan, c.Name)
	if c.Alias != "" {
		title += r.paint(colorGray, " (or ") + r.paint(colorYellow, c.Alias) + r.paint(colorGray, ")")
	}
	r.writeln(indent + title)
	r.writeln(indent + r.paint(colorGray, c.Description))
	r.writeln("")
	r.writeln(indent + r.paint(colorBold, "Usage:") + " " + r.paint(colorYellow, c.Usage))
	if len(c.Examples) > 0 {
		r.writeln("")
		r.writeln(indent + r.paint(colorBold, "Examples:"))
		for _, ex := range c.Examples {
			r.writeln(indent + indent + r.highlight(ex.Command) + r.paint(colorGray, " -> "+ex.Description))
		}
	}
	r.writeln("")
	return true
}

func (r *Renderer) commandLine(c Command) {
	usage := r.highlight(c.Usage)
	r.writeln(indent + indent + r.paint(colorGray, boxVertical+" ") + padRight(usage, usageColumn) + r.paint(colorGray, c.Description))
}

// highlight colors the command word cyan and its arguments yellow.
func (r *Renderer) highlight(s string) string {
	name, args, _ := strings.Cut(s, " ")
	out := r.paint(colorCyan, name)
	if args != "" {
		out += r.paint(colorYellow, " "+args)
	}
	return out
}

func (r *Renderer) paint(code, s string) string {
	if !r.color {
		return s
	}
	return code + s + colorReset
}

func (r *Renderer) writeln(s string) {
	fmt.Fprintln(r.w, s)
}

// visibleLength counts runes outside ANSI escape sequences.
func visibleLength(s string) int {
	n := 0
	inEscape := false
	for _, c := range s {
		switch {
		case c == '\033':
			inEscape = true
		case inEscape:
			if c == 'm' {
				inEscape = false
			}
		default:
			n++
		}
	}
	return n
}

func padRight(s string, width int) string {
	if n := visibleLength(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s + " "
}
