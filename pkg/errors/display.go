package errors

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorDim    = "\033[90m"
)

// Formatter renders errors for terminal or log output.
type Formatter struct {
	UseColor bool
	Writer   io.Writer
	Indent   string
}

// DefaultFormatter returns a Formatter writing to stderr, colored on a TTY.
func DefaultFormatter() *Formatter {
	return &Formatter{UseColor: isTTY(os.Stderr), Writer: os.Stderr, Indent: "  "}
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// Format renders err. ReflexErrors show code, context, cause and suggestions.
func (f *Formatter) Format(err error) string {
	if err == nil {
		return ""
	}
	re, ok := AsReflexError(err)
	if !ok {
		return f.paint(colorRed, "Error: ") + err.Error()
	}

	var sb strings.Builder
	sb.WriteString(f.paint(colorRed, "ERROR ["+re.Code+"]: "))
	sb.WriteString(re.Message)
	sb.WriteString("\n")

	keys := make([]string, 0, len(re.Context))
	for k := range re.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(f.Indent + f.paint(colorYellow, k+": ") + re.Context[k] + "\n")
	}
	if re.Cause != nil {
		sb.WriteString(f.Indent + f.paint(colorDim, "cause: "+re.Cause.Error()) + "\n")
	}
	for _, s := range re.Suggestions {
		sb.WriteString(f.Indent + f.paint(colorCyan, "→ "+s) + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (f *Formatter) paint(color, s string) string {
	if !f.UseColor {
		return s
	}
	return color + s + colorReset
}

// Display writes a formatted error to the formatter's writer.
func (f *Formatter) Display(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(f.Writer, f.Format(err))
}

// Sprint returns a formatted error string without colors.
func Sprint(err error) string {
	f := &Formatter{Writer: io.Discard, Indent: "  "}
	return f.Format(err)
}
