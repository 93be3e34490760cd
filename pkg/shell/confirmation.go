package shell

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
)

// Prompter asks the user to confirm a destructive command.
type Prompter interface {
	Confirm(message string) (bool, error)
}

// IOPrompter reads a y/N answer from a reader.
type IOPrompter struct {
	reader *bufio.Reader
	writer io.Writer
}

// NewIOPrompter creates a prompter over r and w.
func NewIOPrompter(r io.Reader, w io.Writer) *IOPrompter {
	return &IOPrompter{reader: bufio.NewReader(r), writer: w}
}

// Confirm accepts only "y" or "yes"; EOF means no.
func (p *IOPrompter) Confirm(message string) (bool, error) {
	fmt.Fprintf(p.writer, "%s [y/N]: ", message)
	line, err := p.reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	return isYes(line), nil
}

// rlPrompter asks through the shell's own readline instance.
type rlPrompter struct {
	rl     *readline.Instance
	prompt string
}

func (p *rlPrompter) Confirm(message string) (bool, error) {
	p.rl.SetPrompt(message + " [y/N]: ")
	defer p.rl.SetPrompt(p.prompt)

	line, err := p.rl.Readline()
	if err == readline.ErrInterrupt || err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return isYes(line), nil
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "y" || s == "yes"
}
