package shell

import (
	"context"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/r3d91ll/reflex/pkg/help"
)

// completer completes command names, then run IDs for run commands.
type completer struct {
	store Backend
}

var _ readline.AutoCompleter = (*completer)(nil)

// Do implements readline.AutoCompleter.
func (c *completer) Do(line []rune, pos int) ([][]rune, int) {
	if pos > len(line) {
		pos = len(line)
	}
	text := string(line[:pos])
	fields := strings.Fields(text)
	trailingSpace := strings.HasSuffix(text, " ")

	switch {
	case len(fields) == 0:
		return candidates(commandNames(), ""), 0
	case len(fields) == 1 && !trailingSpace:
		return candidates(commandNames(), fields[0]), len([]rune(fields[0]))
	}

	if cmd, ok := help.Lookup(fields[0]); !ok || !cmd.TakesRun {
		return nil, 0
	}
	word := ""
	if !trailingSpace {
		if len(fields) > 2 {
			return nil, 0
		}
		word = fields[1]
	} else if len(fields) > 1 {
		return nil, 0
	}
	return candidates(c.runIDs(), word), len([]rune(word))
}

func (c *completer) runIDs() []string {
	if c.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil
	}
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids
}

// candidates returns the suffixes of options that start with prefix.
func candidates(options []string, prefix string) [][]rune {
	var out [][]rune
	for _, o := range options {
		if strings.HasPrefix(o, prefix) {
			out = append(out, []rune(o[len(prefix):]+" "))
		}
	}
	return out
}
