// Package help holds the inspect shell's command reference and renders it.
//
// Commands is the single source for command names, aliases, usage and
// completion hints; the shell dispatches on the same names.
package help

import "strings"

// Category groups commands in the full listing.
type Category string

const (
	CategoryRuns        Category = "runs"
	CategoryExperiments Category = "experiments"
	CategoryGeneral     Category = "general"
)

// CategoryOrder is the listing order.
var CategoryOrder = []Category{CategoryRuns, CategoryExperiments, CategoryGeneral}

var categoryNames = map[Category]string{
	CategoryRuns:        "Runs",
	CategoryExperiments: "A/B Experiments",
	CategoryGeneral:     "General",
}

// DisplayName returns the heading shown for c.
func (c Category) DisplayName() string {
	if n, ok := categoryNames[c]; ok {
		return n
	}
	return string(c)
}

// Example is one sample invocation.
type Example struct {
	Command     string
	Description string
}

// Command describes one shell command.
type Command struct {
	Name        string
	Alias       string
	Usage       string
	Description string
	Category    Category
	// TakesRun marks commands whose first argument is a run ID.
	TakesRun bool
	Examples []Example
}

// Commands lists every shell command in display order.
var Commands = []Command{
	{
		Name: "runs", Usage: "runs", Category: CategoryRuns,
		Description: "List stored runs, newest first",
	},
	{
		Name: "show", Usage: "show <id>", Category: CategoryRuns, TakesRun: true,
		Description: "Run header and last step",
		Examples:    []Example{{"show 3f2a", "any unique ID prefix works"}},
	},
	{
		Name: "cert", Usage: "cert <id>", Category: CategoryRuns, TakesRun: true,
		Description: "Certificate with each guard's value",
	},
	{
		Name: "steps", Usage: "steps <id> [n]", Category: CategoryRuns, TakesRun: true,
		Description: "Last n step records (default 20)",
		Examples:    []Example{{"steps 3f2a 50", "last 50 steps"}},
	},
	{
		Name: "rm", Usage: "rm <id>", Category: CategoryRuns, TakesRun: true,
		Description: "Delete a run after confirmation",
	},
	{
		Name: "summaries", Usage: "summaries", Category: CategoryExperiments,
		Description: "List A/B summaries",
	},
	{
		Name: "summary", Usage: "summary <id>", Category: CategoryExperiments,
		Description: "Bootstrap intervals and effect sizes",
	},
	{
		Name: "help", Alias: "h", Usage: "help [command]", Category: CategoryGeneral,
		Description: "This reference, or one command in detail",
	},
	{
		Name: "exit", Alias: "q", Usage: "exit", Category: CategoryGeneral,
		Description: "Leave the shell (also quit)",
	},
}

// Lookup finds a command by name or alias.
func Lookup(name string) (Command, bool) {
	name = strings.TrimSpace(name)
	for _, c := range Commands {
		if c.Name == name || (c.Alias != "" && c.Alias == name) {
			return c, true
		}
	}
	return Command{}, false
}

// Names returns command names in display order.
func Names() []string {
	out := make([]string, len(Commands))
	for i, c := range Commands {
		out[i] = c.Name
	}
	return out
}

// ByCategory returns the commands of cat in display order.
func ByCategory(cat Category) []Command {
	var out []Command
	for _, c := range Commands {
		if c.Category == cat {
			out = append(out, c)
		}
	}
	return out
}
