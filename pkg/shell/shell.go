// Package shell provides the interactive REPL for browsing stored runs.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/chzyer/readline"

	"github.com/r3d91ll/reflex/pkg/abtest"
	"github.com/r3d91ll/reflex/pkg/certificate"
	rerrors "github.com/r3d91ll/reflex/pkg/errors"
	"github.com/r3d91ll/reflex/pkg/help"
	"github.com/r3d91ll/reflex/pkg/runstats"
	"github.com/r3d91ll/reflex/pkg/store"
)

const prompt = "\033[36mreflex>\033[0m "

// defaultStepRows is how many steps "steps <id>" prints without a count.
const defaultStepRows = 20

// Backend is the read side of the run store plus run deletion.
type Backend interface {
	ListRuns(ctx context.Context) ([]store.RunInfo, error)
	LoadRun(ctx context.Context, id string) (*store.RunInfo, error)
	LoadSteps(ctx context.Context, runID string, limit int) ([]runstats.StepRecord, error)
	LoadCertificate(ctx context.Context, runID string) (*certificate.Certificate, error)
	Summaries(ctx context.Context) ([]store.SummaryInfo, error)
	LoadSummary(ctx context.Context, id string) (*abtest.Summary, error)
	DeleteRun(ctx context.Context, id string) error
}

// Config holds shell configuration.
type Config struct {
	HistoryFile string
}

// Shell is the inspect REPL.
type Shell struct {
	store    Backend
	rl       *readline.Instance
	out      io.Writer
	prompter Prompter
	color    bool
}

// ErrQuit is returned by Execute for exit commands.
var ErrQuit = errors.New("quit")

func commandNames() []string {
	return append(help.Names(), "quit")
}

// New creates a shell over the store.
func New(b Backend, cfg Config) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     cfg.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    &completer{store: b},
	})
	if err != nil {
		return nil, rerrors.Wrap(err, rerrors.ErrShellInitFailed, rerrors.CategoryCommand, "failed to start shell")
	}
	return &Shell{
		store:    b,
		rl:       rl,
		out:      rl.Stdout(),
		prompter: &rlPrompter{rl: rl, prompt: prompt},
		color:    true,
	}, nil
}

// Run reads commands until exit, EOF or ctx ends.
func (s *Shell) Run(ctx context.Context) error {
	defer s.rl.Close()

	fmt.Fprintf(s.out, "Commands: %s (help for details)\n", strings.Join(help.Names(), ", "))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := s.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if err := s.Execute(ctx, line); err != nil {
			if err == ErrQuit {
				return nil
			}
			fmt.Fprintln(s.out, rerrors.Sprint(err))
		}
	}
}

// Execute runs one command line.
func (s *Shell) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]

	need := func(n int) error {
		if len(args) < n {
			return rerrors.CommandMissingArgs(cmd, usage(cmd))
		}
		return nil
	}

	switch cmd {
	case "exit", "quit", "q":
		return ErrQuit
	case "help", "h", "?":
		r := help.NewRenderer(s.out, s.color)
		if len(args) > 0 {
			if !r.RenderCommand(args[0]) {
				return rerrors.CommandNotFound(args[0])
			}
			return nil
		}
		r.RenderFull()
		return nil
	case "runs":
		return s.listRuns(ctx)
	case "summaries":
		return s.listSummaries(ctx)
	case "summary":
		if err := need(1); err != nil {
			return err
		}
		return s.showSummary(ctx, args[0])
	case "show", "cert", "steps", "rm":
		if err := need(1); err != nil {
			return err
		}
		id, err := s.resolve(ctx, args[0])
		if err != nil {
			return err
		}
		switch cmd {
		case "show":
			return s.showRun(ctx, id)
		case "cert":
			return s.showCertificate(ctx, id)
		case "steps":
			n := defaultStepRows
			if len(args) > 1 {
				v, err := strconv.Atoi(args[1])
				if err != nil || v <= 0 {
					return rerrors.CommandInvalidArg(args[1], "positive step count")
				}
				n = v
			}
			return s.showSteps(ctx, id, n)
		default:
			return s.removeRun(ctx, id)
		}
	}
	return rerrors.CommandNotFound(cmd)
}

func usage(cmd string) string {
	if c, ok := help.Lookup(cmd); ok {
		return c.Usage
	}
	return cmd
}

// resolve expands a unique run ID prefix.
func (s *Shell) resolve(ctx context.Context, prefix string) (string, error) {
	runs, err := s.store.ListRuns(ctx)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, r := range runs {
		if r.ID == prefix {
			return r.ID, nil
		}
		if strings.HasPrefix(r.ID, prefix) {
			matches = append(matches, r.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", rerrors.StoreNotFound("run", prefix)
	case 1:
		return matches[0], nil
	}
	sort.Strings(matches)
	return "", fmt.Errorf("ambiguous run id %q matches %d runs", prefix, len(matches))
}

func (s *Shell) listRuns(ctx context.Context) error {
	runs, err := s.store.ListRuns(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(s.out, "No runs stored.")
		return nil
	}
	w := tabwriter.NewWriter(s.out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSEED\tCONTROLLER\tSTEPS\tFIRES\tSTATUS\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%d\t%s\t%s\n",
			short(r.ID), r.Seed, onOff(r.Controller), r.Steps, r.UpsilonCount,
			status(r), r.StartedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func (s *Shell) showRun(ctx context.Context, id string) error {
	r, err := s.store.LoadRun(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Run %s\n", r.ID)
	fmt.Fprintf(s.out, "  seed        %d\n", r.Seed)
	fmt.Fprintf(s.out, "  controller  %s\n", onOff(r.Controller))
	fmt.Fprintf(s.out, "  status      %s\n", status(*r))
	fmt.Fprintf(s.out, "  steps       %d\n", r.Steps)
	if r.Steps > 0 {
		fmt.Fprintf(s.out, "  fire rate   %.3f\n", float64(r.UpsilonCount)/float64(r.Steps))
	}
	if r.AbortReason != "" {
		fmt.Fprintf(s.out, "  abort       %s\n", r.AbortReason)
	}

	last, err := s.store.LoadSteps(ctx, id, 1)
	if err != nil {
		return err
	}
	if len(last) == 1 {
		l := last[0]
		fmt.Fprintf(s.out, "  last step   t=%d H=%s RC=%s E=%s T=%s gate=%s\n",
			l.T, num(l.H), num(l.RC), num(l.E), num(l.Temperature), l.Gate)
	}
	return nil
}

func (s *Shell) showCertificate(ctx context.Context, id string) error {
	c, err := s.store.LoadCertificate(ctx, id)
	if err != nil {
		return err
	}
	verdict := "ABSENT"
	if c.Presence {
		verdict = "PRESENT"
	}
	fmt.Fprintf(s.out, "Certificate %s: %s (%s)\n", short(c.RunID), verdict, c.Reason)
	g, d := c.Guards, c.Diagnostics
	w := tabwriter.NewWriter(s.out, 0, 2, 2, ' ', 0)
	fmt.Fprintf(w, "  %s\t%s\tmedian xi %s\n", certificate.GuardXiLock, check(g.XiLock), num(d.XiMedian))
	fmt.Fprintf(w, "  %s\t%s\thead %s tail %s\n", certificate.GuardEnergyDown, check(g.EnergyDown), num(d.EnergyHead), num(d.EnergyTail))
	fmt.Fprintf(w, "  %s\t%s\tgain %s\n", certificate.GuardRCUp, check(g.RCUp), num(d.RCGain))
	fmt.Fprintf(w, "  %s\t%s\tfire rate %s\n", certificate.GuardUpsilonBand, check(g.UpsilonBand), num(d.FireRate))
	fmt.Fprintf(w, "  %s\t%s\t\n", certificate.GuardEthicsClean, check(g.EthicsClean))
	if err := w.Flush(); err != nil {
		return err
	}
	if c.ExperimentHash != "" {
		fmt.Fprintf(s.out, "  experiment  %s\n", c.ExperimentHash)
	}
	return nil
}

func (s *Shell) showSteps(ctx context.Context, id string, n int) error {
	recs, err := s.store.LoadSteps(ctx, id, n)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(s.out, "No steps recorded.")
		return nil
	}
	w := tabwriter.NewWriter(s.out, 0, 2, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "T\tH\tD\tRC\tE\tXI\tTEMP\tPHASE\tGATE\tFIRED\t")
	for _, r := range recs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%+d\t%s\t%s\t\n",
			r.T, num(r.H), num(r.D), num(r.RC), num(r.E), num(r.XiDelta),
			num(r.Temperature), r.Phase, r.Gate, mark(r.Fired))
	}
	return w.Flush()
}

func (s *Shell) listSummaries(ctx context.Context) error {
	list, err := s.store.Summaries(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(s.out, "No summaries stored.")
		return nil
	}
	w := tabwriter.NewWriter(s.out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tEXPERIMENT")
	for _, m := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\n", short(m.ID), m.CreatedAt.Local().Format("2006-01-02 15:04:05"), short(m.ExperimentHash))
	}
	return w.Flush()
}

func (s *Shell) showSummary(ctx context.Context, prefix string) error {
	list, err := s.store.Summaries(ctx)
	if err != nil {
		return err
	}
	id := ""
	for _, m := range list {
		if strings.HasPrefix(m.ID, prefix) {
			if id != "" {
				return fmt.Errorf("ambiguous summary id %q", prefix)
			}
			id = m.ID
		}
	}
	if id == "" {
		return rerrors.StoreNotFound("summary", prefix)
	}

	sum, err := s.store.LoadSummary(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Summary %s (%d seeds, %d resamples, %.0f%% CI)\n",
		sum.ID, len(sum.Seeds), sum.Resamples, sum.Confidence*100)
	w := tabwriter.NewWriter(s.out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "  METRIC\tMEAN\tLOW\tHIGH")
	for _, row := range []struct {
		name string
		iv   abtest.Interval
	}{
		{"rc slope off", sum.RCSlopeOff},
		{"rc slope on", sum.RCSlopeOn},
		{"energy slope off", sum.EnergySlopeOff},
		{"energy slope on", sum.EnergySlopeOn},
		{"rc delta", sum.RCDelta},
		{"energy delta", sum.EnergyDelta},
		{"fire rate", sum.FireRate},
	} {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", row.name, num(row.iv.Mean), num(row.iv.Low), num(row.iv.High))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "  cohen d  rc %s  energy %s\n", num(sum.CohenDRC), num(sum.CohenDEnergy))
	return nil
}

func (s *Shell) removeRun(ctx context.Context, id string) error {
	ok, err := s.prompter.Confirm(fmt.Sprintf("Delete run %s and its steps?", short(id)))
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(s.out, "Cancelled.")
		return nil
	}
	if err := s.store.DeleteRun(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Deleted %s\n", short(id))
	return nil
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func status(r store.RunInfo) string {
	switch {
	case r.AbortReason != "":
		return "aborted"
	case r.EndedAt == nil:
		return "running"
	}
	return "complete"
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func check(b bool) string {
	if b {
		return "ok"
	}
	return "FAIL"
}

func mark(b bool) string {
	if b {
		return "*"
	}
	return ""
}

func num(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "NA"
	}
	return strconv.FormatFloat(f, 'f', 4, 64)
}

// NewWithIO creates a shell without a terminal, for scripted use.
func NewWithIO(b Backend, out io.Writer, p Prompter) *Shell {
	if out == nil {
		out = os.Stdout
	}
	return &Shell{store: b, out: out, prompter: p}
}
