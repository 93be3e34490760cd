package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/r3d91ll/reflex/pkg/abtest"
	rerrors "github.com/r3d91ll/reflex/pkg/errors"
	"github.com/r3d91ll/reflex/pkg/export"
	"github.com/r3d91ll/reflex/pkg/runner"
	"github.com/r3d91ll/reflex/pkg/spinner"
)

func (a *app) abCmd() *cobra.Command {
	var (
		seeds      []int64
		parallel   int
		csvPath    string
		stepsCSV   string
		noProgress bool
	)
	cmd := &cobra.Command{
		Use:   "ab",
		Short: "Run paired controller off/on trials and compare them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("seeds") {
				a.cfg.AB.Seeds = seeds
			}
			if cmd.Flags().Changed("parallel") {
				a.cfg.AB.Parallel = parallel
			}

			out, err := a.openOutputs(stepsCSV)
			if err != nil {
				return err
			}
			defer out.close()

			sum, err := a.experiment(cmd, out, !noProgress)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), sum)

			if csvPath != "" {
				if err := writeSummaryCSV(csvPath, sum); err != nil {
					return err
				}
			}
			return out.close()
		},
	}
	cmd.Flags().Int64SliceVar(&seeds, "seeds", nil, "override abtest.seeds")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "override abtest.parallel")
	cmd.Flags().StringVar(&csvPath, "csv", "", "write per-seed results and intervals to this CSV file")
	cmd.Flags().StringVar(&stepsCSV, "steps-csv", "", "write every step record to this CSV file")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "hide the progress bar")
	return cmd
}

// experiment runs the configured A/B harness through out's sinks.
func (a *app) experiment(cmd *cobra.Command, out *outputs, progress bool) (*abtest.Summary, error) {
	hash := export.ComputeExperimentHash(version, a.cfg, a.cfg.AB.Seeds...)
	r, err := runner.New(a.cfg, runner.ToyModels(a.cfg),
		runner.WithSinks(out.sinks...),
		runner.WithLogger(a.log),
		runner.WithExperimentHash(hash.Hash),
	)
	if err != nil {
		return nil, err
	}

	opts := []abtest.Option{
		abtest.WithLogger(a.log),
		abtest.WithExperimentHash(hash.Hash),
	}
	var bar *spinner.Progress
	if progress {
		bar = spinner.New(spinner.Config{Label: "trials", Writer: cmd.ErrOrStderr()})
		opts = append(opts, abtest.WithProgress(bar.Update))
	}

	sum, err := abtest.New(a.cfg.AB, a.cfg.Metrics.Epsilon, r.Trial(), opts...).Run(cmd.Context())
	if bar != nil {
		if err != nil {
			bar.Done(false, "experiment failed")
		} else {
			bar.Done(true, fmt.Sprintf("%d seeds compared", len(sum.Seeds)))
		}
	}
	if err != nil {
		return nil, err
	}
	if err := out.publishSummary(cmd.Context(), sum); err != nil {
		return nil, err
	}
	return sum, nil
}

func printSummary(w io.Writer, s *abtest.Summary) {
	fmt.Fprintf(w, "summary %s: %d seeds, %.0f%% bootstrap CI (%d resamples)\n",
		s.ID, len(s.Seeds), s.Confidence*100, s.Resamples)
	row := func(name string, iv abtest.Interval) {
		mark := ""
		if !iv.Contains(0) {
			mark = "  *"
		}
		fmt.Fprintf(w, "  %-18s %+.5f  [%+.5f, %+.5f]%s\n", name, iv.Mean, iv.Low, iv.High, mark)
	}
	row("rc slope off", s.RCSlopeOff)
	row("rc slope on", s.RCSlopeOn)
	row("rc delta", s.RCDelta)
	row("energy slope off", s.EnergySlopeOff)
	row("energy slope on", s.EnergySlopeOn)
	row("energy delta", s.EnergyDelta)
	row("fire rate", s.FireRate)
	fmt.Fprintf(w, "  cohen d            rc %+.3f  energy %+.3f\n", s.CohenDRC, s.CohenDEnergy)
	fmt.Fprintln(w, "  * interval excludes zero")
	if s.ExperimentHash != "" {
		fmt.Fprintf(w, "  experiment %s\n", s.ExperimentHash)
	}
}

func writeSummaryCSV(path string, s *abtest.Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return rerrors.IOWrap(err, rerrors.ErrIOWriteFailed, "failed to create CSV file").WithContext("path", path)
	}
	defer f.Close()
	if err := export.ExportSummaryToCSV(f, s, export.DefaultCSVConfig()); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return rerrors.IOWrap(err, rerrors.ErrIOWriteFailed, "failed to write CSV file").WithContext("path", path)
	}
	return nil
}
