package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/r3d91ll/reflex/pkg/certificate"
	"github.com/r3d91ll/reflex/pkg/export"
	"github.com/r3d91ll/reflex/pkg/runner"
)

func (a *app) runCmd() *cobra.Command {
	var (
		seed       int64
		controller bool
		steps      int
		csvPath    string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one seeded training loop and print its certificate",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("steps") {
				a.cfg.Run.Steps = steps
			}

			out, err := a.openOutputs(csvPath)
			if err != nil {
				return err
			}
			defer out.close()

			hash := export.ComputeExperimentHash(version, a.cfg, seed)
			r, err := runner.New(a.cfg, runner.ToyModels(a.cfg),
				runner.WithSinks(out.sinks...),
				runner.WithLogger(a.log),
				runner.WithExperimentHash(hash.Hash),
			)
			if err != nil {
				return err
			}

			res, err := r.Run(cmd.Context(), seed, controller)
			if err != nil {
				return err
			}
			printCertificate(cmd.OutOrStdout(), res.Stats.ID, res.Certificate)
			if err := out.close(); err != nil {
				return err
			}
			return res.AbortError()
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 1, "run seed")
	cmd.Flags().BoolVar(&controller, "controller", true, "enable the reflexive controller")
	cmd.Flags().IntVar(&steps, "steps", 0, "override run.steps")
	cmd.Flags().StringVar(&csvPath, "csv", "", "write step records to this CSV file")
	return cmd
}

func printCertificate(w io.Writer, runID string, c certificate.Certificate) {
	verdict := "ABSENT"
	if c.Presence {
		verdict = "PRESENT"
	}
	fmt.Fprintf(w, "run %s: %s (%s)\n", runID, verdict, c.Reason)
	d := c.Diagnostics
	fmt.Fprintf(w, "  steps %d  fire rate %.3f  energy %.4f -> %.4f  rc gain %+.4f  xi median %.4f\n",
		d.Steps, d.FireRate, d.EnergyHead, d.EnergyTail, d.RCGain, d.XiMedian)
	if c.ExperimentHash != "" {
		fmt.Fprintf(w, "  experiment %s\n", c.ExperimentHash)
	}
}
