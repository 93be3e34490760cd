package main

import (
	"github.com/spf13/cobra"
)

func (a *app) serveCmd() *cobra.Command {
	var (
		port  int
		idle  bool
		once  bool
		quiet bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Stream an A/B experiment to websocket clients",
		Long: `Starts the live monitor (/ws, /healthz), runs the configured A/B
experiment with every step published on the "steps" channel, then keeps
serving until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.cfg.Monitor.Enabled = true
			if cmd.Flags().Changed("port") {
				a.cfg.Monitor.Port = port
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			out, err := a.openOutputs("")
			if err != nil {
				return err
			}
			defer out.close()

			if !idle {
				if _, err := a.experiment(cmd, out, !quiet); err != nil {
					return err
				}
				a.log.Info().Msg("experiment finished")
			}
			if once {
				return out.close()
			}

			a.log.Info().Str("address", out.server.Addr().String()).Msg("serving until interrupted")
			<-cmd.Context().Done()
			return out.close()
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override monitor.port")
	cmd.Flags().BoolVar(&idle, "idle", false, "serve without running an experiment")
	cmd.Flags().BoolVar(&once, "once", false, "exit when the experiment finishes")
	cmd.Flags().BoolVar(&quiet, "no-progress", false, "hide the progress bar")
	return cmd
}
