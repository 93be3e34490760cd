// Reflex - closed-loop attention controller for sequence models.
//
// Reflex runs a reference model under a reflexive controller that watches
// entropy, drift and coherence signals, masks surprising keys, flips
// phase on stalls and dials temperature and bias. Each run ends with a
// presence certificate; paired A/B trials compare controller on and off.
//
// Commands:
//   - run:     one seeded run with its certificate
//   - ab:      paired A/B trials over seeds with bootstrap intervals
//   - serve:   live websocket monitor streaming steps and certificates
//   - inspect: REPL over the run store
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/r3d91ll/reflex/pkg/config"
	rerrors "github.com/r3d91ll/reflex/pkg/errors"
)

const version = "0.3.0"

// app carries state shared by every subcommand.
type app struct {
	cfgPath   string
	verbose   bool
	logFormat string

	cfg *config.Config
	log zerolog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		rerrors.DefaultFormatter().Display(err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "reflex",
		Short: "Reflex - closed-loop attention controller with presence certificates",
		Long: `Reflex runs a sequence model under a reflexive controller and certifies
whether the controlled run settled.

Single run:        reflex run --seed 7
A/B experiment:    reflex ab --seeds 1,2,3,4,5
Live monitor:      reflex serve
Browse results:    reflex inspect`,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "config file path (default reflex.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "override log.format (console or json)")

	root.AddCommand(
		a.runCmd(),
		a.abCmd(),
		a.serveCmd(),
		a.inspectCmd(),
		a.initCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "reflex %s\n", version)
			},
		},
	)
	return root
}

// setup loads configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if a.cfgPath == "" {
		a.cfgPath = config.DefaultConfigPath()
	}
	cfg, err := config.LoadOrDefault(a.cfgPath)
	if err != nil {
		return err
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	if a.verbose {
		cfg.Log.Level = zerolog.DebugLevel.String()
	}
	a.cfg = cfg
	a.log = newLogger(cfg.Log, cmd.ErrOrStderr())
	a.log.Debug().Str("config", a.cfgPath).Msg("configuration loaded")
	return nil
}

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.InitConfig(a.cfgPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config initialized at: %s\n", a.cfgPath)
			return nil
		},
	}
}

// newLogger builds a console or JSON zerolog logger. Unknown levels fall
// back to info.
func newLogger(cfg config.LogConfig, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
