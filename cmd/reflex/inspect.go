package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/r3d91ll/reflex/pkg/shell"
	"github.com/r3d91ll/reflex/pkg/store"
)

func (a *app) inspectCmd() *cobra.Command {
	var (
		dbPath   string
		commands string
		history  string
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Browse stored runs, certificates and summaries",
		Long: `Opens the run store in an interactive shell. With -c the given
commands (separated by ';') run without a terminal.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.cfg.Store.Path
			if dbPath != "" {
				path = dbPath
			}
			st, err := store.Open(path, a.log.With().Str("component", "store").Logger())
			if err != nil {
				return err
			}
			defer st.Close()

			if commands != "" {
				sh := shell.NewWithIO(st, cmd.OutOrStdout(), shell.NewIOPrompter(cmd.InOrStdin(), cmd.OutOrStdout()))
				for _, line := range strings.Split(commands, ";") {
					err := sh.Execute(cmd.Context(), line)
					if errors.Is(err, shell.ErrQuit) {
						return nil
					}
					if err != nil {
						return err
					}
				}
				return nil
			}

			sh, err := shell.New(st, shell.Config{HistoryFile: history})
			if err != nil {
				return err
			}
			return sh.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "store path (default store.path)")
	cmd.Flags().StringVarP(&commands, "command", "c", "", "run commands and exit")
	cmd.Flags().StringVar(&history, "history", defaultHistory(), "readline history file")
	return cmd
}

func defaultHistory() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "reflex_history")
}
