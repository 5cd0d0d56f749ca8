// Package asyncsqld provides the daemon.
package main

import (
	"os"

	"github.com/canonical/lxd/shared/logger"
	"github.com/spf13/cobra"

	"github.com/canonical/asyncsql/asyncsql"
	"github.com/canonical/asyncsql/query"
	"github.com/canonical/asyncsql/rest/types"
	"github.com/canonical/asyncsql/state"
	"github.com/canonical/asyncsql/version"
)

type cmdGlobal struct {
	flagHelp    bool
	flagVersion bool

	flagLogDebug   bool
	flagLogVerbose bool
}

type cmdDaemon struct {
	global *cmdGlobal

	flagStateDir    string
	flagSocketGroup string
}

func (c *cmdDaemon) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "asyncsqld",
		Short:   "Daemon running SQL statements asynchronously on a pool of workers",
		Version: version.Version(),
	}

	cmd.RunE = c.run

	return cmd
}

func (c *cmdDaemon) run(cmd *cobra.Command, args []string) error {
	a, err := asyncsql.New(asyncsql.Args{
		StateDir:    c.flagStateDir,
		SocketGroup: c.flagSocketGroup,
		Verbose:     c.global.flagLogVerbose,
		Debug:       c.global.flagLogDebug,
		Version:     version.Version(),
	})
	if err != nil {
		return err
	}

	hooks := &state.Hooks{
		OnStart: func(s *state.State) error {
			db := s.Config.GetDatabase()
			logger.Info("Serving database", logger.Ctx{"driver": db.Driver, "name": db.Name, "address": db.Address()})

			return nil
		},

		OnConfigChange: func(s *state.State, config types.DaemonConfig) error {
			logger.Info("Applied daemon configuration", logger.Ctx{"driver": config.Database.Driver, "name": config.Database.Name, "session_mode": config.SessionMode})

			return nil
		},

		OnResult: func(s *state.State, session string, result query.Result) {
			if !result.IsValid() {
				logger.Warn("Session statement failed", logger.Ctx{"session": session, "statement": result.Statement(), "err": result.Err()})
			}
		},
	}

	return a.Start(cmd.Context(), hooks)
}

func main() {
	daemonCmd := cmdDaemon{global: &cmdGlobal{}}
	app := daemonCmd.command()
	app.SilenceUsage = true
	app.CompletionOptions = cobra.CompletionOptions{DisableDefaultCmd: true}

	app.PersistentFlags().BoolVarP(&daemonCmd.global.flagHelp, "help", "h", false, "Print help")
	app.PersistentFlags().BoolVar(&daemonCmd.global.flagVersion, "version", false, "Print version number")
	app.PersistentFlags().BoolVarP(&daemonCmd.global.flagLogDebug, "debug", "d", false, "Show all debug messages")
	app.PersistentFlags().BoolVarP(&daemonCmd.global.flagLogVerbose, "verbose", "v", false, "Show all information messages")

	app.PersistentFlags().StringVar(&daemonCmd.flagStateDir, "state-dir", "", "Path to store state information"+"``")
	app.PersistentFlags().StringVar(&daemonCmd.flagSocketGroup, "socket-group", "", "Group to set socket's group ownership to")

	app.SetVersionTemplate("{{.Version}}\n")

	err := app.Execute()
	if err != nil {
		os.Exit(1)
	}
}
