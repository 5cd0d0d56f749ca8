// Package asyncsqlctl provides the main client tool.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/canonical/asyncsql/asyncsql"
	"github.com/canonical/asyncsql/version"
)

// CmdControl has functions that are common to the asyncsqlctl commands.
type CmdControl struct {
	FlagHelp       bool
	FlagVersion    bool
	FlagLogDebug   bool
	FlagLogVerbose bool
	FlagStateDir   string
}

// App returns the app for the configured state directory.
func (c *CmdControl) App() (*asyncsql.App, error) {
	return asyncsql.New(asyncsql.Args{StateDir: c.FlagStateDir, Verbose: c.FlagLogVerbose, Debug: c.FlagLogDebug})
}

func main() {
	// common flags.
	commonCmd := CmdControl{}

	app := &cobra.Command{
		Use:               "asyncsqlctl",
		Short:             "Command for managing the asyncsql daemon",
		Version:           version.Version(),
		SilenceUsage:      true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}

	app.PersistentFlags().StringVar(&commonCmd.FlagStateDir, "state-dir", "", "Path to store state information"+"``")
	app.PersistentFlags().BoolVarP(&commonCmd.FlagHelp, "help", "h", false, "Print help")
	app.PersistentFlags().BoolVar(&commonCmd.FlagVersion, "version", false, "Print version number")
	app.PersistentFlags().BoolVarP(&commonCmd.FlagLogDebug, "debug", "d", false, "Show all debug messages")
	app.PersistentFlags().BoolVarP(&commonCmd.FlagLogVerbose, "verbose", "v", false, "Show all information messages")

	app.SetVersionTemplate("{{.Version}}\n")

	var cmdSQL = cmdSQL{common: &commonCmd}
	app.AddCommand(cmdSQL.command())

	var cmdSessions = cmdSessions{common: &commonCmd}
	app.AddCommand(cmdSessions.command())

	var cmdConnections = cmdConnections{common: &commonCmd}
	app.AddCommand(cmdConnections.command())

	var cmdConfig = cmdConfig{common: &commonCmd}
	app.AddCommand(cmdConfig.command())

	var cmdStatus = cmdStatus{common: &commonCmd}
	app.AddCommand(cmdStatus.command())

	var cmdWaitready = cmdWaitready{common: &commonCmd}
	app.AddCommand(cmdWaitready.command())

	app.InitDefaultHelpCmd()

	err := app.Execute()
	if err != nil {
		os.Exit(1)
	}
}
