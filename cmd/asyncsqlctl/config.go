package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/canonical/asyncsql/database"
	"github.com/canonical/asyncsql/query"
	"github.com/canonical/asyncsql/rest/types"
)

type cmdConfig struct {
	common *CmdControl
}

func (c *cmdConfig) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the daemon configuration",
		RunE:  c.run,
	}

	var cmdShow = cmdConfigShow{common: c.common}
	cmd.AddCommand(cmdShow.command())

	var cmdSet = cmdConfigSet{common: c.common}
	cmd.AddCommand(cmdSet.command())

	return cmd
}

func (c *cmdConfig) run(cmd *cobra.Command, args []string) error {
	return cmd.Help()
}

type cmdConfigShow struct {
	common *CmdControl
}

func (c *cmdConfigShow) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the daemon configuration",
		RunE:  c.run,
	}

	return cmd
}

func (c *cmdConfigShow) run(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return cmd.Help()
	}

	a, err := c.common.App()
	if err != nil {
		return err
	}

	client, err := a.LocalClient()
	if err != nil {
		return err
	}

	config, err := client.GetConfig(cmd.Context())
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return err
	}

	fmt.Print(string(data))

	return nil
}

type cmdConfigSet struct {
	common *CmdControl
}

func (c *cmdConfigSet) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key>=<value>...",
		Short: "Change daemon configuration keys",
		Long: `Change daemon configuration keys.

Keys are session_mode, session_delay, database.driver, database.host, database.port,
database.name, database.user, database.password, database.precision and database.options.<name>.
An empty database.options value removes the option.`,
		RunE: c.run,
	}

	return cmd
}

func (c *cmdConfigSet) run(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return cmd.Help()
	}

	a, err := c.common.App()
	if err != nil {
		return err
	}

	client, err := a.LocalClient()
	if err != nil {
		return err
	}

	config, err := client.GetConfig(cmd.Context())
	if err != nil {
		return err
	}

	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("Invalid argument %q, expected key=value", arg)
		}

		err := setConfigKey(config, key, value)
		if err != nil {
			return err
		}
	}

	_, err = client.UpdateConfig(cmd.Context(), *config)

	return err
}

// setConfigKey sets a single configuration key. The config is left unchanged on error.
func setConfigKey(config *types.DaemonConfig, key string, value string) error {
	invalid := func(err error) error {
		return fmt.Errorf("Invalid value %q for %q: %w", value, key, err)
	}

	switch key {
	case "session_mode":
		mode, err := query.ParseMode(value)
		if err != nil {
			return invalid(err)
		}

		config.SessionMode = mode
	case "session_delay":
		delay, err := time.ParseDuration(value)
		if err != nil {
			return invalid(err)
		}

		config.SessionDelay = delay
	case "database.driver":
		config.Database.Driver = value
	case "database.host":
		config.Database.Host = value
	case "database.port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return invalid(err)
		}

		config.Database.Port = port
	case "database.name":
		config.Database.Name = value
	case "database.user":
		config.Database.User = value
	case "database.password":
		config.Database.Password = value
	case "database.precision":
		precision, err := database.ParsePrecisionPolicy(value)
		if err != nil {
			return invalid(err)
		}

		config.Database.Precision = precision
	default:
		name, ok := strings.CutPrefix(key, "database.options.")
		if !ok || name == "" {
			return fmt.Errorf("Unknown configuration key %q", key)
		}

		if config.Database.Options == nil {
			config.Database.Options = map[string]string{}
		}

		if value == "" {
			delete(config.Database.Options, name)
		} else {
			config.Database.Options[name] = value
		}
	}

	return nil
}
