package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	cli "github.com/canonical/lxd/shared/cmd"
	"github.com/spf13/cobra"
)

type cmdConnections struct {
	common *CmdControl
}

func (c *cmdConnections) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connections",
		Short: "Manage worker database connections",
		RunE:  c.run,
	}

	var cmdList = cmdConnectionsList{common: c.common}
	cmd.AddCommand(cmdList.command())

	var cmdClose = cmdConnectionsClose{common: c.common}
	cmd.AddCommand(cmdClose.command())

	return cmd
}

func (c *cmdConnections) run(cmd *cobra.Command, args []string) error {
	return cmd.Help()
}

type cmdConnectionsList struct {
	common *CmdControl
}

func (c *cmdConnectionsList) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the open worker connections",
		RunE:  c.run,
	}

	return cmd
}

func (c *cmdConnectionsList) run(cmd *cobra.Command, args []string) error {
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

	conns, err := client.GetConnections(cmd.Context())
	if err != nil {
		return err
	}

	data := make([][]string, len(conns))
	for i, conn := range conns {
		data[i] = []string{strconv.FormatUint(conn.Worker, 10), strconv.Itoa(conn.ThreadID), conn.Driver, conn.Name, conn.Address, conn.Opened.Format(time.RFC3339)}
	}

	header := []string{"WORKER", "THREAD", "DRIVER", "NAME", "ADDRESS", "OPENED"}
	sort.Sort(cli.SortColumnsNaturally(data))

	return cli.RenderTable(cli.TableFormatTable, header, data, conns)
}

type cmdConnectionsClose struct {
	common *CmdControl
}

func (c *cmdConnectionsClose) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close [<worker>]",
		Short: "Close the connection of a worker, or every connection",
		RunE:  c.run,
	}

	return cmd
}

func (c *cmdConnectionsClose) run(cmd *cobra.Command, args []string) error {
	if len(args) > 1 {
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

	if len(args) == 0 {
		return client.CloseConnections(cmd.Context())
	}

	worker, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("Invalid worker %q: %w", args[0], err)
	}

	return client.CloseConnection(cmd.Context(), worker)
}
