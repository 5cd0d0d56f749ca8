package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type cmdWaitready struct {
	common *CmdControl

	flagTimeout int
}

func (c *cmdWaitready) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "waitready",
		Short: "Wait for the daemon to be ready to process requests",
		RunE:  c.run,
	}

	cmd.Flags().IntVarP(&c.flagTimeout, "timeout", "t", 0, "Number of seconds to wait before giving up"+"``")

	return cmd
}

func (c *cmdWaitready) run(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return cmd.Help()
	}

	a, err := c.common.App()
	if err != nil {
		return err
	}

	ctx, cancel := cmd.Context(), func() {}
	if c.flagTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(c.flagTimeout)*time.Second)
	}

	defer cancel()

	return a.Ready(ctx)
}

type cmdStatus struct {
	common *CmdControl
}

func (c *cmdStatus) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the daemon status",
		RunE:  c.run,
	}

	return cmd
}

func (c *cmdStatus) run(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return cmd.Help()
	}

	a, err := c.common.App()
	if err != nil {
		return err
	}

	server, err := a.Status(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Version: %s\n", server.Version)
	fmt.Printf("Driver: %s\n", server.Driver)
	fmt.Printf("Workers: %d (%d idle)\n", server.Workers, server.IdleWorkers)
	fmt.Printf("Connections: %d\n", server.Connections)
	fmt.Printf("Sessions: %d\n", server.Sessions)
	fmt.Printf("Ready: %t\n", server.Ready)

	return nil
}
