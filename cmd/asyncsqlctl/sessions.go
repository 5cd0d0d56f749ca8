package main

import (
	"fmt"
	"sort"
	"time"

	cli "github.com/canonical/lxd/shared/cmd"
	"github.com/spf13/cobra"

	"github.com/canonical/asyncsql/rest/types"
)

type cmdSessions struct {
	common *CmdControl
}

func (c *cmdSessions) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage named sessions",
		RunE:  c.run,
	}

	var cmdCreate = cmdSessionCreate{common: c.common}
	cmd.AddCommand(cmdCreate.command())

	var cmdList = cmdSessionList{common: c.common}
	cmd.AddCommand(cmdList.command())

	var cmdShow = cmdSessionShow{common: c.common}
	cmd.AddCommand(cmdShow.command())

	var cmdSet = cmdSessionSet{common: c.common}
	cmd.AddCommand(cmdSet.command())

	var cmdExec = cmdSessionExec{common: c.common}
	cmd.AddCommand(cmdExec.command())

	var cmdWait = cmdSessionWait{common: c.common}
	cmd.AddCommand(cmdWait.command())

	var cmdDelete = cmdSessionDelete{common: c.common}
	cmd.AddCommand(cmdDelete.command())

	return cmd
}

func (c *cmdSessions) run(cmd *cobra.Command, args []string) error {
	return cmd.Help()
}

type cmdSessionCreate struct {
	common *CmdControl

	flagMode  string
	flagDelay string
}

func (c *cmdSessionCreate) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a named session",
		RunE:  c.run,
	}

	cmd.Flags().StringVarP(&c.flagMode, "mode", "m", "", "Execution mode (parallel, fifo or latest-only)"+"``")
	cmd.Flags().StringVar(&c.flagDelay, "delay", "", "Delay before each statement runs, like 250ms"+"``")

	return cmd
}

func (c *cmdSessionCreate) run(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
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

	_, err = client.CreateSession(cmd.Context(), types.SessionsPost{Name: args[0], Mode: c.flagMode, Delay: c.flagDelay})

	return err
}

type cmdSessionList struct {
	common *CmdControl
}

func (c *cmdSessionList) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List named sessions",
		RunE:  c.run,
	}

	return cmd
}

func (c *cmdSessionList) run(cmd *cobra.Command, args []string) error {
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

	sessions, err := client.GetSessions(cmd.Context())
	if err != nil {
		return err
	}

	data := make([][]string, len(sessions))
	for i, s := range sessions {
		data[i] = []string{s.Name, s.Mode.String(), s.Delay, fmt.Sprint(s.InFlight), fmt.Sprint(s.Pending), fmt.Sprint(s.Completed)}
	}

	header := []string{"NAME", "MODE", "DELAY", "IN FLIGHT", "PENDING", "COMPLETED"}
	sort.Sort(cli.SortColumnsNaturally(data))

	return cli.RenderTable(cli.TableFormatTable, header, data, sessions)
}

type cmdSessionShow struct {
	common *CmdControl
}

func (c *cmdSessionShow) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show a named session and its latest result",
		RunE:  c.run,
	}

	return cmd
}

func (c *cmdSessionShow) run(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
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

	s, err := client.GetSession(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Name: %s\n", s.Name)
	fmt.Printf("Mode: %s\n", s.Mode)
	fmt.Printf("Delay: %s\n", s.Delay)
	fmt.Printf("Running: %t (in flight: %d, pending: %d)\n", s.Running, s.InFlight, s.Pending)
	fmt.Printf("Completed: %d\n", s.Completed)
	fmt.Printf("Created: %s\n", s.CreatedAt.Format(time.RFC3339))

	if s.Result == nil {
		return nil
	}

	fmt.Printf("\nLatest result of %q:\n", s.Result.Statement)

	return renderResult(*s.Result)
}

type cmdSessionSet struct {
	common *CmdControl

	flagMode  string
	flagDelay string
}

func (c *cmdSessionSet) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Change the mode or delay of a named session",
		RunE:  c.run,
	}

	cmd.Flags().StringVarP(&c.flagMode, "mode", "m", "", "Execution mode (parallel, fifo or latest-only)"+"``")
	cmd.Flags().StringVar(&c.flagDelay, "delay", "", "Delay before each statement runs, like 250ms"+"``")

	return cmd
}

func (c *cmdSessionSet) run(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
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

	_, err = client.UpdateSession(cmd.Context(), args[0], types.SessionPut{Mode: c.flagMode, Delay: c.flagDelay})

	return err
}

type cmdSessionExec struct {
	common *CmdControl

	flagParams []string
}

func (c *cmdSessionExec) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <name> <query>",
		Short: "Submit a statement to a named session without waiting for it",
		RunE:  c.run,
	}

	cmd.Flags().StringArrayVarP(&c.flagParams, "param", "p", nil, "Bind a value to a placeholder, as name=value. Values are parsed as JSON, or taken as text"+"``")

	return cmd
}

func (c *cmdSessionExec) run(cmd *cobra.Command, args []string) error {
	if len(args) != 2 {
		return cmd.Help()
	}

	params, err := parseParams(c.flagParams)
	if err != nil {
		return err
	}

	a, err := c.common.App()
	if err != nil {
		return err
	}

	client, err := a.LocalClient()
	if err != nil {
		return err
	}

	_, err = client.ExecSession(cmd.Context(), args[0], types.SQLQuery{Query: args[1], Params: params})

	return err
}

type cmdSessionWait struct {
	common *CmdControl

	flagTimeout time.Duration
}

func (c *cmdSessionWait) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wait <name>",
		Short: "Wait for a named session to finish its statements and show the latest result",
		RunE:  c.run,
	}

	cmd.Flags().DurationVarP(&c.flagTimeout, "timeout", "t", 30*time.Second, "How long to wait"+"``")

	return cmd
}

func (c *cmdSessionWait) run(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
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

	wait, err := client.WaitSession(cmd.Context(), args[0], c.flagTimeout)
	if err != nil {
		return err
	}

	if !wait.Idle {
		return fmt.Errorf("Session %q is still running after %s", args[0], c.flagTimeout)
	}

	if wait.Result == nil {
		return nil
	}

	return renderResult(*wait.Result)
}

type cmdSessionDelete struct {
	common *CmdControl
}

func (c *cmdSessionDelete) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a named session",
		RunE:  c.run,
	}

	return cmd
}

func (c *cmdSessionDelete) run(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
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

	return client.DeleteSession(cmd.Context(), args[0])
}
