package main

import (
	"encoding/json"
	"fmt"
	"strings"

	cli "github.com/canonical/lxd/shared/cmd"
	"github.com/spf13/cobra"

	"github.com/canonical/asyncsql/query"
	"github.com/canonical/asyncsql/rest/types"
)

type cmdSQL struct {
	common *CmdControl

	flagDump   bool
	flagSchema bool
	flagParams []string
}

func (c *cmdSQL) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sql <query>",
		Short: "Execute a SQL query against the daemon's database",
		RunE:  c.run,
	}

	cmd.Flags().BoolVar(&c.flagDump, "dump", false, "Dump the database")
	cmd.Flags().BoolVar(&c.flagSchema, "schema", false, "Only dump the schema")
	cmd.Flags().StringArrayVarP(&c.flagParams, "param", "p", nil, "Bind a value to a placeholder, as name=value. Values are parsed as JSON, or taken as text"+"``")

	return cmd
}

func (c *cmdSQL) run(cmd *cobra.Command, args []string) error {
	if c.flagDump || c.flagSchema {
		if len(args) != 0 {
			return cmd.Help()
		}
	} else if len(args) != 1 {
		return cmd.Help()
	}

	a, err := c.common.App()
	if err != nil {
		return err
	}

	if c.flagDump || c.flagSchema {
		dump, _, err := a.SQL(cmd.Context(), types.SQLQuery{}, c.flagSchema)
		if err != nil {
			return err
		}

		fmt.Print(dump)

		return nil
	}

	params, err := parseParams(c.flagParams)
	if err != nil {
		return err
	}

	_, batch, err := a.SQL(cmd.Context(), types.SQLQuery{Query: args[0], Params: params}, false)
	if err != nil {
		return err
	}

	for i, result := range batch.Results {
		if i > 0 {
			fmt.Println()
		}

		err := renderResult(result)
		if err != nil {
			return err
		}
	}

	return nil
}

// parseParams reads name=value pairs. A value that is not valid JSON is bound as text.
func parseParams(params []string) (map[string]query.Value, error) {
	if len(params) == 0 {
		return nil, nil
	}

	values := make(map[string]query.Value, len(params))
	for _, param := range params {
		name, raw, ok := strings.Cut(param, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("Invalid parameter %q, expected name=value", param)
		}

		v := query.Value{}
		err := json.Unmarshal([]byte(raw), &v)
		if err != nil {
			v = query.Text(raw)
		}

		values[name] = v
	}

	return values, nil
}

// cell formats a value for display.
func cell(v query.Value) string {
	if v.IsNull() {
		return "NULL"
	}

	return v.String()
}

func renderResult(result types.SQLResult) error {
	switch result.Type {
	case "error":
		return fmt.Errorf("Failed to execute %q: %s", result.Statement, result.Error)
	case "exec":
		fmt.Printf("Rows affected: %d\n", result.RowsAffected)
		if result.LastInsertID != nil {
			fmt.Printf("Last insert ID: %d\n", *result.LastInsertID)
		}

		return nil
	}

	data := make([][]string, len(result.Rows))
	for i, row := range result.Rows {
		data[i] = make([]string, len(row))
		for j, v := range row {
			data[i][j] = cell(v)
		}
	}

	return cli.RenderTable(cli.TableFormatTable, result.ColumnNames(), data, result)
}
