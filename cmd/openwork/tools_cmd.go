package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/martinemde/openwork/agentloop"
	"github.com/martinemde/openwork/tools"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools available to the agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg := agentloop.NewRegistry(tools.Default(cfg.ToolOptions())...)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSANDBOXED\tDESCRIPTION")
		for _, t := range reg.Tools() {
			fmt.Fprintf(w, "%s\t%v\t%s\n", t.Name(), t.RequiresPathCheck(), t.Description())
		}
		return w.Flush()
	},
}
