package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newAliasesCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "aliases",
		Short: "List the model aliases usable in @usemodel directives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(root.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := a.router()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ALIAS\tPROVIDER\tMODEL\t")
			for _, e := range r.Aliases() {
				alias := e.Alias
				if strings.EqualFold(alias, r.DefaultAlias()) {
					alias += " (default)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t\n", alias, e.Provider, e.Model)
			}
			return tw.Flush()
		},
	}
}
