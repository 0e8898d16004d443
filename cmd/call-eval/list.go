package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/call-eval/internal/testcase"
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List test suites",
		Args:  cobra.NoArgs,
	}

	cmd.AddCommand(newListSuitesCmd())
	return cmd
}

func newListSuitesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "suites",
		Short: "List available conversation test suites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			suites, err := testcase.LoadFromDir(defaultSuitesDir)
			if err != nil {
				return err
			}
			sort.Slice(suites, func(i, j int) bool {
				return strings.ToLower(suites[i].Suite) < strings.ToLower(suites[j].Suite)
			})

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SUITE\tCASES\tPERSONAS\tDESCRIPTION")
			for _, s := range suites {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", s.Suite, len(s.Cases), len(s.Personas), s.Description)
			}
			return tw.Flush()
		},
	}
}
