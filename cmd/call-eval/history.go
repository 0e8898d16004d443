package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/call-eval/internal/store"
)

func newHistoryCmd(st *cliState) *cobra.Command {
	var (
		suiteName string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past test runs",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadCfg(st)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			storeHandle, err := store.Open(st.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = storeHandle.Close() }()

			runs, err := storeHandle.ListRuns(cmd.Context(), store.RunFilter{
				SuiteName: suiteName,
				Limit:     limit,
			})
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSUITE\tSTATUS\tPASSED\tFAILED\tERRORED\tAVG\tCOST\tCREATED")
			for _, run := range runs {
				avg := "-"
				if run.AvgScore != nil {
					avg = fmt.Sprintf("%.2f", *run.AvgScore)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
					run.ID, run.SuiteName, run.Status,
					run.PassedCases, run.FailedCases, run.ErroredCases,
					avg, formatCents(run.EstimatedCostCents),
					run.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&suiteName, "suite", "", "filter by suite name")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}
