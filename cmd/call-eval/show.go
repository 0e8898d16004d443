package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/call-eval/internal/store"
)

func newShowCmd(st *cliState) *cobra.Command {
	var (
		output     string
		transcript bool
	)

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a past run with its per-case results",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadCfg(st)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(output)
			if err != nil {
				return fmt.Errorf("show: %w", err)
			}

			storeHandle, err := store.Open(st.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = storeHandle.Close() }()

			runID := strings.TrimSpace(args[0])
			run, err := storeHandle.GetRun(cmd.Context(), runID)
			if err != nil {
				return err
			}
			results, err := storeHandle.ListResults(cmd.Context(), runID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == formatJSON {
				return writeRunJSON(out, run, results)
			}

			fmt.Fprint(out, formatRunSummary(run))
			fmt.Fprint(out, formatResultsTable(results))

			if transcript {
				for _, res := range results {
					if res == nil || len(res.Transcript) == 0 {
						continue
					}
					fmt.Fprintf(out, "\n--- %s ---\n", res.CaseID)
					for _, msg := range res.Transcript {
						fmt.Fprintf(out, "[%d] %s: %s\n", msg.Turn, msg.Role, msg.Content)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", "table", "output format: table|json")
	cmd.Flags().BoolVar(&transcript, "transcript", false, "print the full transcript of each case")
	return cmd
}
