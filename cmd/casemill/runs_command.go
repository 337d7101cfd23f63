package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"casemill/internal/store"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var datasetFlag string
	var limitFlag int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent enrichment runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(cmd.Context(), datasetFlag, limitFlag)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
				return nil
			}

			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					run.RunID,
					run.Dataset,
					string(run.Status),
					fmt.Sprint(run.TotalRows),
					fmt.Sprint(run.Processed),
					fmt.Sprint(run.Skipped),
					fmt.Sprint(run.Failed),
					fmt.Sprint(run.Usage.TotalTokens),
					formatRunTime(run),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Run", "Dataset", "Status", "Total", "Processed", "Skipped", "Failed", "Tokens", "Started"},
				rows, 3, 4, 5, 6, 7))
			return nil
		},
	}

	cmd.Flags().StringVarP(&datasetFlag, "dataset", "d", "", "Only show runs for this dataset")
	cmd.Flags().IntVar(&limitFlag, "limit", 20, "Maximum number of runs to list")
	return cmd
}

func formatRunTime(run *store.Run) string {
	if run.StartedAt.IsZero() {
		return ""
	}
	return run.StartedAt.UTC().Format(time.RFC3339)
}
