package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [dataset]",
		Short: "Show dataset coverage, or list all datasets",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				datasets, err := st.ListDatasets(cmd.Context())
				if err != nil {
					return err
				}
				if len(datasets) == 0 {
					fmt.Fprintln(out, "No datasets ingested")
					return nil
				}
				rows := make([][]string, 0, len(datasets))
				for _, ds := range datasets {
					rows = append(rows, []string{
						ds.Name,
						string(ds.KeyMode),
						fmt.Sprint(ds.RowCount),
						ds.SourceFile,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Dataset", "Mode", "Rows", "Source"}, rows, 2))
				return nil
			}

			name := args[0]
			ds, err := st.GetDataset(cmd.Context(), name)
			if err != nil {
				return err
			}
			if ds == nil {
				return fmt.Errorf("unknown dataset %q", name)
			}
			total, err := st.CountRecords(cmd.Context(), name)
			if err != nil {
				return err
			}
			enriched, err := st.CountEnriched(cmd.Context(), name)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Dataset %s (mode %s, source %s)\n", ds.Name, ds.KeyMode, ds.SourceFile)
			fmt.Fprintf(out, "Records: %d, enriched: %d", total, enriched)
			if total > 0 {
				fmt.Fprintf(out, " (%.1f%%)", float64(enriched)*100/float64(total))
			}
			fmt.Fprintln(out)

			runs, err := st.ListRuns(cmd.Context(), name, 5)
			if err != nil {
				return err
			}
			if len(runs) > 0 {
				rows := make([][]string, 0, len(runs))
				for _, run := range runs {
					rows = append(rows, []string{
						run.RunID,
						string(run.Status),
						fmt.Sprint(run.Processed),
						fmt.Sprint(run.Skipped),
						fmt.Sprint(run.Failed),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Recent Run", "Status", "Processed", "Skipped", "Failed"},
					rows, 2, 3, 4))
			}
			return nil
		},
	}
	return cmd
}
