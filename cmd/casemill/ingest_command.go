package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"casemill/internal/ingest"
	"casemill/internal/store"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var datasetFlag string
	var modeFlag string
	var limitFlag int

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Load a CSV/XLSX grievance export into a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			logger := ctx.newLogger(cfg)
			summary, err := ingest.New(st, logger).IngestFile(cmd.Context(), args[0], ingest.Options{
				Dataset:      datasetFlag,
				Mode:         store.KeyMode(modeFlag),
				Limit:        limitFlag,
				MaxTextChars: cfg.Ingest.MaxTextChars,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Ingested %d records into dataset %q (mode %s, source %s)\n",
				summary.RowCount, summary.Dataset, summary.KeyMode, summary.SourceFile)
			if summary.DroppedDups > 0 {
				fmt.Fprintf(out, "Dropped %d duplicate rows\n", summary.DroppedDups)
			}
			if summary.Prefilled > 0 {
				fmt.Fprintf(out, "Pre-filled AI labels for %d records from existing checkpoints\n", summary.Prefilled)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&datasetFlag, "dataset", "d", "", "Dataset name (defaults to a slug of the file name)")
	cmd.Flags().StringVarP(&modeFlag, "mode", "m", string(store.KeyModeTicket), "Dedupe mode: ticket or row")
	cmd.Flags().IntVar(&limitFlag, "limit", 0, "Only read the first N raw rows")
	return cmd
}
