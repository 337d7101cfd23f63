package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"casemill/internal/enrich"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var forceFlag bool
	var limitFlag int

	cmd := &cobra.Command{
		Use:   "run <dataset>",
		Short: "Run AI enrichment over a dataset",
		Long: `Run AI enrichment over a dataset. Records whose input hash already has a
clean checkpoint are skipped; the rest are classified in batches. A lock on
the data directory keeps concurrent pipelines from interleaving writes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			lock := flock.New(cfg.LockPath())
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire pipeline lock: %w", err)
			}
			if !locked {
				return errors.New("another enrichment run is already in progress")
			}
			defer lock.Unlock()

			logger := ctx.newLogger(cfg)
			classifier, err := newClassifierClient(cfg, logger)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc := enrich.NewService(cfg, st, classifier, logger)
			runID, err := svc.RunOnce(runCtx, args[0], enrich.RunOptions{
				Force: forceFlag,
				Limit: limitFlag,
			})
			if err != nil {
				return err
			}

			run, err := st.GetRun(runCtx, runID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run %s %s\n", run.RunID, run.Status)
			fmt.Fprintln(out, renderTable(
				[]string{"Total", "Processed", "Skipped", "Failed", "Tokens"},
				[][]string{{
					fmt.Sprint(run.TotalRows),
					fmt.Sprint(run.Processed),
					fmt.Sprint(run.Skipped),
					fmt.Sprint(run.Failed),
					fmt.Sprint(run.Usage.TotalTokens),
				}},
				0, 1, 2, 3, 4))
			if run.Failed > 0 {
				fmt.Fprintf(out, "%d records failed classification; rerun to retry them\n", run.Failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&forceFlag, "force", false, "Reclassify records even when their checkpoints are current")
	cmd.Flags().IntVar(&limitFlag, "limit", 0, "Only consider the first N records")
	return cmd
}
