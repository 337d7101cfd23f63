package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"casemill/internal/enrich"
)

func newResetAICommand(ctx *commandContext) *cobra.Command {
	var yesFlag bool

	cmd := &cobra.Command{
		Use:   "reset-ai <dataset>",
		Short: "Delete a dataset's checkpoints and clear its AI labels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yesFlag {
				return fmt.Errorf("reset-ai deletes checkpoints for dataset %q; pass --yes to confirm", args[0])
			}

			cfg, st, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			logger := ctx.newLogger(cfg)
			svc := enrich.NewService(cfg, st, nil, logger)
			deleted, err := svc.ResetAI(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d checkpoints and cleared AI labels for dataset %q\n",
				deleted, args[0])
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yesFlag, "yes", "y", false, "Confirm the reset")
	return cmd
}
