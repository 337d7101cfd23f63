package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Ping the classification service with the configured credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			client, err := newClassifierClient(cfg, ctx.newLogger(cfg))
			if err != nil {
				return err
			}
			if err := client.HealthCheck(cmd.Context()); err != nil {
				return fmt.Errorf("classification service health check failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Classification service reachable (model %s)\n",
				cfg.GetLLM().PrimaryModel)
			return nil
		},
	}
}
