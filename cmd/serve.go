package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API and the job scheduler",
		Long: `Starts the HTTP API and the scheduler claim loop in one process.
The command blocks until SIGINT or SIGTERM, then drains in-flight jobs
for up to scheduler.shutdown_grace_seconds before exiting.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			return a.Run(cmd.Context())
		},
	}
}
