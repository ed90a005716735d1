package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/places-search/internal/logging"
	"github.com/JakeFAU/places-search/internal/storage/postgres"
)

// migrate is swapped in tests.
var migrate = postgres.Migrate

func newMigrateCmd() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Applies the Postgres job-store schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			if dsn == "" {
				dsn = cfg.Store.Postgres.DSN
			}
			logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if err := migrate(cmd.Context(), dsn, logger.Named("migrate")); err != nil {
				return err
			}
			logger.Info("migrations applied")
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "Postgres DSN (defaults to store.postgres.dsn)")
	return cmd
}
