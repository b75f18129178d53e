package main

import (
	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xenking/kart-payments/internal/storage/postgres"
)

func migrateCmd(lg *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, pool, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := postgres.RunMigrations(cmd.Context(), pool); err != nil {
				return errors.Wrap(err, "migrate")
			}
			lg.Info("Schema applied")
			return nil
		},
	}
}
