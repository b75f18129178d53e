// Command paymentctl runs operator tasks against the payment service's
// configuration and database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appkg "github.com/xenking/kart-payments/internal/app"
	"github.com/xenking/kart-payments/internal/storage/postgres"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	lg, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	rootCmd := &cobra.Command{
		Use:           "paymentctl",
		Short:         "Operator tools for the payment service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		selftestCmd(lg),
		migrateCmd(lg),
		exportLogCmd(lg),
		rebuildProjectionCmd(lg),
		seedAPIKeyCmd(lg),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		lg.Error("Command failed", zap.Error(err))
		os.Exit(1)
	}
}

// connect loads the configuration and opens the database.
func connect(ctx context.Context) (*appkg.Config, *pgxpool.Pool, error) {
	cfg, err := appkg.LoadConfigWithoutFlags()
	if err != nil {
		return nil, nil, err
	}
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}
