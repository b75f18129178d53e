package main

import (
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xenking/kart-payments/internal/domain/transaction"
	"github.com/xenking/kart-payments/internal/eventlog"
	"github.com/xenking/kart-payments/internal/storage/postgres"
)

func rebuildProjectionCmd(lg *zap.Logger) *cobra.Command {
	var archive string
	cmd := &cobra.Command{
		Use:   "rebuild-projection",
		Short: "Recompute transaction state from the event log",
		Long: `Replays payment lifecycle entries and overwrites the stored transactions.
Entries come from the database log, or from an export-log archive with --archive.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			log := postgres.NewEventLog(pool)
			var entries []eventlog.Entry
			if archive != "" {
				f, err := os.Open(archive)
				if err != nil {
					return errors.Wrap(err, "open archive")
				}
				entries, err = eventlog.ReadArchive(f)
				_ = f.Close()
				if err != nil {
					return errors.Wrap(err, "read archive")
				}
			} else {
				entries, err = log.ListSince(ctx, time.Time{}, "")
				if err != nil {
					return errors.Wrap(err, "list entries")
				}
			}

			rec := eventlog.NewRecorder(log, nil, lg.Named("events"))
			svc := transaction.NewService(postgres.NewTransactionStore(pool), rec, lg.Named("transaction"))
			n, err := svc.Replay(ctx, entries)
			if err != nil {
				return errors.Wrap(err, "replay")
			}
			lg.Info("Projection rebuilt", zap.Int("entries", len(entries)), zap.Int("transactions", n))
			return nil
		},
	}
	cmd.Flags().StringVar(&archive, "archive", "", "Replay an export-log archive instead of the database log")
	return cmd
}
