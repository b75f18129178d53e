package main

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xenking/kart-payments/internal/domain/payment"
	"github.com/xenking/kart-payments/internal/eventlog"
	"github.com/xenking/kart-payments/internal/storage/postgres"
)

func exportLogCmd(lg *zap.Logger) *cobra.Command {
	var (
		since  string
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "export-log",
		Short: "Archive event log entries as gzip JSON lines, one file per gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, err := parseSince(since, time.Now())
			if err != nil {
				return err
			}

			_, pool, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			gateways := make([]string, 0, len(payment.Gateways()))
			for _, gw := range payment.Gateways() {
				gateways = append(gateways, gw.String())
			}

			files, err := eventlog.Export(cmd.Context(), postgres.NewEventLog(pool), from, outDir, gateways)
			if err != nil {
				return errors.Wrap(err, "export")
			}
			for _, f := range files {
				lg.Info("Archive written",
					zap.String("gateway", f.Gateway),
					zap.String("path", f.Path),
					zap.Int("entries", f.Entries),
				)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "24h", "Start of the export: a duration back from now or an RFC 3339 time")
	cmd.Flags().StringVar(&outDir, "out-dir", "exports", "Directory for the archives")
	return cmd
}

// parseSince accepts a duration back from now or an RFC 3339 timestamp.
func parseSince(v string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, errors.Errorf("invalid --since %q: want a duration or an RFC 3339 time", v)
	}
	return t, nil
}
