package main

import (
	"os"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appkg "github.com/xenking/kart-payments/internal/app"
	"github.com/xenking/kart-payments/internal/gateway"
	"github.com/xenking/kart-payments/internal/selftest"
)

var errSelfTestFailed = errors.New("self-test failed")

// selftestCmd runs the gateway diagnostics from the configuration alone. It
// never opens the database.
func selftestCmd(lg *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "Check gateway configuration, payment creation, webhook rejection and rate limiting",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := appkg.LoadConfigWithoutFlags()
			if err != nil {
				return err
			}

			client := gateway.NewHTTPClient(cfg.Timeouts.Gateway, nil)
			orch, err := gateway.NewOrchestrator(
				cfg.Gateways.Adapters(gateway.Callbacks{BaseURL: cfg.BaseURL}, client),
				gateway.Options{Timeout: cfg.Timeouts.Gateway, Logger: lg.Named("gateway")},
			)
			if err != nil {
				return err
			}

			rep := selftest.New(orch, cfg.Gateways.Secrets(), cfg.Webhook.RateLimit, lg.Named("selftest")).Run(cmd.Context())

			e := jx.Encoder{}
			e.SetIdent(2)
			rep.Encode(&e)
			if _, err := os.Stdout.Write(append(e.Bytes(), '\n')); err != nil {
				return err
			}
			if !rep.Passed {
				return errSelfTestFailed
			}
			return nil
		},
	}
}
