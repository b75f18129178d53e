package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xenking/kart-payments/internal/domain/auth"
	"github.com/xenking/kart-payments/internal/storage/postgres"
)

func seedAPIKeyCmd(lg *zap.Logger) *cobra.Command {
	var (
		name   string
		key    string
		scopes []string
	)
	cmd := &cobra.Command{
		Use:   "seed-apikey",
		Short: "Store an operator API key; prints the key when one is generated",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, s := range scopes {
				switch s {
				case auth.ScopeReturns, auth.ScopePayments, auth.ScopeAdmin:
				default:
					return errors.Errorf("unknown scope %q", s)
				}
			}

			cfg, pool, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			if cfg.APIKeyPepper == "" {
				return errors.New("api key pepper is required: set PAYGATE_API_KEY_PEPPER")
			}

			generated := key == ""
			if generated {
				buf := make([]byte, 24)
				if _, err := rand.Read(buf); err != nil {
					return errors.Wrap(err, "generate key")
				}
				key = "pk_" + hex.EncodeToString(buf)
			}

			info := &auth.APIKeyInfo{
				ID:      uuid.New().String(),
				KeyHash: auth.Hash([]byte(cfg.APIKeyPepper), key),
				Name:    name,
				Scopes:  scopes,
			}
			if err := postgres.NewAPIKeyRepository(pool).Save(cmd.Context(), info); err != nil {
				return errors.Wrap(err, "save api key")
			}
			lg.Info("API key stored", zap.String("name", name), zap.String("scopes", strings.Join(scopes, ",")))
			if generated {
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "operator", "Key name")
	cmd.Flags().StringVar(&key, "key", "", "Key to store; generated when empty")
	cmd.Flags().StringSliceVar(&scopes, "scopes", []string{auth.ScopeReturns}, "Granted scopes (returns, payments, admin)")
	return cmd
}
