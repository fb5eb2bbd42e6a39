package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"trading-sim/internal/api"
	"trading-sim/pkg/config"
)

func newTokenCmd() *cobra.Command {
	var (
		account string
		admin   bool
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is empty; the API runs without auth")
			}
			if account == "" && !admin {
				return errors.New("--account is required for non-admin tokens")
			}
			tok, err := api.GenerateToken(cfg.JWTSecret, account, admin, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account the token is scoped to")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant access to every account and the admin endpoints")
	cmd.Flags().DurationVar(&ttl, "ttl", 72*time.Hour, "token lifetime")
	return cmd
}
