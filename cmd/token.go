package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/villadispatch/api/middleware"
	"github.com/kilianp07/villadispatch/config"
)

var (
	tokenRole string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <staff-id>",
	Short: "Mint a development bearer token",
	Args:  cobra.ExactArgs(1),
	RunE:  mintToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", middleware.RoleStaff, "token role (staff or admin)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (defaults to http.token_ttl_minutes)")
	rootCmd.AddCommand(tokenCmd)
}

func mintToken(cmd *cobra.Command, args []string) error {
	if tokenRole != middleware.RoleStaff && tokenRole != middleware.RoleAdmin {
		return fmt.Errorf("unknown role %q", tokenRole)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.HTTP.JWTSecret == "" {
		return fmt.Errorf("http.jwt_secret is not set")
	}
	ttl := tokenTTL
	if ttl <= 0 {
		ttl = time.Duration(cfg.HTTP.TokenTTLMinutes) * time.Minute
	}
	tok, err := middleware.NewToken(cfg.HTTP.JWTSecret, args[0], tokenRole, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
	return err
}
