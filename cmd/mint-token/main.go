package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	pkgAuth "github.com/Cdineshreddy12/Wrapper-sub013/pkg/auth"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/config"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "mint-token",
	Short: "Issue a bearer token for the credits API",
	Long: `Issue an HS256 service token signed with CREDITS_JWT_SECRET.
Omit --tenant for an operator token that may act on any tenant.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runMint,
}

func init() {
	rootCmd.Flags().StringP("actor", "a", "", "caller identity recorded as initiated_by")
	rootCmd.Flags().StringP("tenant", "t", "", "tenant id the token is restricted to")
	rootCmd.Flags().Int("ttl-minutes", 0, "override CREDITS_JWT_EXPIRATION_MINUTES")
	_ = rootCmd.MarkFlagRequired("actor")
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "mint-token"})
	if err := rootCmd.Execute(); err != nil {
		logg.Error(context.Background(), "failed to mint token", err)
		os.Exit(1)
	}
}

func runMint(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	actor, _ := cmd.Flags().GetString("actor")
	tenant, _ := cmd.Flags().GetString("tenant")
	ttl, _ := cmd.Flags().GetInt("ttl-minutes")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	jwtCfg := cfg.JWT
	if ttl > 0 {
		jwtCfg.ExpirationMinutes = ttl
	}

	payload := pkgAuth.ServiceTokenPayload{Actor: actor}
	if raw := strings.TrimSpace(tenant); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid --tenant %q: %w", raw, err)
		}
		payload.TenantID = &id
	}

	token, err := pkgAuth.MintServiceToken(jwtCfg, time.Now().UTC(), payload)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
