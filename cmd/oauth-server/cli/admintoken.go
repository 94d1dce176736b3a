package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/providentiaww/mcp-oauth-gateway/cmd/oauth-server/auth"
)

var (
	flagAdminSubject string
	flagAdminTTL     time.Duration
)

var adminTokenCmd = &cobra.Command{
	Use:   "admin-token",
	Short: "Mint a bearer token for the admin API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadEnvironment(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = env.logger.Sync() }()

		token, err := auth.MintAdminToken(env.oauth.AdminJWTSecret, flagAdminSubject, flagAdminTTL)
		if err != nil {
			return fmt.Errorf("minting admin token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	adminTokenCmd.Flags().StringVar(&flagAdminSubject, "subject", "", "Operator identity recorded in audit events")
	adminTokenCmd.Flags().DurationVar(&flagAdminTTL, "ttl", time.Hour, "Token lifetime")
	_ = adminTokenCmd.MarkFlagRequired("subject")
}
