package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/providentiaww/mcp-oauth-gateway/internal/events"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired authorization codes and token pairs once",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadEnvironment(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = env.logger.Sync() }()

		svc, err := env.openServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		res, err := svc.sweeper.SweepExpired(cmd.Context())
		if err != nil {
			return err
		}
		events.Emit(cmd.Context(), svc.publisher, env.logger, events.New(events.RecordsSwept, "", map[string]string{
			"codes_removed":  fmt.Sprint(res.CodesRemoved),
			"tokens_removed": fmt.Sprint(res.TokensRemoved),
		}))
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d authorization codes and %d token pairs\n", res.CodesRemoved, res.TokensRemoved)
		return nil
	},
}
