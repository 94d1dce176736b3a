package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/providentiaww/mcp-oauth-gateway/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations to the postgres store",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadEnvironment(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = env.logger.Sync() }()

		opts := env.storageOptions()
		if strings.ToLower(opts.Driver) != storage.DriverPostgres {
			return errors.New("migrate requires the postgres storage driver")
		}

		store, err := storage.NewPostgresStore(cmd.Context(), opts.Postgres)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Migrate(cmd.Context()); err != nil {
			return err
		}
		env.logger.Info("migrations applied")
		return nil
	},
}
