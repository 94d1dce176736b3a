// Package cli implements the oauth-server command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version = "dev"

	flagConfig   string
	flagLogLevel string
	flagEnvFile  string
)

const defaultEnvPath = "../../.env"

var rootCmd = &cobra.Command{
	Use:   "oauth-server",
	Short: "OAuth 2.0 authorization server and bearer gate for MCP endpoints",
	Long: "oauth-server issues authorization codes and opaque bearer tokens to registered MCP clients\n" +
		"and guards the /mcp/ endpoints it proxies to upstream services.\n\n" +
		"Run 'oauth-server serve' to start the HTTP server.",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "oauth-server %s\n", Version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "config.yaml", "Path to the YAML config file (optional)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", defaultEnvPath, "Default .env file, overridden by ENV_FILE_PATH")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(clientCmd)
	rootCmd.AddCommand(adminTokenCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			_ = cmd.Usage()
			os.Exit(2)
		}
		return nil
	})
}
