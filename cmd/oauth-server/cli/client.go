package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/providentiaww/mcp-oauth-gateway/internal/events"
	"github.com/providentiaww/mcp-oauth-gateway/internal/oauth"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Manage registered OAuth clients",
}

var (
	flagClientName          string
	flagClientRedirectURIs  []string
	flagClientSecret        string
	flagClientPublic        bool
	flagClientUpstreamToken string
)

// withServices runs fn against the configured store.
func withServices(ctx context.Context, fn func(env *environment, svc *services) error) error {
	env, err := loadEnvironment(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = env.logger.Sync() }()

	svc, err := env.openServices(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(env, svc)
}

var clientAddCmd = &cobra.Command{
	Use:   "add <client-id>",
	Short: "Register a client and print its secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(env *environment, svc *services) error {
			client, secret, err := svc.registry.Register(cmd.Context(), oauth.ClientSpec{
				ClientID:      args[0],
				Name:          flagClientName,
				RedirectURIs:  flagClientRedirectURIs,
				UpstreamToken: flagClientUpstreamToken,
				Secret:        flagClientSecret,
				Public:        flagClientPublic,
			})
			if err != nil {
				return err
			}
			events.Emit(cmd.Context(), svc.publisher, env.logger, events.New(events.ClientRegistered, client.ClientID, map[string]string{
				"name": client.Name,
			}))

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "client_id:     %s\n", client.ClientID)
			if secret != "" {
				fmt.Fprintf(out, "client_secret: %s\n", secret)
				fmt.Fprintln(out, "The secret is shown once and cannot be recovered.")
			}
			return nil
		})
	},
}

var clientListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered clients",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(_ *environment, svc *services) error {
			clients, err := svc.registry.List(cmd.Context())
			if err != nil {
				return err
			}
			return printClients(cmd, clients)
		})
	},
}

func printClients(cmd *cobra.Command, clients []*oauth.Client) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CLIENT ID\tNAME\tACTIVE\tPUBLIC\tREDIRECT URIS")
	for _, c := range clients {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%d\n", c.ClientID, c.Name, c.Active, c.IsPublic(), len(c.RedirectURIs))
	}
	return tw.Flush()
}

var clientDeactivateCmd = &cobra.Command{
	Use:   "deactivate <client-id>",
	Short: "Stop a client from obtaining new grants; issued tokens stay valid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(env *environment, svc *services) error {
			if err := svc.registry.Deactivate(cmd.Context(), args[0]); err != nil {
				return err
			}
			events.Emit(cmd.Context(), svc.publisher, env.logger, events.New(events.ClientDeactivated, args[0], nil))
			fmt.Fprintf(cmd.OutOrStdout(), "client %s deactivated\n", args[0])
			return nil
		})
	},
}

var clientRevokeCmd = &cobra.Command{
	Use:   "revoke <client-id>",
	Short: "Revoke every live token pair of a client",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(env *environment, svc *services) error {
			n, err := svc.tokens.RevokeAllForClient(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			events.Emit(cmd.Context(), svc.publisher, env.logger, events.New(events.ClientTokensRevoked, args[0], map[string]string{
				"revoked": fmt.Sprint(n),
			}))
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %d token pairs for %s\n", n, args[0])
			return nil
		})
	},
}

func init() {
	clientAddCmd.Flags().StringVar(&flagClientName, "name", "", "Display name")
	clientAddCmd.Flags().StringSliceVar(&flagClientRedirectURIs, "redirect-uri", nil, "Allowed redirect URI pattern, repeatable; '*' matches within one path segment")
	clientAddCmd.Flags().StringVar(&flagClientSecret, "secret", "", "Client secret; generated when empty")
	clientAddCmd.Flags().BoolVar(&flagClientPublic, "public", false, "Register without a secret")
	clientAddCmd.Flags().StringVar(&flagClientUpstreamToken, "upstream-token", "", "Credential forwarded to MCP upstreams for this client's tokens")
	_ = clientAddCmd.MarkFlagRequired("redirect-uri")

	clientCmd.AddCommand(clientAddCmd, clientListCmd, clientDeactivateCmd, clientRevokeCmd)
}
