// Command oidc-gen is a thin IPC client that persists a new account
// configuration document and loads it into the running agent. The
// interactive prompting UX that normally assembles that document is out of
// scope (spec §1); this entrypoint accepts the assembled fields as flags.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oidc-agent/agent/internal/accounts"
	"github.com/oidc-agent/agent/internal/cliutil"
	"github.com/oidc-agent/agent/internal/config"
	"github.com/oidc-agent/agent/internal/ipc"
)

func main() {
	var name, issuer, clientID, clientSecret, scope, redirectURIs, password string

	root := &cobra.Command{
		Use:   "oidc-gen <account-name>",
		Short: "Assemble an account configuration, persist it encrypted, and load it into the running agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acct := &accounts.Account{
				Name:         args[0],
				IssuerURL:    issuer,
				ClientID:     clientID,
				ClientSecret: clientSecret,
				Scope:        scope,
				RedirectURIs: splitNonEmpty(redirectURIs),
			}
			if err := acct.Validate(); err != nil {
				return err
			}

			sock, err := config.SocketPath()
			if err != nil {
				return err
			}
			client, err := ipc.Dial(sock)
			if err != nil {
				return err
			}
			defer client.Close()

			pw := cliutil.ReadPassword(password)
			defer pw.Release()

			return client.Call("gen", map[string]any{
				"account":  acct,
				"password": pw.String(),
			}, nil)
		},
	}
	root.Flags().StringVar(&name, "name", "", "(unused; account name is the positional argument)")
	root.Flags().StringVar(&issuer, "issuer", "", "issuer URL")
	root.Flags().StringVar(&clientID, "client-id", "", "OAuth2 client ID")
	root.Flags().StringVar(&clientSecret, "client-secret", "", "OAuth2 client secret (confidential clients)")
	root.Flags().StringVar(&scope, "scope", "openid", "space-separated scopes")
	root.Flags().StringVar(&redirectURIs, "redirect-uris", "", "space-separated redirect URIs")
	root.Flags().StringVar(&password, "password", "", "encryption password (empty if omitted and OIDC_ENCRYPTION_PW unset)")
	_ = root.Flags().MarkHidden("name")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func splitNonEmpty(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Fields(s)
}
