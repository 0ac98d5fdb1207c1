// Command oidc-token is a thin IPC client that requests an access token
// for a loaded account (spec §1 "oidc-token ... treated as IPC clients").
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oidc-agent/agent/internal/config"
	"github.com/oidc-agent/agent/internal/ipc"
)

type accessTokenResult struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func main() {
	var scopeStr, audienceStr string

	root := &cobra.Command{
		Use:   "oidc-token <account-name>",
		Short: "Request an access token for a loaded account from the running agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sock, err := config.SocketPath()
			if err != nil {
				return err
			}
			client, err := ipc.Dial(sock)
			if err != nil {
				return err
			}
			defer client.Close()

			var result accessTokenResult
			err = client.Call("access_token", map[string]any{
				"name":      args[0],
				"scopes":    splitNonEmpty(scopeStr),
				"audiences": splitNonEmpty(audienceStr),
			}, &result)
			if err != nil {
				return err
			}
			fmt.Println(result.AccessToken)
			return nil
		},
	}
	root.Flags().StringVar(&scopeStr, "scope", "", "space-separated scopes to request")
	root.Flags().StringVar(&audienceStr, "audience", "", "space-separated audiences to request")

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
