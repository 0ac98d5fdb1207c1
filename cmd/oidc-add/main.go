// Command oidc-add is a thin IPC client that loads an account into the
// running agent (spec §1 "oidc-add ... treated as IPC clients").
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oidc-agent/agent/internal/cliutil"
	"github.com/oidc-agent/agent/internal/config"
	"github.com/oidc-agent/agent/internal/ipc"
)

func main() {
	var name, password string
	var lifetime int64
	var confirm bool

	root := &cobra.Command{
		Use:   "oidc-add <account-name>",
		Short: "Load a previously configured account into the running agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name = args[0]
			sock, err := config.SocketPath()
			if err != nil {
				return err
			}
			client, err := ipc.Dial(sock)
			if err != nil {
				return err
			}
			defer client.Close()

			configDir := config.Dir()
			pw := cliutil.ReadPassword(password)
			defer pw.Release()
			acct, err := config.LoadAccount(configDir, name, pw)
			if err != nil {
				return err
			}

			return client.Call("add", map[string]any{
				"account":  acct,
				"password": pw.String(),
				"lifetime": lifetime,
				"confirm":  confirm,
			}, nil)
		},
	}
	root.Flags().StringVar(&password, "password", "", "decryption password (empty if omitted and OIDC_ENCRYPTION_PW unset)")
	root.Flags().Int64Var(&lifetime, "lifetime", 0, "account lifetime in seconds (0 = unlimited)")
	root.Flags().BoolVar(&confirm, "confirm", false, "require interactive confirmation before releasing tokens")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
