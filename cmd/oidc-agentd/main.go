// Command oidc-agentd is the agent daemon entrypoint: it parses flags via
// cobra, configures logging, and runs AgentLoop until a shutdown signal
// arrives (spec §4.9).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oidc-agent/agent/internal/agent"
	"github.com/oidc-agent/agent/internal/config"
	"github.com/oidc-agent/agent/internal/fetch"
	"github.com/oidc-agent/agent/internal/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	exitCode := 0
	var debug bool

	root := &cobra.Command{
		Use:   "oidc-agentd",
		Short: "OIDC agent daemon: holds encrypted accounts and serves access tokens over a local socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.Configure(os.Stderr, viper.GetBool("debug"))
			configDir := config.Dir()
			if err := os.MkdirAll(configDir, 0700); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			a := agent.New(fetch.NewDefault(), configDir)
			exitCode = a.Run(context.Background())
			return nil
		},
	}
	root.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	_ = viper.BindPFlag("debug", root.Flags().Lookup("debug"))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return exitCode
}
