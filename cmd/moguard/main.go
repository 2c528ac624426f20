package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/moguard-inc/moguard/internal/interfaces/cli/migrate"
	"github.com/moguard-inc/moguard/internal/interfaces/cli/server"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "moguard",
		Short: "Moguard - proxy fleet control plane",
		Long:  `Moguard manages subscriptions across a fleet of proxy panels and keeps upstream users in sync.`,
	}

	rootCmd.AddCommand(
		server.NewCommand(),
		migrate.NewCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
