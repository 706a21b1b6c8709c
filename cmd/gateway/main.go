package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	Version    = "dev"
)

func main() {
	// Load env if it exists
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "admission-gateway",
		Short:         "Adaptive request admission in front of a web application",
		Long:          "Reverse proxy that shrinks every caller's request quota as the number of active callers grows",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "config file (JSON or YAML)")

	rootCmd.AddCommand(
		serveCmd(),
		checkConfigCmd(),
		cleanupCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "admission-gateway %s\n", Version)
		},
	}
}
