// Command bdviewd runs the reactive subscription daemon that wraps
// the bd CLI for browser clients. Grounded on cmd/bd/main.go's cobra
// root command structure, pared down to the serve, healthcheck and
// version subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags, matching cmd/bd's Version var.
var Version = "dev"

var (
	configPath string
	debugFlag  bool
)

var rootCmd = &cobra.Command{
	Use:   "bdviewd",
	Short: "Reactive subscription daemon for the bd issue tracker",
	Long: `bdviewd wraps the bd CLI in a persistent WebSocket server.
Browser clients subscribe to list views and receive push diffs as the
underlying tracker state changes, instead of polling.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to bdviewd YAML config file (default: none; defaults plus environment only)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthcheckCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the bdviewd version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), Version)
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "bdviewd:", err)
		os.Exit(1)
	}
}
