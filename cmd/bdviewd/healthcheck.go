package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/steveyegge/bdviewd/internal/config"
)

var healthcheckAddrFlag string

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check whether a running daemon answers /healthz",
	RunE:  runHealthcheck,
}

func init() {
	healthcheckCmd.Flags().StringVar(&healthcheckAddrFlag, "listen", "", "address to probe (default from config)")
}

func runHealthcheck(cmd *cobra.Command, args []string) error {
	addr := healthcheckAddrFlag
	if addr == "" {
		cfg, err := config.LoadDaemonConfig(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		addr = cfg.ListenAddr
	}

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get("http://" + addr + "/healthz")
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon at %s reported status %d", addr, resp.StatusCode)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}
