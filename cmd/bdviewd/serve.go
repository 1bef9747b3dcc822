package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/steveyegge/bdviewd/internal/bdlog"
	"github.com/steveyegge/bdviewd/internal/config"
	"github.com/steveyegge/bdviewd/internal/daemon"
	"github.com/steveyegge/bdviewd/internal/metrics"
	"github.com/steveyegge/bdviewd/internal/pidfile"
)

var (
	listenAddrFlag string
	dbPathFlag     string
	binPathFlag    string
	changeLogFlag  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon in the foreground",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddrFlag, "listen", "", "HTTP/WebSocket listen address (default from config)")
	serveCmd.Flags().StringVar(&dbPathFlag, "db", "", "bd database path to pass through to every CLI invocation")
	serveCmd.Flags().StringVar(&binPathFlag, "bin", "", "path to the bd binary (default: bd on PATH)")
	serveCmd.Flags().StringVar(&changeLogFlag, "change-log", "", "path to bd's change log file, enabling the proactive watcher")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadDaemonConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if listenAddrFlag != "" {
		cfg.ListenAddr = listenAddrFlag
	}
	if dbPathFlag != "" {
		cfg.DBPath = dbPathFlag
	}
	if binPathFlag != "" {
		cfg.BinPath = binPathFlag
	}
	if changeLogFlag != "" {
		cfg.ChangeLogPath = changeLogFlag
	}

	logger := bdlog.New(bdlog.Options{Debug: debugFlag})

	runtimeDir := cfg.RuntimeDir
	if runtimeDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve runtime dir: %w", err)
		}
		runtimeDir = filepath.Join(home, ".bdviewd")
	}
	pidPath := filepath.Join(runtimeDir, "bdviewd.pid")

	if err := pidfile.Acquire(pidPath); err != nil {
		return err
	}
	defer func() {
		if err := pidfile.Release(pidPath); err != nil {
			logger.Warn("failed to release pid file", "error", err)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	shutdownMetrics, err := metrics.InitProvider(ctx, os.Getenv("BDVIEWD_OTLP_ENDPOINT"))
	if err != nil {
		return fmt.Errorf("init metrics provider: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			logger.Warn("metrics provider shutdown failed", "error", err)
		}
	}()

	srv := daemon.New(daemon.Config{
		ListenAddr:    cfg.ListenAddr,
		DBPath:        cfg.DBPath,
		BinPath:       cfg.BinPath,
		RunTimeout:    cfg.RunTimeout,
		Debounce:      cfg.Debounce,
		Heartbeat:     cfg.Heartbeat,
		ChangeLogPath: cfg.ChangeLogPath,
	}, logger)

	logger.Info("bdviewd starting", "listen", cfg.ListenAddr, "db", cfg.DBPath)
	return srv.Start(ctx)
}
