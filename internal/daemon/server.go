// Package daemon hosts the browser-facing HTTP/WebSocket server: the
// dispatch table routing wire.Envelope types to the registry,
// scheduler, and mutation handler, plus the process lifecycle itself.
// Grounded on internal/rpc/server_lifecycle_conn.go's Start/Stop/
// handleSignals/graceful-shutdown shape, adapted from a Unix-socket
// listener to net/http.
package daemon

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/steveyegge/bdviewd/internal/cliexec"
	"github.com/steveyegge/bdviewd/internal/metrics"
	"github.com/steveyegge/bdviewd/internal/mutate"
	"github.com/steveyegge/bdviewd/internal/registry"
	"github.com/steveyegge/bdviewd/internal/scheduler"
	"github.com/steveyegge/bdviewd/internal/session"
	"github.com/steveyegge/bdviewd/internal/watch"
)

// Config bundles the daemon's runtime tunables (spec.md §6.4).
type Config struct {
	ListenAddr    string
	DBPath        string
	BinPath       string
	RunTimeout    time.Duration
	Debounce      time.Duration
	Heartbeat     time.Duration
	ChangeLogPath string // empty disables the change watcher
}

// Server owns the HTTP listener and every core component instance for
// one daemon process.
type Server struct {
	cfg    Config
	logger *slog.Logger

	Registry  *registry.Registry
	Scheduler *scheduler.Scheduler
	Adapter   *cliexec.Adapter
	Hub       *session.Hub
	Watcher   *watch.Watcher
	Metrics   *metrics.Metrics

	httpServer *http.Server
	stopOnce   sync.Once
	doneCh     chan struct{}
}

// New assembles every core component and returns a ready-to-Start
// Server.
func New(cfg Config, logger *slog.Logger) *Server {
	adapter := &cliexec.Adapter{Bin: cfg.BinPath, DBPath: cfg.DBPath, Timeout: cfg.RunTimeout}
	if adapter.Bin == "" {
		adapter.Bin = "bd"
	}

	reg := registry.New()
	sched := scheduler.New(reg, newFetcher(adapter), logger, cfg.Debounce)
	dispatcher := NewDispatcher(reg, sched, adapter, nil, logger)
	hub := session.NewHub(dispatcher, cfg.Heartbeat, logger)

	// mutate.Handler needs the hub for fan-out, and the hub needs the
	// dispatcher to exist first; close this cycle by wiring the mutator
	// in after both are built.
	mutator := mutate.New(adapter, sched, hub, logger)
	dispatcher.mutator = mutator

	m := metrics.New()
	sched.SetMetrics(m)
	hub.SetMetrics(m)
	mutator.SetMetrics(m)
	dispatcher.SetMetrics(m)

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		Registry:  reg,
		Scheduler: sched,
		Adapter:   adapter,
		Hub:       hub,
		Metrics:   m,
		doneCh:    make(chan struct{}),
	}

	if cfg.ChangeLogPath != "" {
		s.Watcher = watch.New(cfg.ChangeLogPath, sched, logger)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/ws", s.handleWS)
	s.httpServer = &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID, err := newSessionID()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.Hub.ServeHTTP(w, r, sessionID)
}

func newSessionID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Start runs the change watcher (if configured) and the HTTP server
// until Stop is called or the listener errors. It blocks, matching the
// teacher's Server.Start contract.
func (s *Server) Start(ctx context.Context) error {
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()

	if s.Watcher != nil {
		go func() {
			if err := s.Watcher.Run(watchCtx); err != nil {
				s.logger.Warn("change watcher exited", "error", err)
			}
		}()
	}

	go s.handleSignals()

	s.logger.Info("listening", "addr", s.cfg.ListenAddr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		_ = s.Stop(context.Background())
	case <-s.doneCh:
	}
}

// Stop gracefully shuts the HTTP server down, giving in-flight
// connections up to 5 seconds to finish, matching the teacher's
// Stop()'s fixed cleanup timeout.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		close(s.doneCh)
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if shutdownErr := s.httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			err = fmt.Errorf("daemon shutdown: %w", shutdownErr)
		}
	})
	return err
}
