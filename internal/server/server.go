// Package server assembles the scanner, watcher, tailer, hub, and
// controller into one running process behind a single HTTP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/fleet/internal/config"
	"github.com/haasonsaas/fleet/internal/controller"
	"github.com/haasonsaas/fleet/internal/observability"
	"github.com/haasonsaas/fleet/internal/prefs"
	"github.com/haasonsaas/fleet/internal/scanner"
	"github.com/haasonsaas/fleet/internal/tail"
	"github.com/haasonsaas/fleet/internal/transcript"
	"github.com/haasonsaas/fleet/internal/transport"
	"github.com/haasonsaas/fleet/internal/watch"
	"github.com/haasonsaas/fleet/internal/web"
)

// Server owns every long-lived component and their shutdown order.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics

	scanner    *scanner.Scanner
	prefsStore *prefs.Store
	tailer     *tail.Tailer
	hub        *transport.Hub
	controller *controller.Controller
	watcher    *watch.Watcher

	httpServer *http.Server
	listener   net.Listener
}

// New wires the component graph but starts nothing.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	prefsPath := cfg.PrefsPath
	if prefsPath == "" {
		p, err := prefs.DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("resolve preferences path: %w", err)
		}
		prefsPath = p
	}

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		metrics:    observability.NewMetrics(),
		prefsStore: prefs.NewStore(prefsPath, logger),
	}
	s.scanner = scanner.New(cfg.BasePaths, cfg.WorktreeMode, logger)

	s.tailer = tail.New(s.scanner.FindSessionFile, s.broadcastBatch, s.metrics, logger)
	s.hub = transport.NewHub(s.tailer, s.metrics, logger)
	s.controller = controller.New(cfg.AgentCommand, s.hub, s.metrics, logger)
	s.watcher = watch.New(cfg.BasePaths, time.Duration(cfg.DebounceMs)*time.Millisecond, s.onSessionActive, logger)

	handler := web.NewHandler(&web.Config{
		Scanner:    s.scanner,
		PrefsStore: s.prefsStore,
		Controller: s.controller,
		StaticDir:  cfg.StaticDir,
		Logger:     logger,
	})
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           s.buildMux(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// broadcastBatch is the tailer's emit hook; indirection keeps the
// tailer constructible before the hub exists.
func (s *Server) broadcastBatch(batch transcript.MessageBatch) {
	s.hub.BroadcastBatch(batch)
}

// onSessionActive runs on every debounced filesystem wake for a
// session: pull new transcript bytes, then tell connected clients the
// session moved.
func (s *Server) onSessionActive(sessionID string) {
	s.metrics.WatcherEvents.Inc()
	s.tailer.Advance(sessionID)
	s.hub.SessionActivity(sessionID, time.Now())
}

// buildMux mounts /ws and /metrics outside the logging middleware. The
// logging response wrapper does not implement http.Hijacker, which the
// websocket upgrade needs, and scraping /metrics should not feed the
// request metrics it reports.
func (s *Server) buildMux(handler *web.Handler) http.Handler {
	wrap := web.RecoveryMiddleware(s.logger)
	logged := wrap(web.LoggingMiddleware(s.logger, s.metrics)(handler.Mount()))

	mux := http.NewServeMux()
	mux.Handle("/ws", s.hub)
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	mux.Handle("/", logged)
	return mux
}

// Start binds the listener and brings up the watcher and poll pulse.
// It returns once everything is running.
func (s *Server) Start() error {
	if err := s.watcher.Start(); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	s.tailer.StartPulse(time.Duration(s.cfg.PollIntervalMs) * time.Millisecond)

	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.watcher.Stop()
		s.tailer.Stop()
		return fmt.Errorf("http listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("server started",
		"addr", s.Addr(),
		"basePaths", s.cfg.BasePaths,
		"agent", s.cfg.AgentCommand)
	return nil
}

// Addr is the bound listen address, useful when the configured port
// was 0.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Stop tears the process down: stop ingest first so no new frames are
// produced, drain HTTP, then drop websocket clients and child
// processes.
func (s *Server) Stop(ctx context.Context) error {
	s.watcher.Stop()
	s.tailer.Stop()

	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
	}

	s.hub.Shutdown()
	s.controller.Shutdown()
	s.listener = nil
	return err
}
