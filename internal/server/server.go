package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dreschagin/plugin-webroot/internal/httpx"
	"github.com/dreschagin/plugin-webroot/internal/metrics"
	"github.com/dreschagin/plugin-webroot/internal/ratelimit"
	"github.com/dreschagin/plugin-webroot/internal/registry"
	"github.com/dreschagin/plugin-webroot/internal/webroot"
	"github.com/dreschagin/plugin-webroot/pkg/config"
)

// DefaultMount labels requests answered by the landing page.
const DefaultMount = "default"

// Server is the HTTP host in front of the plugin registry.
type Server struct {
	cfg      *config.Config
	registry *registry.Registry
	logger   *slog.Logger

	promRegistry *prometheus.Registry
	metrics      *metrics.Metrics
	ready        atomic.Bool
}

// New installs the embedded landing page as the registry default and
// prepares metrics. Plugins may still be registered until Handler is called.
func New(cfg *config.Config, reg *registry.Registry, logger *slog.Logger) (*Server, error) {
	assets, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("static assets: %w", err)
	}
	landing, err := webroot.NewFS(webroot.Config{
		Name:   DefaultMount,
		Dir:    "embedded",
		Logger: logger,
	}, assets)
	if err != nil {
		return nil, err
	}
	if err := reg.SetDefault(landing); err != nil {
		return nil, err
	}

	promRegistry := prometheus.NewRegistry()
	return &Server{
		cfg:          cfg,
		registry:     reg,
		logger:       logger,
		promRegistry: promRegistry,
		metrics:      metrics.New(promRegistry),
	}, nil
}

// Ready reports whether the routing table has been built.
func (s *Server) Ready() bool {
	return s.ready.Load()
}

// Handler freezes the registry and returns the full host handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !s.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	if s.cfg.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}))
	}

	var staticHandler http.Handler = s.registry.Routes(s.metrics.Middleware)
	if s.cfg.RateLimit.Enabled {
		limiter := ratelimit.New(s.cfg.RateLimit.RPS, s.cfg.RateLimit.Burst)
		staticHandler = limiter.Middleware(s.metrics.RateLimitDropped.Inc, staticHandler)
	}
	if s.cfg.Compression.Enabled {
		staticHandler = httpx.WithCompression(staticHandler)
	}
	mux.Handle("/", staticHandler)

	var handler http.Handler = mux
	handler = httpx.WithRequestID(handler)
	handler = httpx.WithLogging(s.logger, handler)
	handler = httpx.WithRecovery(s.logger, handler)

	s.metrics.Mounts.Set(float64(len(s.registry.Mounts())))
	s.ready.Store(true)
	return handler
}

// Run listens on the configured port until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Server.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve answers requests on ln and shuts down gracefully once ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(s.logger.Handler(), slog.LevelError),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("webroot server started", "addr", ln.Addr().String(), "mounts", s.registry.Mounts())
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutdown signal received")
	s.ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
