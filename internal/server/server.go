package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ollamon/ollamon/internal/database"
	"github.com/ollamon/ollamon/internal/handlers"
	"github.com/ollamon/ollamon/internal/metrics"
	"github.com/ollamon/ollamon/internal/monitor"
)

// Config holds server dependencies.
type Config struct {
	Store        database.Store
	Monitor      *monitor.Monitor
	Hub          *Hub
	UpstreamURL  string
	ProxyTimeout time.Duration
}

// Server is the HTTP surface: query API, upstream proxy, and WebSocket.
type Server struct {
	Router chi.Router
	Config Config
	Hub    *Hub
}

// New creates a new Server with all routes and middleware configured.
func New(cfg Config) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(RequestLogger)
	r.Use(CORSMiddleware)
	r.Use(chimw.Recoverer)

	hub := cfg.Hub
	if hub == nil {
		hub = NewHub()
	}
	RegisterMetricsTopics(hub, cfg.Store)
	hub.Start()

	s := &Server{Router: r, Config: cfg, Hub: hub}
	s.registerRoutes()

	return s
}

// Run starts the HTTP server on the given address with graceful shutdown.
func (s *Server) Run(addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		slog.Info("shutting down server", "signal", sig.String())
	}

	s.Config.Monitor.Stop()
	s.Hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	slog.Info("server stopped gracefully")
	return nil
}

// registerRoutes mounts the API, proxy, and WebSocket routes.
func (s *Server) registerRoutes() {
	status := &handlers.StatusHandler{Monitor: s.Config.Monitor}
	sys := &handlers.SystemMetricsHandler{Store: s.Config.Store}
	logs := &handlers.RequestLogsHandler{Store: s.Config.Store}
	stats := &handlers.StatsHandler{Store: s.Config.Store}
	models := &handlers.ModelsHandler{Store: s.Config.Store, Monitor: s.Config.Monitor}
	gen := &handlers.GenerateHandler{Monitor: s.Config.Monitor}
	proxy := handlers.NewProxyHandler(s.Config.UpstreamURL, s.Config.ProxyTimeout)

	s.Router.Route("/api", func(r chi.Router) {
		r.Use(MaxBodySize(1 << 20)) // 1MB max body size

		r.Get("/health", handlers.HealthCheck)
		r.Get("/status", status.Get)
		r.Get("/metrics/system", sys.List)
		r.Get("/logs/requests", logs.List)
		r.Get("/stats/models", stats.Models)
		r.Get("/stats/ips", stats.IPs)
		r.Get("/stats/requests", stats.Requests)
		r.Get("/models", models.List)
		r.Post("/models/refresh", models.Refresh)
		r.Post("/test/generate", gen.Test)
	})

	// Proxy path skips the body limit; generation payloads can be large.
	s.Router.HandleFunc("/ollama/*", proxy.Forward)

	s.Router.Get("/ws", s.Hub.ServeWS(MetricsTopic))

	s.Router.Get("/metrics", metrics.Handler().ServeHTTP)
}
