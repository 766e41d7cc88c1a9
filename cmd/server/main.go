package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ollamon/ollamon/internal/config"
	"github.com/ollamon/ollamon/internal/database"
	"github.com/ollamon/ollamon/internal/monitor"
	"github.com/ollamon/ollamon/internal/ollama"
	"github.com/ollamon/ollamon/internal/server"
	"github.com/ollamon/ollamon/pkg/version"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	listenAddr := flag.String("listen", "", "HTTP listen address (overrides config)")
	dbDriver := flag.String("db-driver", "", "Database driver: sqlite or postgres (overrides config)")
	dbPath := flag.String("db", "", "SQLite database file path (overrides config)")
	dbDSN := flag.String("db-dsn", "", "PostgreSQL DSN (overrides config)")
	upstream := flag.String("upstream", "", "Upstream server base URL (overrides config)")
	processName := flag.String("process", "", "Monitored process name (overrides config)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ollamon %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *dbDriver != "" {
		cfg.DBDriver = *dbDriver
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *dbDSN != "" {
		cfg.DBDSN = *dbDSN
	}
	if *upstream != "" {
		cfg.UpstreamURL = *upstream
	}
	if *processName != "" {
		cfg.ProcessName = *processName
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	store, err := openStore(cfg)
	if err != nil {
		slog.Error("opening store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := store.Migrate(ctx); err != nil {
		cancel()
		slog.Error("migrating schema", "error", err)
		os.Exit(1)
	}
	cancel()

	hub := server.NewHub()
	client := ollama.New(cfg.UpstreamURL, cfg.ProxyTimeout.Std(), cfg.GenerateTimeout.Std())
	mon := monitor.New(monitor.Config{
		Store:       store,
		Client:      client,
		Publisher:   hub,
		Logger:      logger,
		ProcessName: cfg.ProcessName,
		Interval:    cfg.SampleInterval.Std(),
		Backoff:     cfg.ErrorBackoff.Std(),
	})
	mon.Start()

	// Seed the model snapshot and pin the default model; failure here is
	// fine, the upstream may simply not be running yet.
	refreshCtx, cancelRefresh := context.WithTimeout(context.Background(), cfg.ProxyTimeout.Std())
	if _, err := mon.RefreshModels(refreshCtx); err != nil {
		slog.Warn("initial model refresh failed", "error", err)
	}
	cancelRefresh()

	slog.Info("starting ollamon",
		"listen", cfg.ListenAddr,
		"upstream", cfg.UpstreamURL,
		"db_driver", cfg.DBDriver,
		"process", cfg.ProcessName,
		"version", version.Version,
	)

	srv := server.New(server.Config{
		Store:        store,
		Monitor:      mon,
		Hub:          hub,
		UpstreamURL:  cfg.UpstreamURL,
		ProxyTimeout: cfg.ProxyTimeout.Std(),
	})
	if err := srv.Run(cfg.ListenAddr); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func openStore(cfg config.Config) (database.Store, error) {
	switch cfg.DBDriver {
	case "postgres":
		return database.NewPostgres(cfg.DBDSN)
	default:
		return database.NewSQLite(cfg.DBPath)
	}
}
