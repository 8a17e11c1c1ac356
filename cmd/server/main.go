/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the challenge engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the logrus logger
  3. Open the store selected by DB_DRIVER
  4. Load the challenge catalog
  5. Create the engine, metrics and API handler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port          HTTP server port (default: 8080)
  -driver        sqlite | postgres | memory (default: sqlite)
  -db            SQLite database path (default: challenges.db)
                 Use ":memory:" for in-memory database
  -database-url  PostgreSQL URL (driver=postgres)
  -catalog       Challenge catalog JSON
  See config/config.go for the matching environment variables.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the store
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/challenges.db"

  # Run against PostgreSQL
  DATABASE_URL=postgres://localhost/challenges ./server -driver=postgres

  # Run fully in memory with text logs
  ./server -driver=memory -log-format=text

SEE ALSO:
  - api/server.go: Router configuration
  - challenge/engine.go: Engine
  - config/config.go: Configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/warp/challenge-engine/api"
	"github.com/warp/challenge-engine/challenge"
	"github.com/warp/challenge-engine/challenge/store"
	"github.com/warp/challenge-engine/config"
	"github.com/warp/challenge-engine/factory"
	"github.com/warp/challenge-engine/logger"
	"github.com/warp/challenge-engine/metrics"
	"github.com/warp/challenge-engine/store/postgres"
	"github.com/warp/challenge-engine/store/sqlite"
)

// backend is what every store driver provides.
type backend interface {
	challenge.Repository
	challenge.Ledger
	challenge.LedgerWriter
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(2)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid logger configuration: %v\n", err)
		os.Exit(2)
	}

	// Initialize store
	db, closeDB, err := openBackend(context.Background(), cfg)
	if err != nil {
		log.WithError(err).WithField("driver", cfg.DBDriver).Fatal("Failed to initialize store")
	}
	defer closeDB()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Catalog
	catalog := factory.NewCatalogFactory()
	catalog.OnBaselineFallback = func(userID string, err error) {
		m.BaselineFallback(userID, err)
		entry := log.WithField("user_id", userID)
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Warn("Budget cut baseline unavailable, using fallback")
	}
	registry, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.WithError(err).WithField("path", cfg.CatalogPath).Fatal("Failed to load challenge catalog")
	}

	// Engine and handler
	engine := challenge.NewEngine(db, db,
		challenge.WithRegistry(registry),
		challenge.WithEvalTimeout(cfg.EvalTimeout),
		challenge.WithLogger(log),
		challenge.WithObserver(m),
	)
	handler := api.NewHandler(engine, db, log, cfg.JoinRatePerMinute)

	router := api.NewRouter(handler, api.RouterOptions{Metrics: m, Gatherer: reg})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"port":   cfg.Port,
			"driver": cfg.DBDriver,
			"types":  registry.Types(),
		}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	log.Info("Server stopped")
}

// openBackend opens the store for cfg.DBDriver and returns its closer.
func openBackend(ctx context.Context, cfg config.Config) (backend, func(), error) {
	switch cfg.DBDriver {
	case "memory":
		return store.NewMemory(), func() {}, nil
	case "postgres":
		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		lite, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return lite, func() { lite.Close() }, nil
	}
}
