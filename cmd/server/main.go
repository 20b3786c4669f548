/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the tuition ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the zap logger
  3. Open the store (memory, SQLite or PostgreSQL) and migrate it
  4. Wire the ledger facade, event billing and audit sinks
  5. Start the reconciliation scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port          HTTP server port (default: 8080)
  -driver        memory | sqlite | postgres (default: sqlite)
  -db            SQLite database path (default: ledger.db)
                 Use ":memory:" for in-memory database
  -database-url  PostgreSQL connection string
  -log-level     debug | info | warn | error
  -dev           Human-readable logs

  Every flag has an environment counterpart; see config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the reconciliation scheduler
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/ledger.db"

  # Run against PostgreSQL
  DATABASE_URL=postgres://ledger@localhost/ledger ./server -driver=postgres

  # Run in memory with development logging
  ./server -driver=memory -dev

SEE ALSO:
  - config/config.go: Configuration
  - api/server.go: Router configuration
  - store/sqlite, store/postgres: Database backends
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

	"go.uber.org/zap"

	"github.com/warp/tuition-ledger/api"
	"github.com/warp/tuition-ledger/audit"
	"github.com/warp/tuition-ledger/config"
	"github.com/warp/tuition-ledger/ledger"
	"github.com/warp/tuition-ledger/ledger/store"
	"github.com/warp/tuition-ledger/store/postgres"
	"github.com/warp/tuition-ledger/store/sqlite"
)

// backend is what every storage driver provides.
type backend interface {
	ledger.Store
	ledger.SettingsStore
	ledger.AuditLog
	ledger.StudentDirectory
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute runs the server and returns the process exit code. Returning
// instead of exiting lets the deferred logger flush run first.
func execute(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 2
	}

	logger, err := cfg.Logger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		return 2
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
		return 1
	}
	return 0
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	// Initialize store
	db, closeDB, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer closeDB()

	// Wire the ledger
	opts := append([]ledger.Option{
		ledger.WithLogger(logger.Named("ledger")),
		ledger.WithAuditSink(audit.Fanout{audit.NewLogSink(logger), db}),
	}, cfg.LedgerOptions()...)
	facade := ledger.NewFacade(db, opts...)

	billing := &ledger.EventBilling{
		Ledger:                 facade,
		Fees:                   ledger.NewFeeSchedule(db),
		RegistrationCutoffYear: cfg.RegistrationCutoffYear,
	}

	handler := api.NewHandler(facade, billing, db, db, logger)
	scheduler := api.NewReconciliationScheduler(facade, db, logger)
	handler.Scheduler = scheduler
	scheduler.Start()
	defer scheduler.Stop()

	// Create router
	router := api.NewRouter(handler, logger, api.RouterOptions{JWTSecret: cfg.JWTSecret})
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set; trusting X-Actor-ID headers")
	}

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("driver", cfg.DBDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (backend, func() error, error) {
	switch cfg.DBDriver {
	case config.DriverMemory:
		logger.Warn("using in-memory store; data is lost on exit")
		return store.NewMemory(), func() error { return nil }, nil
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		s, err := sqlite.Open(ctx, cfg.DBPath, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
}
