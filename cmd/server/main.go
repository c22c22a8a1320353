/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the discount engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Build engine configuration from environment
  3. Initialize SQLite store
  4. Create the discount engine and API handler
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: discounts.db)
           Use ":memory:" for in-memory database

ENVIRONMENT:
  DISCOUNT_MAX_PERCENTAGE_CAP   Cumulative percentage cap (default: 100)
  DISCOUNT_ROUNDING_MODE        up | down | nearest | none (default: nearest)
  DISCOUNT_ROUNDING_PRECISION   Decimal places (default: 2)
  DISCOUNT_SORT_PRIORITY        asc | desc (default: asc)
  DISCOUNT_SORT_ID              asc | desc (default: asc)
  LOG_LEVEL                     logrus level (default: info)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/discounts.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run on different port
  ./server -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/discount-engine/api"
	"github.com/warp/discount-engine/discount"
	"github.com/warp/discount-engine/store/sqlite"
)

func main() {
	// .env is optional; flags and real env still apply without it.
	_ = godotenv.Load()

	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "discounts.db", "SQLite database path")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(envOr("LOG_LEVEL", "info")); err == nil {
		log.SetLevel(level)
	}

	cfg, err := configFromEnv()
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer store.Close()

	engine := discount.NewEngine(store, cfg, eventLogger(log))

	// Initialize handler and router
	handler := api.NewHandler(engine, store)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithFields(logrus.Fields{
			"port": *port,
			"db":   *dbPath,
		}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("Server forced to shutdown")
	}

	log.Info("Server stopped")
}

// configFromEnv builds the engine configuration, starting from defaults
// and applying environment overrides.
func configFromEnv() (discount.Config, error) {
	cfg := discount.DefaultConfig()

	if raw := os.Getenv("DISCOUNT_MAX_PERCENTAGE_CAP"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return cfg, fmt.Errorf("DISCOUNT_MAX_PERCENTAGE_CAP: %w", err)
		}
		cfg.MaxPercentageCap = v
	}

	if raw := os.Getenv("DISCOUNT_ROUNDING_MODE"); raw != "" {
		mode := discount.RoundingMode(raw)
		switch mode {
		case discount.RoundUp, discount.RoundDown, discount.RoundNearest, discount.RoundNone:
			cfg.Rounding.Mode = mode
		default:
			return cfg, fmt.Errorf("DISCOUNT_ROUNDING_MODE: unknown mode %q", raw)
		}
	}

	if raw := os.Getenv("DISCOUNT_ROUNDING_PRECISION"); raw != "" {
		var precision int32
		if _, err := fmt.Sscanf(raw, "%d", &precision); err != nil || precision < 0 {
			return cfg, fmt.Errorf("DISCOUNT_ROUNDING_PRECISION: invalid value %q", raw)
		}
		cfg.Rounding.Precision = precision
	}

	var err error
	if cfg.Stacking.Priority, err = sortDirection("DISCOUNT_SORT_PRIORITY", cfg.Stacking.Priority); err != nil {
		return cfg, err
	}
	if cfg.Stacking.ID, err = sortDirection("DISCOUNT_SORT_ID", cfg.Stacking.ID); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func sortDirection(key string, fallback discount.SortDirection) (discount.SortDirection, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	dir := discount.SortDirection(raw)
	if dir != discount.Ascending && dir != discount.Descending {
		return fallback, fmt.Errorf("%s: unknown direction %q", key, raw)
	}
	return dir, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// eventLogger adapts logrus into a discount event listener.
func eventLogger(log *logrus.Logger) discount.Listener {
	return discount.ListenerFunc(func(e discount.Event) {
		fields := logrus.Fields{
			"user_id":     e.UserID,
			"discount_id": e.DiscountID,
			"code":        e.Code,
		}
		if e.TransactionID != "" {
			fields["transaction_id"] = e.TransactionID
		}
		if e.Amount != nil {
			fields["amount"] = e.Amount.String()
		}
		log.WithFields(fields).Info(string(e.Kind))
	})
}
