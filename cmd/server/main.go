package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/brojonat/raisefi/service/chain"
	"github.com/brojonat/raisefi/service/config"
	"github.com/brojonat/raisefi/service/db"
	"github.com/brojonat/raisefi/service/funds"
	"github.com/brojonat/raisefi/service/metrics"
	natspkg "github.com/brojonat/raisefi/service/nats"
	"github.com/brojonat/raisefi/service/server"
	"github.com/brojonat/raisefi/service/temporal"
	"github.com/brojonat/raisefi/service/wallet"
)

func main() {
	// A .env file is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to read .env file", "error", err)
	}

	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"chain_id", cfg.ChainID,
		"factory", cfg.FactoryAddress.Hex(),
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Initialize the RPC connection and factory client
	rpc, err := chain.Dial(ctx, cfg.RPCURL)
	if err != nil {
		logger.Error("failed to connect to rpc", "error", err)
		os.Exit(1)
	}
	defer rpc.Close()
	chainClient := chain.NewClient(rpc, cfg.FactoryAddress, cfg.ChainID, metricsCollector, logger)
	logger.Info("initialized chain client", "chain_id", cfg.ChainID)

	deps := server.Dependencies{
		Funds:   funds.NewService(chainClient, cfg.FundReadConcurrency, logger),
		Writer:  chainClient,
		Metrics: metricsCollector,
	}

	// Signing wallet (optional, without it the server is read-only)
	if cfg.WalletPrivateKey != "" {
		signer, err := wallet.NewKeySigner(cfg.WalletPrivateKey)
		if err != nil {
			logger.Error("failed to load wallet key", "error", err)
			os.Exit(1)
		}
		deps.Signer = signer
		logger.Info("wallet loaded", "address", signer.Address().Hex())
	} else {
		logger.Warn("WALLET_PRIVATE_KEY not set, transactions are disabled")
	}

	// Activity log (optional)
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		store := db.NewStore(pool, metricsCollector)
		if err := store.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		deps.Store = store
		logger.Info("connected to database")
	}

	// Fund events and SSE streaming (optional)
	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		deps.Publisher = publisher

		sse, err := server.NewSSEPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to create SSE publisher", "error", err)
			os.Exit(1)
		}
		deps.SSE = sse
	}

	// Receipt tracking (optional)
	if cfg.TemporalHost != "" {
		temporalClient, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
		if err != nil {
			logger.Error("failed to create temporal client", "error", err)
			os.Exit(1)
		}
		defer temporalClient.Close()
		deps.Tracker = temporalClient
	}

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, cfg, deps, logger)
	if err := httpServer.WithTemplates(); err != nil {
		logger.Error("failed to load templates", "error", err)
		os.Exit(1)
	}

	logger.Info("server initialized, all dependencies ready",
		"read_only", deps.Signer == nil,
		"activity_log", deps.Store != nil,
		"events", deps.Publisher != nil,
		"tracking", deps.Tracker != nil,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
