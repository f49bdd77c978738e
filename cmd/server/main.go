package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/celo-runner/internal/chain"
	"github.com/celo-runner/internal/config"
	"github.com/celo-runner/internal/game"
	"github.com/celo-runner/internal/handler"
	"github.com/celo-runner/internal/kafka"
	"github.com/celo-runner/internal/marketplace"
	"github.com/celo-runner/internal/postgres"
	"github.com/celo-runner/internal/redis"
	"github.com/celo-runner/internal/service"
	"github.com/celo-runner/internal/store"
	"github.com/celo-runner/internal/websocket"
	"github.com/celo-runner/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to the chain and bind the contracts
	client, err := chain.Dial(ctx, cfg.Chain, logger)
	if err != nil {
		logger.Error("failed to connect to chain", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	checks := map[string]handler.Pinger{"chain": client}

	// Optional last-good read cache
	var cache service.Cache
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		redisCache, err := redis.NewCache(&cfg.Redis, logger)
		if err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisCache.Close()
		cache = redisCache
		checks["redis"] = redisCache
		logger.Info("connected to Redis")
	}

	// Optional audit log
	var audit service.Audit
	if cfg.Postgres.Enabled {
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer repo.Close()

		// Run database migrations
		if err := repo.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		audit = repo
		checks["postgres"] = repo
		logger.Info("connected to PostgreSQL")
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Chain adapters. A nil marketplace stays a nil interface so the
	// adapters report it as not configured.
	var marketSender chain.Sender
	var marketCaller chain.Caller
	var marketAddr common.Address
	if client.Marketplace != nil {
		marketSender = client.Marketplace
		marketCaller = client.Marketplace
		marketAddr = client.Marketplace.Address()
	}

	account := ""
	if client.HasSigner() {
		account = client.Account().Hex()
	}

	reader := chain.NewReader(client.Game, chain.RetryPolicyFromConfig(cfg.Retry), logger)
	writer := chain.NewWriter(chain.WriterDeps{
		Account:    account,
		Game:       client.Game,
		Badge:      client.Badge,
		Market:     marketSender,
		MarketAddr: marketAddr,
		Reader:     reader,
		Transactor: chain.NewTransactor(client.Waiter(), cfg.Tx.SuccessHold, logger),
		Logger:     logger,
	})
	market := marketplace.NewController(
		client.Badge,
		marketCaller,
		marketAddr,
		writer,
		marketplace.NewMetadataResolver(cfg.Marketplace.IPFSGateway, cfg.Marketplace.MetadataTimeout),
		marketplace.Config{
			ProbeCeiling: cfg.Marketplace.ProbeCeiling,
			ScanRate:     cfg.Marketplace.ScanRate,
			ScanBurst:    cfg.Marketplace.ScanBurst,
		},
		logger,
	)

	// Initialize the store and the game service
	appStore := store.New(cfg.Notifications.DefaultTimeout, logger)
	defer appStore.Close()

	gameService := service.New(service.Deps{
		Store:  appStore,
		Reader: reader,
		Writer: writer,
		Market: market,
		Runner: game.NewRunner(cfg.Game, nil),
		Cache:  cache,
		Audit:  audit,
		Hub:    wsHub,
	}, cfg, logger)
	defer gameService.Close()

	// The signing wallet is connected on startup
	if client.HasSigner() {
		if _, err := gameService.Connect(ctx, account); err != nil {
			logger.Warn("failed to connect signer wallet", "error", err)
		}
	} else {
		logger.Info("no private key configured, writes are disabled")
	}

	// Initialize sync worker
	syncWorker := worker.NewSyncWorker(gameService, &cfg.Sync, logger)
	if cfg.Sync.Enabled {
		syncWorker.RunOnce(ctx)
		if err := syncWorker.Start(ctx); err != nil {
			logger.Error("failed to start sync worker", "error", err)
			os.Exit(1)
		}
	}

	// Initialize Kafka consumer for completed-run events
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		var err error
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, gameService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else {
			if err := kafkaConsumer.Start(); err != nil {
				logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
				kafkaConsumer = nil
			} else {
				logger.Info("Kafka consumer started successfully")
			}
		}
	}

	// Initialize HTTP handler with WebSocket hub
	httpHandler := handler.NewHandler(gameService, wsHub, checks, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		logger.Info("WebSocket endpoint available at /ws")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop WebSocket hub
	wsHub.Stop()

	// Stop Kafka consumer
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	// Stop sync worker
	if err := syncWorker.Stop(); err != nil {
		logger.Error("failed to stop sync worker", "error", err)
	}

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
}
