// Package main provides the API server entry point for the stock portfolio service.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stock-portfolio/internal/api"
	"github.com/stock-portfolio/internal/config"
	"github.com/stock-portfolio/internal/events"
	"github.com/stock-portfolio/internal/logging"
	"github.com/stock-portfolio/internal/pricing"
	"github.com/stock-portfolio/internal/service"
	"github.com/stock-portfolio/internal/storage"
	"github.com/stock-portfolio/internal/telemetry"
)

func main() {
	fmt.Println("Stock Portfolio API Server")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	defer func() { _ = logger.Sync() }()

	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	ctx := logging.WithLogger(context.Background(), logger)

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize telemetry")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.WithError(err).Warn("Telemetry shutdown failed")
		}
	}()

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		logger.WithError(err).Fatal("Failed to create metrics")
	}

	logger.Info("Connecting to databases...")

	postgres, err := storage.ConnectPostgres(ctx, &cfg.Database.Postgres, nil)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	txManager, err := storage.NewTxManager(postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create transaction manager")
	}

	portfolioRepo := storage.NewPortfolioRepository(postgres)
	investorRepo := storage.NewInvestorRepository(postgres)
	stockRepo := storage.NewStockRepository(postgres)
	holdingRepo := storage.NewHoldingRepository(postgres)
	orderRepo := storage.NewOrderRepository(postgres, txManager)
	valuationRepo := storage.NewValuationRepository(postgres)

	orderOpts := service.OrderServiceOptions{
		Metrics:        metrics,
		RejectOversell: cfg.Orders.RejectOversell,
	}

	// Optional collaborators are assigned only when present so the service
	// interfaces never hold a typed nil.
	var (
		invalidator service.CacheInvalidator
		viewCache   service.ViewCache
	)
	if cfg.Cache.Enabled {
		redis, err := storage.ConnectRedis(ctx, &cfg.Database.Redis, nil)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redis.Close()

		cacheService := storage.NewCacheService(redis, cfg.Cache.TTL)
		invalidator = cacheService
		viewCache = cacheService
		orderOpts.Cache = cacheService
		logger.WithField("ttl", cfg.Cache.TTL.String()).Info("Read cache enabled")
	}

	if cfg.Ledger.Enabled {
		clickhouse, err := storage.ConnectClickHouse(ctx, &cfg.Database.ClickHouse, nil)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to ClickHouse")
		}
		defer clickhouse.Close()

		orderOpts.Ledger = storage.NewOrderLedgerRepository(clickhouse)
		logger.Info("Order ledger enabled")
	}

	if cfg.Events.Enabled() {
		client, err := events.NewSNSClient(ctx, cfg.Events)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create SNS client")
		}
		publisher, err := events.NewPublisher(client, cfg.Events.TopicARN, nil)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create order event publisher")
		}
		defer publisher.Close()

		orderOpts.Publisher = publisher
		logger.WithField("topic", cfg.Events.TopicARN).Info("Order events enabled")
	}

	prices, err := pricing.ParseFixedPriceSource(cfg.Pricing.PlaceholderPrice)
	if err != nil {
		logger.WithError(err).Fatal("Invalid placeholder price")
	}

	logger.Info("Initializing services...")

	valuationService := service.NewValuationService(holdingRepo, prices, viewCache)
	services := api.Services{
		Portfolios:  service.NewPortfolioService(portfolioRepo, investorRepo, invalidator),
		Valuation:   valuationService,
		Investors:   service.NewInvestorService(investorRepo),
		Stocks:      service.NewStockService(stockRepo),
		Orders:      service.NewOrderService(orderRepo, orderOpts),
		Snapshots:   service.NewSnapshotService(valuationRepo, portfolioRepo, valuationService, cfg.Snapshot.RetentionDays),
		HealthCheck: postgres.Ping,
	}

	trustedProxies, err := cfg.RateLimit.TrustedProxyPrefixes()
	if err != nil {
		logger.WithError(err).Fatal("Invalid trusted proxies")
	}

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		RateLimitRPS:    cfg.RateLimit.RequestsPerSecond,
		RateLimitBurst:  cfg.RateLimit.Burst,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		TrustedProxies:  trustedProxies,
	}

	server := api.NewServer(serverConfig, services)

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
