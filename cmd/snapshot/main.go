// Package main provides the snapshot worker entry point.
// It records the value of every portfolio at 00:00 UTC each day.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stock-portfolio/internal/config"
	"github.com/stock-portfolio/internal/logging"
	"github.com/stock-portfolio/internal/pricing"
	"github.com/stock-portfolio/internal/service"
	"github.com/stock-portfolio/internal/storage"
)

func main() {
	fmt.Println("Portfolio Snapshot Worker")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger().WithField("component", "snapshot")
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logger))
	defer cancel()

	postgres, err := storage.ConnectPostgres(ctx, &cfg.Database.Postgres, nil)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	prices, err := pricing.ParseFixedPriceSource(cfg.Pricing.PlaceholderPrice)
	if err != nil {
		logger.WithError(err).Fatal("Invalid placeholder price")
	}

	portfolioRepo := storage.NewPortfolioRepository(postgres)
	valuation := service.NewValuationService(storage.NewHoldingRepository(postgres), prices, nil)
	snapshots := service.NewSnapshotService(
		storage.NewValuationRepository(postgres),
		portfolioRepo,
		valuation,
		cfg.Snapshot.RetentionDays,
	)

	if len(os.Args) > 1 && os.Args[1] == "run" {
		logger.Info("Running snapshot immediately...")
		summary, err := snapshots.CaptureAllSnapshots(ctx, time.Now())
		if err != nil {
			logger.WithError(err).Fatal("Failed to capture snapshots")
		}
		pruned, err := snapshots.Prune(ctx)
		if err != nil {
			logger.WithError(err).Error("Failed to prune snapshots")
		}
		logger.WithFields(map[string]interface{}{
			"date":     summary.Date.Format("2006-01-02"),
			"captured": summary.Captured,
			"failed":   summary.Failed,
			"pruned":   pruned,
		}).Info("Snapshot complete")
		return
	}

	if err := snapshots.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start snapshot scheduler")
	}
	logger.WithField("retentionDays", cfg.Snapshot.RetentionDays).Info("Snapshot scheduler started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down snapshot worker...")
	if err := snapshots.Stop(); err != nil {
		logger.WithError(err).Warn("Snapshot scheduler was not running")
	}
	logger.Info("Worker stopped")
}
