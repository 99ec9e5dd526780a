// Package main applies the relational schema and the order ledger schema.
//
//	migrate                          # postgres up, then clickhouse up when LEDGER_ENABLED
//	migrate -db postgres -action down -steps 2
//	migrate -db postgres -action version
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"

	"github.com/stock-portfolio/internal/config"
	"github.com/stock-portfolio/internal/logging"
	"github.com/stock-portfolio/internal/storage"
)

func main() {
	var (
		action = flag.String("action", "up", "up, down or version")
		target = flag.String("db", "all", "postgres, clickhouse or all")
		steps  = flag.Int("steps", 1, "migrations to roll back with -action down")
		dir    = flag.String("dir", "migrations", "directory holding postgres/ and clickhouse/")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger().WithFields(map[string]interface{}{
		"action": *action,
		"db":     *target,
	})
	ctx := logging.WithLogger(context.Background(), logger)

	if err := run(ctx, cfg, *target, *action, *dir, *steps); err != nil {
		logger.WithError(err).Fatal("Migration failed")
	}
	logger.Info("Migration finished")
}

func run(ctx context.Context, cfg *config.Config, target, action, dir string, steps int) error {
	switch target {
	case "postgres":
		return migratePostgres(ctx, cfg, action, filepath.Join(dir, "postgres"), steps)
	case "clickhouse":
		return migrateClickHouse(ctx, cfg, action, filepath.Join(dir, "clickhouse"))
	case "all":
		if action != "up" {
			return fmt.Errorf("-db all only supports -action up")
		}
		if err := migratePostgres(ctx, cfg, action, filepath.Join(dir, "postgres"), steps); err != nil {
			return err
		}
		if !cfg.Ledger.Enabled {
			logging.FromContext(ctx).Info("Ledger disabled, skipping ClickHouse migrations")
			return nil
		}
		return migrateClickHouse(ctx, cfg, action, filepath.Join(dir, "clickhouse"))
	default:
		return fmt.Errorf("unknown database %q", target)
	}
}

func migratePostgres(ctx context.Context, cfg *config.Config, action, path string, steps int) error {
	logger := logging.FromContext(ctx).WithField("migrations", path)
	databaseURL := cfg.Database.Postgres.URL()

	switch action {
	case "up":
		if err := storage.RunMigrations(databaseURL, path); err != nil {
			return err
		}
		logger.Info("Postgres schema is up to date")
	case "down":
		if err := storage.RollbackMigrations(databaseURL, path, steps); err != nil {
			return err
		}
		logger.WithField("steps", steps).Info("Postgres migrations rolled back")
	case "version":
		version, dirty, err := storage.MigrationVersion(databaseURL, path)
		if err != nil {
			return err
		}
		logger.WithFields(map[string]interface{}{
			"version": version,
			"dirty":   dirty,
		}).Info("Postgres migration version")
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	return nil
}

func migrateClickHouse(ctx context.Context, cfg *config.Config, action, path string) error {
	if action != "up" {
		return fmt.Errorf("ClickHouse migrations only support -action up")
	}

	db, err := storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return storage.RunClickHouseMigrations(ctx, db, path)
}
