package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/beyondk-network/gmvtracker/internal/archive"
	"github.com/beyondk-network/gmvtracker/internal/ingest"
	"github.com/beyondk-network/gmvtracker/internal/storage/sqlite"
	"github.com/beyondk-network/gmvtracker/pkg/config"
	appLogger "github.com/beyondk-network/gmvtracker/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	if cfg.Collector.ProducerURL == "" {
		appLogger.Fatal("collector.producer_url is required")
	}

	appLogger.Info("Starting GMV tracker collector")

	store, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer store.Close()

	if err := store.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	if cfg.Collector.SessionRetention > 0 {
		if _, err := store.KeepLatestSessions(context.Background(), cfg.Collector.SessionRetention); err != nil {
			appLogger.Warn("Startup retention sweep failed", zap.Error(err))
		}
	}

	collector := ingest.NewCollector(
		store,
		archive.NewEngine(store),
		ingest.NewAPIProducer(cfg.Collector.ProducerURL),
		ingest.Options{
			CycleInterval:   cfg.Collector.CycleInterval,
			ArchiveInterval: cfg.Collector.ArchiveInterval,
			FailureBackoff:  cfg.Collector.FailureBackoff,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		collector.Run(ctx)
		close(done)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Collector shutting down...")
	collector.Stop()
	cancel()
	<-done
	appLogger.Info("Collector stopped")
}
