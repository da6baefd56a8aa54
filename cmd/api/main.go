package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/beyondk-network/gmvtracker/internal/api/handlers"
	"github.com/beyondk-network/gmvtracker/internal/archive"
	"github.com/beyondk-network/gmvtracker/internal/cache"
	redisCache "github.com/beyondk-network/gmvtracker/internal/cache/redis"
	"github.com/beyondk-network/gmvtracker/internal/dealsync"
	"github.com/beyondk-network/gmvtracker/internal/metrics"
	"github.com/beyondk-network/gmvtracker/internal/middleware/ratelimit"
	"github.com/beyondk-network/gmvtracker/internal/middleware/security"
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

	appLogger.Info("Starting GMV tracker API server")

	store, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer store.Close()

	if err := store.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	seedConfig(store, cfg)

	var mirror cache.Mirror
	if cfg.Redis.Enabled {
		redisClient, err := redisCache.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, mapping cache stays in-process", zap.Error(err))
		} else {
			defer redisClient.Close()
			mirror = redisClient
		}
	}

	reads := cache.NewReadCache(cfg.Cache.ReadTTL)
	mappings := cache.NewMappingCache(cfg.Cache.MappingTTL, mirror)
	archiver := archive.NewEngine(store)

	source := buildSource(cfg)
	syncer := dealsync.NewSyncer(store, reads, mappings, source)
	autoSyncer := dealsync.NewAutoSyncer(syncer, cfg.Sheets.AutoSyncEvery)
	defer autoSyncer.Stop()

	if enabled, err := store.GetConfig(context.Background(), "auto_sync_enabled"); err == nil && enabled == "true" {
		autoSyncer.Start()
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	})

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
		ExemptPrefixes:       []string{"/health", "/ready", "/metrics", "/ws"},
		Logger:               appLogger.Log,
	})
	defer limiter.Stop()

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))
	app.Use(limiter.Middleware())
	app.Use(metrics.HTTPMiddleware())

	stream := handlers.NewStreamHandler(store)
	gmvHandler := handlers.NewGmvHandler(store, reads)
	sessionHandler := handlers.NewSessionHandler(store, archiver, reads)
	syncHandler := handlers.NewSyncHandler(syncer, autoSyncer, store, reads, mappings, stream)

	api := app.Group("/api/v1")

	api.Get("/gmv", gmvHandler.TopGmv)
	api.Get("/gmv/all", gmvHandler.AllData)
	api.Get("/gmv/shop-ids", gmvHandler.ShopIDs)

	api.Get("/sessions/active", sessionHandler.Active)
	api.Get("/sessions/archived", sessionHandler.Archived)
	api.Get("/sessions/deallist", sessionHandler.DealListMappings)
	api.Get("/sessions/:id/timeslots", sessionHandler.Timeslots)
	api.Get("/sessions/:id/snapshot", sessionHandler.Snapshot)
	api.Post("/sessions/:id/archive", sessionHandler.Archive)
	api.Post("/sessions/:id/deallist", sessionHandler.PinDealList)
	api.Post("/sessions/retention", sessionHandler.Retention)

	api.Post("/sync/deallist", syncHandler.RefreshDealList)
	api.Post("/sync/deallist2", syncHandler.RefreshDealList2)
	api.Post("/sync/auto/start", syncHandler.AutoSyncStart)
	api.Post("/sync/auto/stop", syncHandler.AutoSyncStop)
	api.Get("/sync/auto/status", syncHandler.AutoSyncStatus)
	api.Get("/cache/status", syncHandler.CacheStatus)
	api.Post("/cache/refresh", syncHandler.CacheRefresh)
	api.Get("/config", syncHandler.GetConfig)
	api.Post("/config", syncHandler.SetConfig)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(stream.HandleConnection))

	app.Get("/metrics", metrics.Handler())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}

// seedConfig copies deploy-time sheet settings into the runtime config
// table, but only for keys the dashboard has not set yet.
func seedConfig(store *sqlite.Client, cfg *config.Config) {
	ctx := context.Background()
	seeds := map[string]string{
		"spreadsheet_url": cfg.Sheets.DealListURL,
		"deallist_sheet":  cfg.Sheets.DealListSheet,
		"deallist2_url":   cfg.Sheets.DealList2URL,
		"deallist2_sheet": cfg.Sheets.DealList2Sheet,
	}

	for key, value := range seeds {
		if value == "" {
			continue
		}
		existing, err := store.GetConfig(ctx, key)
		if err != nil || existing != "" {
			continue
		}
		if err := store.SetConfig(ctx, key, value); err != nil {
			appLogger.Warn("Failed to seed config", zap.String("key", key), zap.Error(err))
		}
	}
}

// buildSource prefers the Sheets API and falls back to scraping the
// published page when no credentials are configured.
func buildSource(cfg *config.Config) dealsync.Source {
	if cfg.Sheets.CredentialsFile != "" || cfg.Sheets.CredentialsJSON != "" {
		source, err := dealsync.NewSheetSource(context.Background(), cfg.Sheets.CredentialsFile, cfg.Sheets.CredentialsJSON)
		if err == nil {
			return source
		}
		appLogger.Warn("Sheets API unavailable, falling back to published page", zap.Error(err))
	}
	return dealsync.NewPublishedSource()
}
