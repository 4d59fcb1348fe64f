package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat_sync_service/internal/chat/app"
	"chat_sync_service/internal/chat/repository"
	"chat_sync_service/pkg/config"
	"chat_sync_service/pkg/logger"
	"chat_sync_service/pkg/profiling"
	"chat_sync_service/pkg/token"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.ServiceName, config.EnvConfig.SyncEngineLogPath)
	defer logger.Log.Sync()

	cfg := config.LoadConfig[config.SyncEngine](config.EnvConfig.ServiceName, config.EnvConfig.SyncEngineYAMLPath)
	cfg.Default()

	go profiling.StartPprof()

	// 1. durable cache
	db, err := pebble.Open(cfg.Cache.Dir, &pebble.Options{})
	if err != nil {
		logger.Log.Fatal("open cache database failed",
			zap.String("dir", cfg.Cache.Dir),
			zap.Error(err),
		)
	}

	// 2. credentials. The host app normally supplies its own provider;
	// the standalone engine reads an initial pair from the environment.
	initial := token.Pair{
		Access:  os.Getenv("CHAT_ACCESS_TOKEN"),
		Refresh: os.Getenv("CHAT_REFRESH_TOKEN"),
	}
	if !initial.Valid() {
		logger.Log.Fatal("CHAT_ACCESS_TOKEN / CHAT_REFRESH_TOKEN not set")
	}
	tokens := repository.NewRefreshTokenProvider(cfg.API, initial)
	userID := token.UserID(initial.Access)
	if userID == "" {
		logger.Log.Fatal("access token carries no user id")
	}

	// 3. repositories
	cache := repository.NewPebbleCacheRepository(db, cfg.Cache)
	media := repository.NewFileMediaRepository(db, cfg.Cache.Dir+"/media", cfg.Media, cfg.Cache.MediaRetainFor)
	api := repository.NewHTTPBackendAPI(cfg.API, tokens)

	// 4. state store and use cases. Send is driven by the embedding host,
	// the standalone binary only mirrors.
	store := app.NewStateStore(userID, cache)
	syncUC := app.NewSyncUseCase(store, cache, media, api, cfg.Sync)

	// 5. realtime channel
	channel := app.NewRealtimeRouter(store, cfg.Channel, cfg.Send.MatchWindow, tokens)
	channel.Connect()

	ctx := context.Background()
	if err := syncUC.SyncRooms(ctx); err != nil {
		logger.Log.Warn("initial room sync failed", zap.Error(err))
	}

	// periodic retention sweep
	sweepDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cache.Sweep()
				media.Sweep()
			case <-sweepDone:
				return
			}
		}
	}()

	logger.Log.Info("sync engine started",
		zap.String("user_id", userID),
		zap.String("api", cfg.API.BaseURL),
		zap.String("channel", cfg.Channel.URL),
	)

	// SIGHUP simulates an app-foreground resume (room list refresh plus a
	// forced sync of the open room)
	resume := make(chan os.Signal, 1)
	signal.Notify(resume, syscall.SIGHUP)
	go func() {
		for range resume {
			logger.Log.Info("resume signal received")
			syncUC.HandleAppForeground(ctx)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("sync engine shutting down")
	close(sweepDone)
	channel.Disconnect()
	media.Close()
	cache.Flush()
	if err := cache.Close(); err != nil {
		logger.Log.Warn("cache close failed", zap.Error(err))
	}
}
