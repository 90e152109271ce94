package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fedutinova/retinascan/internal/analysis"
	appconfig "github.com/fedutinova/retinascan/internal/config"
	"github.com/fedutinova/retinascan/internal/database"
	"github.com/fedutinova/retinascan/internal/job"
	"github.com/fedutinova/retinascan/internal/memq"
	"github.com/fedutinova/retinascan/internal/queue"
	"github.com/fedutinova/retinascan/internal/redis"
	"github.com/fedutinova/retinascan/internal/repository"
	"github.com/fedutinova/retinascan/internal/server"
	"github.com/fedutinova/retinascan/internal/storage"
	httpapi "github.com/fedutinova/retinascan/internal/transport/http"
	"github.com/fedutinova/retinascan/internal/workers"
)

func main() {
	cfg := appconfig.Load()
	slog.Info("starting retinascan",
		"addr", cfg.HTTPAddr,
		"workers", cfg.QueueWorkers,
		"queue", cfg.QueueMode,
		"preset", cfg.AnalysisPreset)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	presets := analysis.NewRegistry()
	if cfg.PresetFile != "" {
		added, err := presets.LoadFile(cfg.PresetFile)
		if err != nil {
			slog.Error("failed to load preset file", "path", cfg.PresetFile, "err", err)
			os.Exit(1)
		}
		slog.Info("presets loaded", "path", cfg.PresetFile, "added", added)
	}
	if _, err := presets.Lookup(cfg.AnalysisPreset); err != nil {
		slog.Error("default preset is not available", "preset", cfg.AnalysisPreset, "err", err)
		os.Exit(1)
	}

	db, err := database.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		slog.Error("failed to prepare database schema", "err", err)
		os.Exit(1)
	}

	storageService, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize storage", "err", err)
		os.Exit(1)
	}
	slog.Info("storage initialized", "backend", storage.Describe(cfg))

	// Redis is optional in memory mode: without it there is no result cache.
	redisService, err := redis.New(cfg.RedisURL)
	if err != nil {
		if cfg.QueueMode == "redis" {
			slog.Error("failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		slog.Warn("redis unavailable, result cache disabled", "err", err)
	}
	if redisService != nil {
		defer redisService.Close()
	}

	var q memq.JobQueue
	switch cfg.QueueMode {
	case "redis":
		qcfg := queue.DefaultConfig()
		qcfg.MaxJobTime = cfg.JobMaxDuration
		q, err = queue.New(ctx, redisService.Client(), qcfg)
		if err != nil {
			slog.Error("failed to create Redis queue", "err", err)
			os.Exit(1)
		}
	case "memory":
		q = memq.NewMemoryQueue(cfg.QueueBuf, cfg.JobMaxDuration)
	default:
		slog.Error("unknown queue mode", "mode", cfg.QueueMode)
		os.Exit(1)
	}

	repo := repository.New(db)

	var cache workers.ResultCache
	if redisService != nil {
		cache = redisService
	}
	analysisHandler := workers.NewAnalysisHandler(presets, storageService, repo, cache, cfg.ResultCacheTTL)

	handlers := &httpapi.Handlers{
		Q:       q,
		Repo:    repo,
		DB:      db,
		Storage: storageService,
		Presets: presets,
		Config:  cfg,
	}
	if redisService != nil {
		handlers.Redis = redisService
	}
	r := server.NewRouter(handlers)

	q.StartConsumers(ctx, cfg.QueueWorkers, memq.Dispatch(map[job.Type]memq.JobHandler{
		job.TypeFundusAnalyze: analysisHandler.HandleAnalysisJob,
	}))

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
	slog.Info("shutting down")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	_ = srv.Shutdown(shCtx)
	cancel()
	if err := q.Close(); err != nil {
		slog.Warn("queue close", "err", err)
	}
}
