package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"

	"github.com/tudstk/songwriter-copilot/internal/config"
	"github.com/tudstk/songwriter-copilot/internal/metrics"
	"github.com/tudstk/songwriter-copilot/internal/platform"
	"github.com/tudstk/songwriter-copilot/internal/preview"
	"github.com/tudstk/songwriter-copilot/internal/ratings"
	"github.com/tudstk/songwriter-copilot/internal/server"
	"github.com/tudstk/songwriter-copilot/internal/storage"
)

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", "", "listen address (env SONGWRITER_ADDR, default :8080)")
	outputDir := fs.String("out", "", "directory for run artifacts (env SONGWRITER_OUTPUT_DIR)")
	storeKind := fs.String("store", "", "store backend: memory|sqlite|postgres (env SONGWRITER_STORE)")
	dsn := fs.String("db-path", "", "sqlite database path or postgres dsn (env SONGWRITER_STORE_DSN)")
	redisAddr := fs.String("redis", "", "redis address for shared rating queues (env SONGWRITER_REDIS_ADDR)")
	logLevel := fs.String("log-level", "", "log level: debug|info|warn|error (env SONGWRITER_LOG_LEVEL)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Server{
		Addr:      *addr,
		OutputDir: *outputDir,
		StoreKind: *storeKind,
		StoreDSN:  *dsn,
		RedisAddr: *redisAddr,
		LogLevel:  *logLevel,
	}.Merge(config.ServerFromEnv(os.Getenv))
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel, true)
	if err != nil {
		return err
	}

	store, err := storage.NewStore(cfg.StoreKind, cfg.StoreDSN)
	if err != nil {
		return err
	}
	defer func() {
		_ = storage.CloseIfSupported(store)
	}()

	m := metrics.New()
	studioCfg := platform.Config{
		Store:     store,
		Metrics:   m,
		OutputDir: cfg.OutputDir,
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() {
			_ = rdb.Close()
		}()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		studioCfg.NewRatings = func(runID string) ratings.Store {
			return ratings.NewRedisStore(rdb, runID)
		}
		logger.Info("rating queues backed by redis", "addr", cfg.RedisAddr)
	}

	studio := platform.NewStudio(studioCfg)
	if err := studio.Init(ctx); err != nil {
		return err
	}
	srv := server.New(server.Options{
		Studio:  studio,
		Metrics: m,
		Logger:  logger,
		Preview: preview.DefaultOptions(),
	})
	logger.Info("starting server", "addr", cfg.Addr, "store", cfg.StoreKind, "output_dir", cfg.OutputDir)
	return srv.ListenAndServe(ctx, cfg.Addr)
}
