// Package app wires storage, embedder, sync, search and job delivery from a
// config.Config and runs the long-lived processes.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lostnfound/postsearch/internal/api"
	"github.com/lostnfound/postsearch/internal/config"
	"github.com/lostnfound/postsearch/internal/embedder"
	"github.com/lostnfound/postsearch/internal/jobs"
	"github.com/lostnfound/postsearch/internal/mcp"
	"github.com/lostnfound/postsearch/internal/searcher"
	"github.com/lostnfound/postsearch/internal/storage"
	"github.com/lostnfound/postsearch/internal/storage/memory"
	"github.com/lostnfound/postsearch/internal/storage/postgres"
	"github.com/lostnfound/postsearch/internal/syncer"
)

// App holds the wired components. One embedder instance is shared by the
// sync service and the searcher so both hit the same cache.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Store    storage.Storage
	Embedder embedder.Embedder
	Syncer   *syncer.Service
	Searcher *searcher.Searcher
	Queue    jobs.Queue
}

// New opens storage and the job queue and builds the services
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := OpenStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	emb, err := embedder.New(cfg.EmbedderConfig())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	queue, err := OpenQueue(cfg.Queue, cfg.RedisConfig())
	if err != nil {
		_ = emb.Close()
		_ = store.Close()
		return nil, err
	}

	logger.Info("components ready",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("sqlite_build", storage.BuildMode),
		zap.String("embedder", emb.Provider()),
		zap.String("model", emb.Model()),
		zap.Int("dimension", emb.Dimension()),
		zap.String("queue", cfg.Queue.Backend))

	return &App{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Embedder: emb,
		Syncer: syncer.New(store, emb,
			syncer.WithLogger(logger.Named("syncer")),
			syncer.WithProviderTimeout(time.Duration(cfg.Sync.ProviderTimeoutSec)*time.Second),
			syncer.WithMaxRestarts(cfg.Sync.MaxRestarts)),
		Searcher: searcher.NewSearcher(store, emb,
			searcher.WithConfig(cfg.SearcherConfig()),
			searcher.WithLogger(logger.Named("searcher"))),
		Queue: queue,
	}, nil
}

// OpenStorage opens the configured post store
func OpenStorage(ctx context.Context, cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.Path); dir != "." && cfg.Path != ":memory:" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		store, err := storage.NewSQLiteStorage(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		return store, nil
	case config.DriverPostgres:
		store, err := postgres.New(ctx, postgres.Config{DSN: cfg.DSN, MaxConns: cfg.MaxConns})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		return store, nil
	case config.DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// OpenQueue opens the configured job queue
func OpenQueue(cfg config.QueueConfig, redisCfg jobs.RedisConfig) (jobs.Queue, error) {
	switch cfg.Backend {
	case config.QueueMemory:
		return jobs.NewMemoryQueue(cfg.Size), nil
	case config.QueueRedis:
		return jobs.NewRedisQueue(jobs.NewRedisClient(redisCfg), redisCfg.Key), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}

// Close releases every component
func (a *App) Close() error {
	return errors.Join(a.Queue.Close(), a.Embedder.Close(), a.Store.Close())
}

// RunServer serves the HTTP API, consumes sync jobs and, when configured,
// sweeps Pending and Failed posts periodically. It returns when ctx is done
// or one of them fails.
func (a *App) RunServer(ctx context.Context) error {
	if rq, ok := a.Queue.(*jobs.RedisQueue); ok {
		if err := rq.Ping(ctx); err != nil {
			return fmt.Errorf("redis queue unreachable: %w", err)
		}
	}

	worker, err := jobs.NewWorker(a.Queue, a.Syncer, a.Config.WorkerConfig(), a.Logger.Named("worker"))
	if err != nil {
		return err
	}
	defer worker.Release()

	handler := api.NewHandler(a.Store, a.Searcher, a.Syncer, a.Queue, a.Logger.Named("api"))
	router := api.NewRouter(handler, api.RouterConfig{
		GinMode:            a.Config.Server.GinMode,
		AllowedOrigins:     a.Config.Server.AllowedOrigins,
		RateLimitPerMinute: a.Config.Server.RateLimitPerMinute,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.Serve(ctx, ":"+a.Config.Server.Port, router, a.Logger.Named("http"))
	})
	g.Go(func() error {
		return worker.Run(ctx)
	})
	if interval := time.Duration(a.Config.Sync.SweepIntervalSec) * time.Second; interval > 0 {
		g.Go(func() error {
			a.sweepEvery(ctx, interval)
			return nil
		})
	}
	return g.Wait()
}

// RunMCP serves the MCP tools over in/out until ctx is done
func (a *App) RunMCP(ctx context.Context, in io.Reader, out io.Writer) error {
	srv := mcp.NewServer(a.Store, a.Searcher, a.Syncer, a.Logger.Named("mcp"))
	return srv.Serve(ctx, in, out)
}

// Sweep syncs Pending and Failed posts once
func (a *App) Sweep(ctx context.Context) (*syncer.Statistics, error) {
	cfg := a.Config.SweepConfig()
	return a.Syncer.SyncPending(ctx, &cfg)
}

func (a *App) sweepEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := a.Sweep(ctx); err != nil && !errors.Is(err, syncer.ErrSweepInProgress) && ctx.Err() == nil {
			a.Logger.Warn("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
