// Package app initializes and holds long-lived services, acting as the
// dependency container for the CLI and the API server.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/CMoncur/proto-scrape/internal/clock/system"
	"github.com/CMoncur/proto-scrape/internal/config"
	"github.com/CMoncur/proto-scrape/internal/dispatcher"
	collyfetcher "github.com/CMoncur/proto-scrape/internal/fetcher/colly"
	"github.com/CMoncur/proto-scrape/internal/harvest"
	"github.com/CMoncur/proto-scrape/internal/hash/sha256"
	"github.com/CMoncur/proto-scrape/internal/id/uuid"
	"github.com/CMoncur/proto-scrape/internal/lock"
	"github.com/CMoncur/proto-scrape/internal/metrics"
	"github.com/CMoncur/proto-scrape/internal/pipeline"
	"github.com/CMoncur/proto-scrape/internal/policy/ratelimit"
	pubmemory "github.com/CMoncur/proto-scrape/internal/publisher/memory"
	"github.com/CMoncur/proto-scrape/internal/publisher/pubsub"
	"github.com/CMoncur/proto-scrape/internal/record"
	"github.com/CMoncur/proto-scrape/internal/site"
	"github.com/CMoncur/proto-scrape/internal/site/catalog"
	"github.com/CMoncur/proto-scrape/internal/storage/gcs"
	"github.com/CMoncur/proto-scrape/internal/storage/local"
	"github.com/CMoncur/proto-scrape/internal/storage/memory"
	"github.com/CMoncur/proto-scrape/internal/storage/postgres"
)

// App holds the shared services for one process.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Recorder  record.Recorder
	Harvester *harvest.Harvester
	Registry  *site.Registry
	Runner    *pipeline.Runner
	Clock     *system.Clock

	closers []func() error
}

// New builds every service cfg selects. Services opened before a failure are
// closed before New returns.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: catalog.Registry(),
		Clock:    system.New(),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Recorder, err = a.newRecorder(ctx)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Recorder.Close)

	archive, err := a.newArchive(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.newPublisher(ctx)
	if err != nil {
		return nil, err
	}
	locker, err := a.newLocker(ctx)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(ratelimit.Config{
		RatePerHost:  cfg.Harvest.RatePerHost,
		BurstPerHost: cfg.Harvest.BurstPerHost,
	}, metrics.ObserveRateLimitDelay)
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Harvest.UserAgent,
		Timeout:      cfg.Harvest.RequestTimeout,
		MaxBodyBytes: cfg.Harvest.MaxBodyBytes,
	})
	a.Harvester = harvest.New(fetcher,
		harvest.WithClassifier(harvest.Classifier{AcceptNon2xx: cfg.Harvest.AcceptNon2xx}),
		harvest.WithLimiter(limiter),
		harvest.WithObserver(metrics.NewHarvestObserver()),
		harvest.WithLogger(logger.Named("harvest")),
	)

	opts := []pipeline.Option{
		pipeline.WithLogger(logger.Named("pipeline")),
		pipeline.WithLocker(locker),
		pipeline.WithIDGenerator(uuid.New()),
		pipeline.WithClock(a.Clock),
		pipeline.WithHasher(sha256.New()),
		pipeline.WithHarvestOptions(cfg.HarvestOptions()),
	}
	if archive != nil {
		opts = append(opts, pipeline.WithArchive(archive, cfg.Archive.Prefix))
	}
	if publisher != nil {
		opts = append(opts, pipeline.WithPublisher(publisher, cfg.Publish.Topic))
	}
	a.Runner = pipeline.New(a.Harvester, a.Recorder, opts...)

	logger.Info("application services initialized",
		zap.String("store", cfg.Store.Provider),
		zap.String("lock", cfg.Lock.Provider),
		zap.String("archive", cfg.Archive.Provider),
		zap.String("publish", cfg.Publish.Provider),
	)
	return a, nil
}

func (a *App) newRecorder(ctx context.Context) (record.Recorder, error) {
	switch a.Config.Store.Provider {
	case "postgres":
		s := a.Config.Store
		rec, err := postgres.NewRecorder(ctx, postgres.Config{
			DSN:             s.DSN,
			MaxConns:        s.MaxConns,
			MinConns:        s.MinConns,
			MaxConnLifetime: s.MaxConnLifetime,
			ChunkSize:       s.ChunkSize,
			AdvisoryLock:    s.AdvisoryLock,
		}, postgres.WithClock(a.Clock))
		if err != nil {
			return nil, fmt.Errorf("init postgres recorder: %w", err)
		}
		return rec, nil
	case "memory":
		a.Logger.Warn("using in-memory store; records are lost on exit")
		return memory.NewRecorder(a.Clock.Now), nil
	default:
		return nil, fmt.Errorf("unknown store provider: %s", a.Config.Store.Provider)
	}
}

func (a *App) newArchive(ctx context.Context) (pipeline.BlobStore, error) {
	c := a.Config.Archive
	switch c.Provider {
	case "", "none":
		return nil, nil
	case "memory":
		return memory.NewBlobStore(), nil
	case "local":
		store, err := local.New(local.Config{Dir: c.Dir})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		return store, nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcs.New(client, gcs.Config{Bucket: c.Bucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive provider: %s", c.Provider)
	}
}

func (a *App) newPublisher(ctx context.Context) (pipeline.Publisher, error) {
	c := a.Config.Publish
	switch c.Provider {
	case "", "none":
		return nil, nil
	case "memory":
		return pubmemory.New(), nil
	case "pubsub":
		pub, err := pubsub.New(ctx, c.ProjectID, pubsub.Attributes{"source": "cryptkeeper"})
		if err != nil {
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown publish provider: %s", c.Provider)
	}
}

func (a *App) newLocker(ctx context.Context) (lock.Locker, error) {
	c := a.Config.Lock
	switch c.Provider {
	case "", "none":
		return lock.Noop{}, nil
	case "local":
		return lock.NewLocal(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis %s: %w", c.RedisAddr, err)
		}
		return lock.NewRedis(client, c.TTL, 0), nil
	default:
		return nil, fmt.Errorf("unknown lock provider: %s", c.Provider)
	}
}

// Adapters builds the named adapters, falling back to adapters.enabled and
// then to every registered adapter.
func (a *App) Adapters(names []string) ([]site.Adapter, error) {
	if len(names) == 0 {
		names = a.Config.Adapters.Enabled
	}
	adapters, err := a.Registry.Build(names, a.SiteDeps())
	if err != nil {
		return nil, fmt.Errorf("build adapters: %w", err)
	}
	return adapters, nil
}

// SiteDeps are handed to every adapter this process builds.
func (a *App) SiteDeps() site.Deps {
	return site.Deps{
		Clock:   a.Clock,
		Logger:  a.Logger.Named("site"),
		Options: a.Config.HarvestOptions(),
	}
}

// Dispatcher fans the given adapters out over the shared runner.
func (a *App) Dispatcher(adapters []site.Adapter) *dispatcher.Dispatcher {
	return dispatcher.New(a.Runner, adapters, a.Config.Dispatch.Parallel)
}

// PushMetrics sends collected metrics to the configured Pushgateway.
func (a *App) PushMetrics(ctx context.Context) error {
	return metrics.Push(ctx, a.Config.Metrics.PushgatewayURL, a.Config.Metrics.Job)
}

// Close shuts services down in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.Logger.Warn("error closing application services", zap.Error(err))
		return err
	}
	return nil
}
