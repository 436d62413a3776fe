package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/ShipBox/config"
	"github.com/BearBump/ShipBox/internal/app"
	"github.com/BearBump/ShipBox/internal/broker/kafka"
	"github.com/BearBump/ShipBox/internal/cache"
	"github.com/BearBump/ShipBox/internal/cache/rediscache"
	"github.com/BearBump/ShipBox/internal/integrations/orders"
	"github.com/BearBump/ShipBox/internal/jobs"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/services/poller"
	"github.com/BearBump/ShipBox/internal/storage"
)

// publisher is what both the lifecycle notifier and the closure job need.
type publisher interface {
	PublishJSON(ctx context.Context, topic, key string, v any) error
}

type workerFactories struct {
	newStorage     func(ctx context.Context, cfg *config.Config) (storage.Store, error)
	newPublisher   func(cfg *config.Config) (publisher, func())
	newRateLimiter func(cfg *config.Config) (poller.RateLimiter, func())
	newCache       func(cfg *config.Config) (cache.BytesCache, func())
	newFetcher     func(cfg *config.Config) orders.Fetcher
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(ctx context.Context, cfg *config.Config) (storage.Store, error) {
			return app.OpenStore(ctx, cfg, 60*time.Second)
		},
		newPublisher: func(cfg *config.Config) (publisher, func()) {
			if cfg.Kafka.Host == "" {
				return nil, nil
			}
			p := kafka.NewProducer(app.KafkaBrokers(cfg))
			return p, func() { _ = p.Close() }
		},
		newRateLimiter: func(cfg *config.Config) (poller.RateLimiter, func()) {
			if cfg.Redis.Host == "" {
				return nil, nil
			}
			rl := rediscache.NewRateLimiter(app.RedisAddr(cfg))
			return rl, func() { _ = rl.Close() }
		},
		newCache: func(cfg *config.Config) (cache.BytesCache, func()) {
			if cfg.Redis.Host == "" {
				return nil, nil
			}
			rc := rediscache.New(app.RedisAddr(cfg))
			return rc, func() { _ = rc.Close() }
		},
		newFetcher: app.Fetcher,
	}
}

type worker struct {
	poller  *poller.Poller
	closure *jobs.ClosureJob
	closers []func()
}

func (w *worker) Close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		w.closers[i]()
	}
}

func plannerConfig(cfg *config.Config) poller.PlannerConfig {
	sec := func(v int) time.Duration { return time.Duration(v) * time.Second }
	return poller.PlannerConfig{
		InTransitMinDelay: sec(cfg.ShipBox.WorkerNextCheckInTransitMinSeconds),
		InTransitMaxDelay: sec(cfg.ShipBox.WorkerNextCheckInTransitMaxSeconds),
		PendingDelay:      sec(cfg.ShipBox.WorkerNextCheckPendingSeconds),
		Backoff1:          sec(cfg.ShipBox.WorkerBackoff1Seconds),
		Backoff2:          sec(cfg.ShipBox.WorkerBackoff2Seconds),
		Backoff3:          sec(cfg.ShipBox.WorkerBackoff3Seconds),
		Backoff4:          sec(cfg.ShipBox.WorkerBackoff4Seconds),
	}
}

func buildWorker(ctx context.Context, cfg *config.Config, f workerFactories) (*worker, error) {
	pollInterval := time.Duration(cfg.ShipBox.WorkerPollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	batchSize := cfg.ShipBox.WorkerBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	concurrency := cfg.ShipBox.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	lease := time.Duration(cfg.ShipBox.WorkerLeaseSeconds) * time.Second
	if lease <= 0 {
		lease = 120 * time.Second
	}
	rlPerMin := int64(cfg.ShipBox.WorkerRateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 120
	}
	fetchTimeout := time.Duration(cfg.ShipBox.FetchTimeoutSeconds) * time.Second
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Second
	}
	grace := time.Duration(cfg.ShipBox.PollGraceSeconds) * time.Second
	if grace <= 0 {
		grace = 5 * time.Second
	}

	loc, err := app.Location(cfg)
	if err != nil {
		return nil, err
	}
	tokens, err := app.Tokens(cfg)
	if err != nil {
		return nil, err
	}

	w := &worker{}
	st, err := f.newStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	w.closers = append(w.closers, st.Close)

	deps := app.Deps{Fetcher: f.newFetcher(cfg), Tokens: tokens}
	pub, closePub := f.newPublisher(cfg)
	if closePub != nil {
		w.closers = append(w.closers, closePub)
	}
	if pub != nil {
		deps.Publisher = pub
	}
	c, closeCache := f.newCache(cfg)
	if closeCache != nil {
		w.closers = append(w.closers, closeCache)
	}
	deps.Cache = c
	rl, closeRL := f.newRateLimiter(cfg)
	if closeRL != nil {
		w.closers = append(w.closers, closeRL)
	}

	svc := app.NewServices(st, cfg, loc, deps)

	w.poller = poller.New(st, svc.Reconciler, rl).
		WithSettings(pollInterval, batchSize, concurrency, lease, rlPerMin).
		WithFetchTimeout(fetchTimeout).
		WithCycleGrace(grace).
		WithOriginRateLimit(models.OriginFlex, cfg.ShipBox.WorkerRateLimitFlexPerMinute).
		WithPlanner(plannerConfig(cfg))

	var closurePub jobs.Publisher
	if pub != nil {
		closurePub = pub
	}
	w.closure = jobs.NewClosureJob(svc.Collection, closurePub, app.ClosureReportTopic(cfg), cfg.ShipBox.ClosureCron, slog.Default())
	return w, nil
}

// RunShipWorker runs the poll loop and the closure cron until ctx ends.
func RunShipWorker(ctx context.Context, w *worker) error {
	if err := w.closure.Start(); err != nil {
		return err
	}
	defer w.closure.Stop()

	slog.Info("poller started")
	return w.poller.Run(ctx)
}
