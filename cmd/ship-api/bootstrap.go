package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/ShipBox/config"
	shipmentsapi "github.com/BearBump/ShipBox/internal/api/shipments_api"
	"github.com/BearBump/ShipBox/internal/app"
	"github.com/BearBump/ShipBox/internal/broker/kafka"
	"github.com/BearBump/ShipBox/internal/cache/rediscache"
	"github.com/BearBump/ShipBox/internal/storage/s3images"
)

type shipAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     shipAPIOpts
	svc      *app.Services
	api      *shipmentsapi.API
	consumer *kafka.Consumer
	closers  []func()
}

func mustBootstrapShipAPI() *shipAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a, err := bootstrapShipAPI(ctx, cfg, os.Getenv("swaggerPath"))
	if err != nil {
		cancel()
		panic(err)
	}
	a.ctx, a.cancel = ctx, cancel
	return a
}

func bootstrapShipAPI(ctx context.Context, cfg *config.Config, swaggerPath string) (*shipAPIApp, error) {
	httpAddr := cfg.ShipBox.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.ShipBox.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "ship-api"
	}
	topic := app.ShipmentChangedTopic(cfg)

	loc, err := app.Location(cfg)
	if err != nil {
		return nil, err
	}
	tokens, err := app.Tokens(cfg)
	if err != nil {
		return nil, err
	}

	a := &shipAPIApp{}
	st, err := app.OpenStore(ctx, cfg, 60*time.Second)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, st.Close)
	if err := app.LinkWebhookUsers(ctx, st, cfg); err != nil {
		a.Close()
		return nil, err
	}

	deps := app.Deps{
		Fetcher: app.Fetcher(cfg),
		Tokens:  tokens,
	}
	if cfg.Redis.Host != "" {
		rc := rediscache.New(app.RedisAddr(cfg))
		a.closers = append(a.closers, func() { _ = rc.Close() })
		deps.Cache = rc
	}
	if cfg.Kafka.Host != "" {
		producer := kafka.NewProducer(app.KafkaBrokers(cfg))
		a.closers = append(a.closers, func() { _ = producer.Close() })
		deps.Publisher = producer
		a.consumer = kafka.NewConsumer(app.KafkaBrokers(cfg), topic, consumerGroup)
	}
	if cfg.Storage.Bucket != "" {
		blobs, err := newBlobStore(ctx, cfg.Storage)
		if err != nil {
			a.Close()
			return nil, err
		}
		deps.Blobs = blobs
	}

	a.svc = app.NewServices(st, cfg, loc, deps)
	a.api = shipmentsapi.New(shipmentsapi.Deps{
		Lifecycle:  a.svc.Lifecycle,
		Collection: a.svc.Collection,
		Reconciler: a.svc.Reconciler,
		Tracking:   a.svc.Tracking,
		Shipments:  a.svc.Store,
	})
	a.opts = shipAPIOpts{
		httpAddr:      httpAddr,
		swaggerPath:   swaggerPath,
		topic:         topic,
		consumerGroup: consumerGroup,
	}
	return a, nil
}

func newBlobStore(ctx context.Context, cfg config.StorageConfig) (*s3images.Store, error) {
	blobs, err := s3images.New(ctx, s3images.Config{
		Endpoint:      cfg.Endpoint,
		Region:        cfg.Region,
		Bucket:        cfg.Bucket,
		AccessKey:     cfg.AccessKey,
		SecretKey:     cfg.SecretKey,
		UseSSL:        cfg.UseSSL,
		PublicBaseURL: cfg.PublicBaseURL,
	})
	if err != nil {
		return nil, err
	}
	// Bucket может создаваться вручную; приложение не должно из-за этого падать.
	if err := blobs.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure image bucket", "bucket", cfg.Bucket, "error", err.Error())
	}
	return blobs, nil
}

func (a *shipAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *shipAPIApp) Run() error {
	var consumer kafkaConsumer
	if a.consumer != nil {
		consumer = a.consumer
	}
	return runShipAPI(a.ctx, a.opts, a.api.Routes(), a.svc.Tracking, consumer)
}
