// Package app wires config into the service graph shared by ship-api and
// ship-worker.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/BearBump/ShipBox/config"
	"github.com/BearBump/ShipBox/internal/cache"
	"github.com/BearBump/ShipBox/internal/integrations/orders"
	"github.com/BearBump/ShipBox/internal/integrations/orders/emulator"
	"github.com/BearBump/ShipBox/internal/integrations/orders/fake"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/services/collection"
	"github.com/BearBump/ShipBox/internal/services/dedup"
	"github.com/BearBump/ShipBox/internal/services/lifecycle"
	"github.com/BearBump/ShipBox/internal/services/normalizer"
	"github.com/BearBump/ShipBox/internal/services/reconciler"
	"github.com/BearBump/ShipBox/internal/services/tracking"
	"github.com/BearBump/ShipBox/internal/storage"
	"github.com/BearBump/ShipBox/internal/storage/memshipment"
	"github.com/BearBump/ShipBox/internal/storage/pgshipment"
	"github.com/pkg/errors"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	DefaultTimezone             = "America/Argentina/Buenos_Aires"
	DefaultShipmentChangedTopic = "shipment.changed"
	DefaultClosureReportTopic   = "closure.report"
)

// Location resolves the operating timezone.
func Location(cfg *config.Config) (*time.Location, error) {
	name := cfg.ShipBox.OperatingTimezone
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, errors.Wrapf(err, "load timezone %q", name)
	}
	return loc, nil
}

func ShipmentChangedTopic(cfg *config.Config) string {
	if cfg.Kafka.ShipmentChangedTopicName == "" {
		return DefaultShipmentChangedTopic
	}
	return cfg.Kafka.ShipmentChangedTopicName
}

func ClosureReportTopic(cfg *config.Config) string {
	if cfg.Kafka.ClosureReportTopicName == "" {
		return DefaultClosureReportTopic
	}
	return cfg.Kafka.ClosureReportTopicName
}

func RedisAddr(cfg *config.Config) string {
	return fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
}

func KafkaBrokers(cfg *config.Config) []string {
	return []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
}

// OpenStore opens the configured store. Postgres is retried until wait
// runs out, so the binaries survive starting before the database.
func OpenStore(ctx context.Context, cfg *config.Config, wait time.Duration) (storage.Store, error) {
	switch strings.ToLower(cfg.ShipBox.Driver) {
	case DriverMemory:
		slog.Warn("using in-memory store, data is lost on restart")
		return memshipment.New(), nil
	case "", DriverPostgres:
	default:
		return nil, errors.Errorf("unknown store driver %q", cfg.ShipBox.Driver)
	}

	deadline := time.Now().Add(wait)
	var lastErr error
	for {
		st, err := pgshipment.New(cfg.Database.ConnString())
		if err == nil {
			return st, nil
		}
		lastErr = err
		if time.Now().After(deadline) {
			return nil, errors.Wrapf(lastErr, "postgres is not ready after %s", wait)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func Tokens(cfg *config.Config) (*orders.StaticTokens, error) {
	out := make([]orders.Token, 0, len(cfg.Integrations.Tokens))
	for i, t := range cfg.Integrations.Tokens {
		origin, ok := models.ParseOrigin(t.Origin)
		if !ok || !origin.External() {
			return nil, errors.Errorf("integrations.tokens[%d]: unknown origin %q", i, t.Origin)
		}
		out = append(out, orders.Token{
			CustomerID:  t.CustomerID,
			Origin:      origin,
			AccessToken: t.AccessToken,
			StoreID:     t.StoreID,
		})
	}
	return orders.NewStaticTokens(out), nil
}

// LinkWebhookUsers registers the platform accounts whose webhooks we accept.
func LinkWebhookUsers(ctx context.Context, st storage.Store, cfg *config.Config) error {
	for i, u := range cfg.Integrations.WebhookUsers {
		origin, ok := models.ParseOrigin(u.Origin)
		if !ok || !origin.External() {
			return errors.Errorf("integrations.webhook_users[%d]: unknown origin %q", i, u.Origin)
		}
		if err := st.LinkCustomer(ctx, u.CustomerID, origin, u.OriginUserID); err != nil {
			return errors.Wrapf(err, "link %s user %s", origin, u.OriginUserID)
		}
	}
	return nil
}

// Fetcher talks to the channel emulator when one is configured; otherwise
// an empty in-process fake answers every fetch with not found.
func Fetcher(cfg *config.Config) orders.Fetcher {
	if cfg.Integrations.EmulatorBaseURL != "" {
		return emulator.New(cfg.Integrations.EmulatorBaseURL)
	}
	slog.Warn("integrations.emulator_base_url is empty, external fetches will fail")
	return fake.New()
}

// Deps are the optional infrastructure pieces; nil fields switch the
// matching feature off.
type Deps struct {
	Publisher lifecycle.Publisher
	Cache     cache.BytesCache
	Blobs     lifecycle.BlobStore
	Fetcher   orders.Fetcher
	Tokens    orders.TokenProvider
}

type Services struct {
	Store      storage.Store
	Lifecycle  *lifecycle.Service
	Collection *collection.Service
	Reconciler *reconciler.Service
	Tracking   *tracking.Service
}

func NewServices(st storage.Store, cfg *config.Config, loc *time.Location, d Deps) *Services {
	ttl := time.Duration(cfg.ShipBox.PublicTrackingTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	webhookTimeout := time.Duration(cfg.ShipBox.WebhookTimeoutSeconds) * time.Second
	if webhookTimeout <= 0 {
		webhookTimeout = 10 * time.Second
	}
	if d.Tokens == nil {
		d.Tokens = orders.NewStaticTokens(nil)
	}
	if d.Fetcher == nil {
		d.Fetcher = fake.New()
	}

	pub := tracking.New(st, d.Cache, ttl)
	lcCfg := lifecycle.Config{
		Location:    loc,
		Publisher:   d.Publisher,
		Topic:       ShipmentChangedTopic(cfg),
		Invalidator: pub,
		Blobs:       d.Blobs,
	}
	lc := lifecycle.New(st, lcCfg)

	rec := reconciler.New(st, lc, dedup.New(loc, cfg.ShipBox.StrictDedup), normalizer.Default(),
		d.Fetcher, d.Tokens, reconciler.Config{WebhookTimeout: webhookTimeout})

	return &Services{
		Store:      st,
		Lifecycle:  lc,
		Collection: collection.New(st, lc, loc),
		Reconciler: rec,
		Tracking:   pub,
	}
}
