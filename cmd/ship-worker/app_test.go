package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BearBump/ShipBox/config"
	"github.com/BearBump/ShipBox/internal/cache"
	"github.com/BearBump/ShipBox/internal/integrations/orders"
	"github.com/BearBump/ShipBox/internal/integrations/orders/fake"
	"github.com/BearBump/ShipBox/internal/services/poller"
	"github.com/BearBump/ShipBox/internal/storage"
	"github.com/BearBump/ShipBox/internal/storage/memshipment"
	"github.com/stretchr/testify/require"
)

type closingStore struct {
	*memshipment.Store
	closed *bool
}

func (s closingStore) Close() { *s.closed = true }

func testFactories(closed *bool) workerFactories {
	return workerFactories{
		newStorage: func(ctx context.Context, cfg *config.Config) (storage.Store, error) {
			return closingStore{Store: memshipment.New(), closed: closed}, nil
		},
		newPublisher:   func(cfg *config.Config) (publisher, func()) { return nil, nil },
		newRateLimiter: func(cfg *config.Config) (poller.RateLimiter, func()) { return nil, nil },
		newCache:       func(cfg *config.Config) (cache.BytesCache, func()) { return nil, nil },
		newFetcher:     func(cfg *config.Config) orders.Fetcher { return fake.New() },
	}
}

func testConfig() *config.Config {
	return &config.Config{ShipBox: config.ShipBoxConfig{
		WorkerPollIntervalSeconds: 1,
		OperatingTimezone:         "UTC",
	}}
}

func TestDefaultWorkerFactories_OptionalInfra(t *testing.T) {
	f := defaultWorkerFactories()
	cfg := &config.Config{}

	pub, closePub := f.newPublisher(cfg)
	require.Nil(t, pub)
	require.Nil(t, closePub)
	rl, _ := f.newRateLimiter(cfg)
	require.Nil(t, rl)
	c, _ := f.newCache(cfg)
	require.Nil(t, c)

	cfg = &config.Config{
		Kafka: config.KafkaConfig{Host: "localhost", Port: 9092},
		Redis: config.RedisConfig{Host: "localhost", Port: 6379},
	}
	pub, closePub = f.newPublisher(cfg)
	require.NotNil(t, pub)
	closePub()
	rl, closeRL := f.newRateLimiter(cfg)
	require.NotNil(t, rl)
	closeRL()
}

func TestPlannerConfig(t *testing.T) {
	cfg := &config.Config{ShipBox: config.ShipBoxConfig{
		WorkerNextCheckInTransitMinSeconds: 30,
		WorkerNextCheckInTransitMaxSeconds: 90,
		WorkerBackoff1Seconds:              10,
	}}
	pc := plannerConfig(cfg)
	require.Equal(t, 30*time.Second, pc.InTransitMinDelay)
	require.Equal(t, 90*time.Second, pc.InTransitMaxDelay)
	require.Equal(t, 10*time.Second, pc.Backoff1)
	require.Zero(t, pc.PendingDelay)
}

func TestRunShipWorker_ContextCanceled(t *testing.T) {
	closed := false
	w, err := buildWorker(context.Background(), testConfig(), testFactories(&closed))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = RunShipWorker(ctx, w)
	require.ErrorIs(t, err, context.Canceled)

	w.Close()
	require.True(t, closed)
}

func TestBuildWorker_BadClosureCron(t *testing.T) {
	cfg := testConfig()
	cfg.ShipBox.ClosureCron = "every day"
	closed := false
	w, err := buildWorker(context.Background(), cfg, testFactories(&closed))
	require.NoError(t, err)
	defer w.Close()

	require.Error(t, RunShipWorker(context.Background(), w))
}

func TestWorkerRouter(t *testing.T) {
	closed := false
	cfg := testConfig()
	cfg.ShipBox.ClosureCron = "0 22 * * *"
	w, err := buildWorker(context.Background(), cfg, testFactories(&closed))
	require.NoError(t, err)
	defer w.Close()

	dir := t.TempDir()
	sw := filepath.Join(dir, "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	srv := httptest.NewServer(newWorkerRouter(workerHTTPOpts{poller: w.poller, cfg: cfg, swaggerPath: sw}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/trigger", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	var st poller.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	require.NotNil(t, st.LastTriggerAt)

	resp, err = http.Get(srv.URL + "/config")
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	require.Equal(t, "0 22 * * *", out["closureCron"])

	resp, err = http.Get(srv.URL + "/swagger.json")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRunWorkerHTTPServer_MissingSwagger(t *testing.T) {
	err := runWorkerHTTPServer(context.Background(), workerHTTPOpts{httpAddr: "127.0.0.1:0", swaggerPath: "/nope.json"})
	require.ErrorContains(t, err, "swagger file not found")
}
