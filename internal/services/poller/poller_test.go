package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/services/reconciler"
	"github.com/stretchr/testify/require"
)

type scheduled struct {
	id      uint64
	next    time.Time
	pollErr *string
}

type fakeRepo struct {
	mu        sync.Mutex
	claim     []*models.Shipment
	claimErr  error
	calls     int
	schedules []scheduled
}

func (r *fakeRepo) ClaimDuePolls(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	out := r.claim
	r.claim = nil
	return out, r.claimErr
}

func (r *fakeRepo) SchedulePoll(ctx context.Context, id uint64, next time.Time, pollErr *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedules = append(r.schedules, scheduled{id: id, next: next, pollErr: pollErr})
	return nil
}

type fakeSyncer struct {
	res reconciler.Result
	err error
}

func (s fakeSyncer) SyncShipment(ctx context.Context, sh *models.Shipment) (reconciler.Result, error) {
	if _, ok := ctx.Deadline(); !ok {
		return reconciler.Result{}, errors.New("fetch without deadline")
	}
	return s.res, s.err
}

type fakeRL struct {
	allowed bool
	count   int64
	err     error
	keys    []string
	limits  []int64
}

func (r *fakeRL) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	r.keys = append(r.keys, key)
	r.limits = append(r.limits, limit)
	return r.allowed, r.count, r.err
}

func TestPoller_processOne_schedulesFromStatus(t *testing.T) {
	repo := &fakeRepo{}
	updated := &models.Shipment{ID: 42, Status: models.StatusEnRouteToRecipient}
	p := New(repo, fakeSyncer{res: reconciler.Result{Outcome: reconciler.OutcomeUpdated, Shipment: updated}}, &fakeRL{allowed: true}).
		WithPlanner(PlannerConfig{InTransitMinDelay: 7 * time.Minute, InTransitMaxDelay: 7 * time.Minute})

	before := time.Now().UTC()
	sh := &models.Shipment{ID: 42, Origin: models.OriginFlex, Status: models.StatusAwaitingPickup, ExternalShipmentID: "1"}
	require.NoError(t, p.processOne(context.Background(), sh))

	require.Len(t, repo.schedules, 1)
	require.Equal(t, uint64(42), repo.schedules[0].id)
	require.Nil(t, repo.schedules[0].pollErr)
	require.WithinDuration(t, before.Add(7*time.Minute), repo.schedules[0].next, 5*time.Second)
	require.Equal(t, int64(1), p.Stats().TotalUpdated)
}

func TestPoller_processOne_errorBackoff(t *testing.T) {
	repo := &fakeRepo{}
	p := New(repo, fakeSyncer{err: errors.New("boom")}, nil)

	before := time.Now().UTC()
	sh := &models.Shipment{ID: 1, Origin: models.OriginFlex, PollFailCount: 2}
	require.EqualError(t, p.processOne(context.Background(), sh), "boom")

	require.Len(t, repo.schedules, 1)
	require.NotNil(t, repo.schedules[0].pollErr)
	require.Equal(t, "boom", *repo.schedules[0].pollErr)
	// третья неудача подряд
	require.WithinDuration(t, before.Add(30*time.Minute), repo.schedules[0].next, 5*time.Second)
}

func TestPoller_processOne_originRateLimit(t *testing.T) {
	rl := &fakeRL{allowed: true}
	p := New(&fakeRepo{}, fakeSyncer{res: reconciler.Result{}}, rl).
		WithOriginRateLimit(models.OriginFlex, 30)

	require.NoError(t, p.processOne(context.Background(), &models.Shipment{ID: 3, Origin: models.OriginFlex}))
	require.NoError(t, p.processOne(context.Background(), &models.Shipment{ID: 4, Origin: models.OriginVTEX}))
	require.Equal(t, []string{"rl:origin:FLEX", "rl:origin:VTEX"}, rl.keys)
	require.Equal(t, []int64{30, 120}, rl.limits)
}

func TestPoller_processOne_rateLimiterError(t *testing.T) {
	repo := &fakeRepo{}
	p := New(repo, fakeSyncer{}, &fakeRL{err: errors.New("redis down")})
	require.Error(t, p.processOne(context.Background(), &models.Shipment{ID: 5, Origin: models.OriginFlex}))
	require.Empty(t, repo.schedules)
}

func TestPoller_runOnce_countsErrors(t *testing.T) {
	repo := &fakeRepo{claim: []*models.Shipment{{ID: 1, Origin: models.OriginFlex}, {ID: 2, Origin: models.OriginFlex}}}
	p := New(repo, fakeSyncer{err: errors.New("http 503")}, nil)

	p.runOnce(context.Background())

	st := p.Stats()
	require.Equal(t, int64(2), st.TotalClaimed)
	require.Equal(t, int64(2), st.TotalProcessed)
	require.Equal(t, int64(2), st.TotalErrors)
	require.Equal(t, "http 503", st.LastError)
	require.NotNil(t, st.LastCycleAt)
	require.Len(t, repo.schedules, 2)
}

func TestPoller_WithSettings(t *testing.T) {
	p := New(&fakeRepo{}, fakeSyncer{}, nil).
		WithSettings(5*time.Second, 7, 9, 11*time.Second, 13).
		WithFetchTimeout(3 * time.Second)
	require.Equal(t, 5*time.Second, p.pollInterval)
	require.Equal(t, 7, p.batchSize)
	require.Equal(t, 9, p.concurrency)
	require.Equal(t, 11*time.Second, p.lease)
	require.Equal(t, int64(13), p.rateLimitPerMinute)
	require.Equal(t, 3*time.Second, p.fetchTimeout)
}

type gatedSyncer struct {
	release chan struct{}
}

func (s gatedSyncer) SyncShipment(ctx context.Context, sh *models.Shipment) (reconciler.Result, error) {
	if sh.ID == 1 {
		select {
		case <-s.release:
		case <-ctx.Done():
			return reconciler.Result{}, ctx.Err()
		}
	}
	return reconciler.Result{Outcome: reconciler.OutcomeUnchanged}, nil
}

func TestPoller_runOnce_slowItemDoesNotHoldCycle(t *testing.T) {
	repo := &fakeRepo{claim: []*models.Shipment{
		{ID: 1, Origin: models.OriginFlex, Status: models.StatusDispatched},
		{ID: 2, Origin: models.OriginFlex, Status: models.StatusDispatched},
	}}
	gate := gatedSyncer{release: make(chan struct{})}
	p := New(repo, gate, nil).WithCycleGrace(100 * time.Millisecond)

	start := time.Now()
	p.runOnce(context.Background())
	require.Less(t, time.Since(start), 2*time.Second)

	// быстрый элемент уже перепланирован, медленный ещё в работе
	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return len(repo.schedules) == 1 && repo.schedules[0].id == 2
	}, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return p.Stats().InFlight == 1 }, time.Second, 10*time.Millisecond)

	close(gate.release)
	require.Eventually(t, func() bool { return p.Stats().InFlight == 0 }, time.Second, 10*time.Millisecond)
	require.Equal(t, int64(2), p.Stats().TotalProcessed)
}

type slowSyncer struct {
	delay time.Duration
}

func (s slowSyncer) SyncShipment(ctx context.Context, sh *models.Shipment) (reconciler.Result, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return reconciler.Result{}, ctx.Err()
	}
	return reconciler.Result{Outcome: reconciler.OutcomeUnchanged}, nil
}

func TestPoller_runOnce_graceCoversDispatchQueue(t *testing.T) {
	var claim []*models.Shipment
	for i := uint64(1); i <= 6; i++ {
		claim = append(claim, &models.Shipment{ID: i, Origin: models.OriginFlex, Status: models.StatusDispatched})
	}
	repo := &fakeRepo{claim: claim}
	p := New(repo, slowSyncer{delay: 400 * time.Millisecond}, nil).
		WithSettings(0, 0, 2, 0, 0).
		WithCycleGrace(100 * time.Millisecond)

	start := time.Now()
	p.runOnce(context.Background())
	require.Less(t, time.Since(start), 300*time.Millisecond)

	// только первые два ушли в работу, остальные ждут следующего цикла
	require.Eventually(t, func() bool { return p.Stats().InFlight == 0 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, int64(2), p.Stats().TotalProcessed)
	require.Equal(t, int64(6), p.Stats().TotalClaimed)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	require.Len(t, repo.schedules, 2)
}
