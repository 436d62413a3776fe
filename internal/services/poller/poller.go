package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/services/reconciler"
)

type Repository interface {
	ClaimDuePolls(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Shipment, error)
	SchedulePoll(ctx context.Context, id uint64, next time.Time, pollErr *string) error
}

type Syncer interface {
	SyncShipment(ctx context.Context, sh *models.Shipment) (reconciler.Result, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Poller re-reads marketplace shipments whose platform does not push every
// status change.
type Poller struct {
	repo   Repository
	syncer Syncer
	rl     RateLimiter

	planner *Planner

	pollInterval       time.Duration
	batchSize          int
	concurrency        int
	lease              time.Duration
	fetchTimeout       time.Duration
	cycleGrace         time.Duration
	rateLimitPerMinute int64
	originLimits       map[models.Origin]int64

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalProcessed      atomic.Int64
	totalCreated        atomic.Int64
	totalUpdated        atomic.Int64
	totalSkipped        atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, syncer Syncer, rl RateLimiter) *Poller {
	return &Poller{
		repo: repo, syncer: syncer, rl: rl,
		planner:            DefaultPlanner(),
		pollInterval:       2 * time.Second,
		batchSize:          100,
		concurrency:        10,
		lease:              120 * time.Second,
		fetchTimeout:       10 * time.Second,
		cycleGrace:         5 * time.Second,
		rateLimitPerMinute: 120,
		originLimits:       map[models.Origin]int64{},
		triggerCh:          make(chan struct{}, 1),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func DefaultPlanner() *Planner {
	return NewPlanner(DefaultPlannerConfig(), nil)
}

func (p *Poller) WithSettings(pollInterval time.Duration, batchSize, concurrency int, lease time.Duration, rlPerMin int64) *Poller {
	if pollInterval > 0 {
		p.pollInterval = pollInterval
	}
	if batchSize > 0 {
		p.batchSize = batchSize
	}
	if concurrency > 0 {
		p.concurrency = concurrency
	}
	if lease > 0 {
		p.lease = lease
	}
	if rlPerMin > 0 {
		p.rateLimitPerMinute = rlPerMin
	}
	return p
}

func (p *Poller) WithFetchTimeout(d time.Duration) *Poller {
	if d > 0 {
		p.fetchTimeout = d
	}
	return p
}

// WithCycleGrace bounds how long one cycle may last, dispatch included.
// Stragglers keep running and undispatched items stay under their lease.
func (p *Poller) WithCycleGrace(d time.Duration) *Poller {
	if d > 0 {
		p.cycleGrace = d
	}
	return p
}

// WithOriginRateLimit overrides the per-minute budget for one platform.
func (p *Poller) WithOriginRateLimit(origin models.Origin, perMin int) *Poller {
	if perMin > 0 {
		p.originLimits[origin] = int64(perMin)
	}
	return p
}

func (p *Poller) WithPlanner(cfg PlannerConfig) *Poller {
	p.planner = NewPlanner(cfg, nil)
	return p
}

// Trigger forces an immediate poll cycle (best-effort, non-blocking).
func (p *Poller) Trigger() {
	p.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalProcessed int64      `json:"totalProcessed"`
	TotalCreated   int64      `json:"totalCreated"`
	TotalUpdated   int64      `json:"totalUpdated"`
	TotalSkipped   int64      `json:"totalSkipped"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (p *Poller) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, p.startedAtUnixNano).UTC(),
		TotalClaimed:   p.totalClaimed.Load(),
		TotalProcessed: p.totalProcessed.Load(),
		TotalCreated:   p.totalCreated.Load(),
		TotalUpdated:   p.totalUpdated.Load(),
		TotalSkipped:   p.totalSkipped.Load(),
		TotalErrors:    p.totalErrors.Load(),
		InFlight:       p.inFlight.Load(),
	}
	if n := p.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := p.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()
	return st
}

func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.runOnce(ctx)
		case <-p.triggerCh:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) setLastError(err error) {
	p.lastErrorMu.Lock()
	p.lastError = err.Error()
	p.lastErrorMu.Unlock()
}

func (p *Poller) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	p.lastCycleUnixNano.Store(now.UnixNano())

	items, err := p.repo.ClaimDuePolls(ctx, now, p.batchSize, p.lease)
	if err != nil {
		slog.Error("claim due polls", "error", err.Error())
		p.setLastError(err)
		return
	}
	p.totalClaimed.Add(int64(len(items)))

	// Грейс ограничивает весь цикл, включая ожидание семафора.
	grace := time.NewTimer(p.cycleGrace)
	defer grace.Stop()

	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
dispatch:
	for i, sh := range items {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		case <-grace.C:
			// Оставшиеся элементы не трогаем: их аренда истечёт, и следующий цикл заберёт их снова.
			slog.Warn("poll cycle exceeded grace, leaving items for next cycle",
				"undispatched", len(items)-i, "in_flight", p.inFlight.Load())
			return
		}
		sh := sh // per-iteration copy (go 1.21 loop variable semantics)
		wg.Add(1)
		p.inFlight.Add(1)
		go func() {
			defer func() {
				p.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := p.processOne(ctx, sh); err != nil {
				p.totalErrors.Add(1)
				p.setLastError(err)
				slog.Error("poll shipment", "shipment_id", sh.ID, "error", err.Error())
			}
			p.totalProcessed.Add(1)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	case <-grace.C:
		slog.Warn("poll cycle exceeded grace, not waiting for stragglers", "in_flight", p.inFlight.Load())
	}
}

// processOne syncs one shipment and always reschedules it: a failed fetch
// backs off, a success is planned from the resulting status.
func (p *Poller) processOne(ctx context.Context, sh *models.Shipment) error {
	if err := p.waitTurn(ctx, sh.Origin); err != nil {
		return err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	res, syncErr := p.syncer.SyncShipment(fetchCtx, sh)
	cancel()

	now := time.Now().UTC()
	if syncErr != nil {
		e := syncErr.Error()
		next := now.Add(p.planner.BackoffDelay(sh.PollFailCount + 1))
		if err := p.repo.SchedulePoll(ctx, sh.ID, next, &e); err != nil {
			slog.Error("schedule poll", "shipment_id", sh.ID, "error", err.Error())
		}
		return syncErr
	}

	switch res.Outcome {
	case reconciler.OutcomeCreated:
		p.totalCreated.Add(1)
	case reconciler.OutcomeUpdated:
		p.totalUpdated.Add(1)
	case reconciler.OutcomeSkipped:
		p.totalSkipped.Add(1)
	}

	status := sh.Status
	id := sh.ID
	if res.Shipment != nil {
		status = res.Shipment.Status
		// После удаления merge создаёт новую запись; планируем именно её.
		id = res.Shipment.ID
	}
	return p.repo.SchedulePoll(ctx, id, now.Add(p.planner.NextCheckDelay(status)), nil)
}

// waitTurn spends one unit of the platform's per-minute budget. When the
// budget is exhausted it pauses briefly and proceeds.
func (p *Poller) waitTurn(ctx context.Context, origin models.Origin) error {
	if p.rl == nil || p.rateLimitPerMinute <= 0 {
		return nil
	}
	limit := p.rateLimitPerMinute
	if l, ok := p.originLimits[origin]; ok {
		limit = l
	}

	allowed, n, err := p.rl.Allow(ctx, fmt.Sprintf("rl:origin:%s", origin), limit, time.Minute)
	if err != nil {
		return err
	}
	if !allowed {
		// Слишком много запросов в минуту: подождём немного, чтобы разгрузить источник.
		slog.Warn("rate limit exceeded", "origin", origin, "count", n)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return nil
}
