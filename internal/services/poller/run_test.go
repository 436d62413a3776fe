package poller

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/BearBump/ShipBox/internal/integrations/orders"
	"github.com/BearBump/ShipBox/internal/integrations/orders/fake"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/services/dedup"
	"github.com/BearBump/ShipBox/internal/services/lifecycle"
	"github.com/BearBump/ShipBox/internal/services/normalizer"
	"github.com/BearBump/ShipBox/internal/services/reconciler"
	"github.com/BearBump/ShipBox/internal/storage/memshipment"
	"github.com/stretchr/testify/require"
)

func TestPoller_Run_StopsOnContextCancel(t *testing.T) {
	repo := &fakeRepo{}
	p := New(repo, fakeSyncer{}, nil).WithSettings(5*time.Millisecond, 1, 1, 1*time.Second, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := p.Run(ctx)
	require.Error(t, err)
	repo.mu.Lock()
	defer repo.mu.Unlock()
	require.GreaterOrEqual(t, repo.calls, 1)
}

func TestPoller_Trigger_SyncsDueFlexShipments(t *testing.T) {
	ctx := context.Background()
	store := memshipment.New()
	lc := lifecycle.New(store, lifecycle.Config{Location: time.UTC})
	f := fake.New()
	tokens := orders.NewStaticTokens([]orders.Token{{CustomerID: 1, Origin: models.OriginFlex, AccessToken: "ml"}})
	rec := reconciler.New(store, lc, dedup.New(time.UTC, false), normalizer.Default(), f, tokens, reconciler.Config{})

	raw := func(status string) []byte {
		return []byte(fmt.Sprintf(`{"id": 777, "sender_id": 1, "receiver_id": 9, "status": %q,
			"date_created": "2026-03-02T10:00:00.000-03:00",
			"receiver_address": {"receiver_name": "Lucía Díaz"}}`, status))
	}
	f.Put(models.OriginFlex, "777", raw("ready_to_ship"))
	in, err := normalizer.Default().Normalize(models.OriginFlex, raw("ready_to_ship"))
	require.NoError(t, err)
	created, err := rec.Merge(ctx, 1, in)
	require.NoError(t, err)

	f.Put(models.OriginFlex, "777", raw("shipped"))
	p := New(store, rec, nil).WithSettings(time.Hour, 10, 2, time.Minute, 0)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- p.Run(runCtx) }()
	p.Trigger()

	require.Eventually(t, func() bool { return p.Stats().TotalProcessed == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	got, err := store.GetShipment(ctx, created.Shipment.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusEnRouteToRecipient, got.Status)
	require.NotNil(t, got.NextPollAt)
	require.True(t, got.NextPollAt.After(time.Now().UTC()))
	require.Equal(t, int64(1), p.Stats().TotalUpdated)
	require.NotNil(t, p.Stats().LastTriggerAt)
}
