package memshipment

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/ShipBox/internal/errs"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/storage"
	"github.com/stretchr/testify/require"
)

func shipment(customerID uint64, tracking, token string) *models.Shipment {
	return &models.Shipment{
		CustomerID:    customerID,
		Tracking:      tracking,
		TrackingToken: token,
		QRData:        "qr-" + tracking,
		Origin:        models.OriginFlex,
		Status:        models.StatusAwaitingPickup,
		SaleDate:      time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC),
		Collected:     models.CollectedNo,
	}
}

func TestStore_InsertConflictAndRollback(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.InTx(ctx, func(tx storage.Tx) error {
		_, err := tx.Insert(ctx, shipment(1, "T1", "a"))
		return err
	}))

	err := s.InTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.Insert(ctx, shipment(2, "T9", "b")); err != nil {
			return err
		}
		_, err := tx.Insert(ctx, shipment(1, "T1", "c"))
		return err
	})
	require.ErrorIs(t, err, errs.ErrConflictOnInsert)

	// вставка T9 откатилась вместе с транзакцией
	_, err = s.GetShipment(ctx, 2)
	require.ErrorIs(t, err, errs.ErrNotFound)

	// другой клиент может иметь тот же трек
	require.NoError(t, s.InTx(ctx, func(tx storage.Tx) error {
		_, err := tx.Insert(ctx, shipment(2, "T1", "d"))
		return err
	}))
}

func TestStore_DeletedRowsFreeNaturalKey(t *testing.T) {
	ctx := context.Background()
	s := New()

	first := shipment(1, "T1", "a")
	require.NoError(t, s.InTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.Insert(ctx, first); err != nil {
			return err
		}
		first.Deleted = true
		return tx.Update(ctx, first)
	}))

	require.NoError(t, s.InTx(ctx, func(tx storage.Tx) error {
		found, err := tx.FindByTracking(ctx, 1, "T1")
		require.NoError(t, err)
		require.Empty(t, found)

		sh, err := tx.GetForUpdate(ctx, first.ID)
		require.NoError(t, err)
		require.True(t, sh.Deleted)

		_, err = tx.Insert(ctx, shipment(1, "T1", "b"))
		return err
	}))
}

func TestStore_OperationalAndClosureTreatLegacyAsCollected(t *testing.T) {
	ctx := context.Background()
	s := New()
	day := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	driver := uint64(5)

	states := []models.CollectedState{models.CollectedLegacyUnknown, models.CollectedNo, models.CollectedYes}
	require.NoError(t, s.InTx(ctx, func(tx storage.Tx) error {
		for i, c := range states {
			sh := shipment(1, string(rune('A'+i)), string(rune('a'+i)))
			sh.Collected = c
			sh.Status = models.StatusEnRouteToRecipient
			sh.AssignedDriverID = &driver
			sh.AssignedDriverName = "Juan"
			sh.LastMovementAt = &day
			if _, err := tx.Insert(ctx, sh); err != nil {
				return err
			}
		}
		return nil
	}))

	ops, err := s.ListOperational(ctx, 1)
	require.NoError(t, err)
	require.Len(t, ops, 2)

	rows, err := s.ClosureCounts(ctx, day.Add(-time.Hour), day.Add(time.Hour), false)
	require.NoError(t, err)
	require.Equal(t, []models.ClosureRow{{DriverID: 5, DriverName: "Juan", Count: 2}}, rows)

	rows, err = s.ClosureCounts(ctx, day.Add(time.Hour), day.Add(2*time.Hour), false)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestStore_ClaimDuePollsLeases(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)

	require.NoError(t, s.InTx(ctx, func(tx storage.Tx) error {
		due := shipment(1, "D", "d")
		due.ExternalShipmentID = "ML-1"
		notYet := shipment(1, "N", "n")
		notYet.ExternalShipmentID = "ML-2"
		notYet.NextPollAt = &later
		done := shipment(1, "X", "x")
		done.ExternalShipmentID = "ML-3"
		done.Status = models.StatusDelivered
		for _, sh := range []*models.Shipment{due, notYet, done} {
			if _, err := tx.Insert(ctx, sh); err != nil {
				return err
			}
		}
		return nil
	}))

	claimed, err := s.ClaimDuePolls(ctx, now, 10, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, "D", claimed[0].Tracking)

	again, err := s.ClaimDuePolls(ctx, now, 10, 30*time.Second)
	require.NoError(t, err)
	require.Empty(t, again)

	msg := "boom"
	require.NoError(t, s.SchedulePoll(ctx, claimed[0].ID, now, &msg))
	sh, err := s.GetShipment(ctx, claimed[0].ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, sh.PollFailCount)
	require.NoError(t, s.SchedulePoll(ctx, claimed[0].ID, now, nil))
	sh, err = s.GetShipment(ctx, claimed[0].ID)
	require.NoError(t, err)
	require.Zero(t, sh.PollFailCount)
	require.Nil(t, sh.LastPollError)
}

func TestStore_HistoryOrdering(t *testing.T) {
	ctx := context.Background()
	s := New()
	t0 := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.InTx(ctx, func(tx storage.Tx) error {
		for _, at := range []time.Time{t0.Add(time.Minute), t0, t0} {
			if err := tx.AppendHistory(ctx, &models.HistoryEntry{ShipmentID: 1, At: at}); err != nil {
				return err
			}
		}
		return nil
	}))

	h, err := s.ListHistory(ctx, 1)
	require.NoError(t, err)
	require.Len(t, h, 3)
	require.EqualValues(t, []uint64{2, 3, 1}, []uint64{h[0].ID, h[1].ID, h[2].ID})
}
