package pgshipment

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/ShipBox/internal/errs"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container test")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "shipbox_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/shipbox_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func flexShipment(tracking, token string) *models.Shipment {
	sale := time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC)
	return &models.Shipment{
		CustomerID:         42,
		Tracking:           tracking,
		TrackingToken:      token,
		QRData:             `{"id":"` + tracking + `"}`,
		Origin:             models.OriginFlex,
		ExternalShipmentID: "ML-" + tracking,
		Status:             models.StatusAwaitingPickup,
		SaleDate:           sale,
		Deadline:           sale.Add(10 * time.Hour),
		Recipient:          models.Recipient{Name: "Ana Pérez", Address: "Av. Siempre Viva 742"},
		RecipientKey:       "ana pérez",
		AmountToCollect:    decimal.RequireFromString("1500.50"),
		Weight:             decimal.RequireFromString("1.250"),
		Collected:          models.CollectedNo,
	}
}

func TestPGShipment_RepoFlow(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()

	a := flexShipment("A1", "tok-a")
	b := flexShipment("B2", "tok-b")
	require.NoError(t, st.InTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.Insert(ctx, a); err != nil {
			return err
		}
		_, err := tx.Insert(ctx, b)
		return err
	}))
	require.NotZero(t, a.ID)

	// Натуральный ключ занят живой записью.
	err := st.InTx(ctx, func(tx storage.Tx) error {
		_, err := tx.Insert(ctx, flexShipment("A1", "tok-c"))
		return err
	})
	require.ErrorIs(t, err, errs.ErrConflictOnInsert)

	got, err := st.GetShipment(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, got.AmountToCollect.Equal(decimal.RequireFromString("1500.50")))
	require.Equal(t, models.CollectedNo, got.Collected)
	require.Nil(t, got.Proof)

	// legacy NULL collected читается как "собрано"
	_, err = st.db.Exec(ctx, `UPDATE shipments SET collected = NULL WHERE id = $1`, b.ID)
	require.NoError(t, err)
	ops, err := st.ListOperational(ctx, 42)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, b.ID, ops[0].ID)
	require.Equal(t, models.CollectedLegacyUnknown, ops[0].Collected)

	_, err = st.db.Exec(ctx, `UPDATE shipments SET next_poll_at = now() + interval '1 hour' WHERE id = $1`, b.ID)
	require.NoError(t, err)

	now := time.Now().UTC()
	lease := 10 * time.Second
	due, err := st.ClaimDuePolls(ctx, now, 10, lease)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, a.ID, due[0].ID)
	require.WithinDuration(t, now.Add(lease), *due[0].NextPollAt, 2*time.Second)

	msg := "timeout"
	require.NoError(t, st.SchedulePoll(ctx, a.ID, now.Add(time.Minute), &msg))
	got, err = st.GetShipment(ctx, a.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, got.PollFailCount)
	require.Equal(t, "timeout", *got.LastPollError)

	driver := uint64(7)
	moved := now
	require.NoError(t, st.InTx(ctx, func(tx storage.Tx) error {
		sh, err := tx.GetForUpdate(ctx, a.ID)
		if err != nil {
			return err
		}
		sh.Status = models.StatusEnRouteToRecipient
		sh.Collected = models.CollectedYes
		sh.AssignedDriverID = &driver
		sh.AssignedDriverName = "Juan"
		sh.LastMovementAt = &moved
		if err := tx.Update(ctx, sh); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, &models.HistoryEntry{
			ShipmentID: sh.ID, Status: sh.Status, At: moved, Origin: models.ChangeOriginApp,
		})
	}))

	rows, err := st.ClosureCounts(ctx, now.Add(-time.Hour), now.Add(time.Hour), true)
	require.NoError(t, err)
	require.Equal(t, []models.ClosureRow{{DriverID: 7, DriverName: "Juan", Count: 1}}, rows)

	hist, err := st.ListHistory(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, models.StatusEnRouteToRecipient, hist[0].Status)

	require.NoError(t, st.LinkCustomer(ctx, 42, models.OriginFlex, "seller-1"))
	id, ok, err := st.LookupCustomer(ctx, models.OriginFlex, "seller-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 42, id)
}

func TestPGShipment_RollbackOnError(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()

	err := st.InTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.Insert(ctx, flexShipment("R1", "tok-r")); err != nil {
			return err
		}
		return errs.Validation("boom")
	})
	require.ErrorIs(t, err, errs.ErrValidation)

	var n int
	require.NoError(t, st.db.QueryRow(ctx, `SELECT count(*) FROM shipments`).Scan(&n))
	require.Zero(t, n)
}
