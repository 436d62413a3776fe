package collection

import (
	"context"
	"strings"
	"time"

	"github.com/BearBump/ShipBox/internal/errs"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/storage"
	"github.com/pkg/errors"
)

type Store interface {
	InTx(ctx context.Context, fn func(tx storage.Tx) error) error
	ClosureCounts(ctx context.Context, from, to time.Time, flexOnly bool) ([]models.ClosureRow, error)
}

// Notifier is satisfied by lifecycle.Service.
type Notifier interface {
	Notify(ctx context.Context, sh *models.Shipment, prev models.Status, origin models.ChangeOrigin)
}

type Service struct {
	store    Store
	notifier Notifier
	loc      *time.Location
	now      func() time.Time
}

func New(store Store, notifier Notifier, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: store, notifier: notifier, loc: loc, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) Location() *time.Location { return s.loc }

// Collect marks the shipment behind a scanned label as physically received.
// A repeated scan is a no-op that returns the current state.
func (s *Service) Collect(ctx context.Context, qrData, actor string, channel models.ChangeOrigin) (*models.Shipment, error) {
	qrData = strings.TrimSpace(qrData)
	if qrData == "" {
		return nil, errs.Validation("qr data is required")
	}
	if !channel.Valid() {
		channel = models.ChangeOriginApp
	}

	var sh *models.Shipment
	changed := false
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		sh, err = tx.GetByQRForUpdate(ctx, qrData)
		if err != nil {
			return err
		}
		if sh.Collected == models.CollectedYes {
			return nil
		}

		at := s.now().UTC()
		sh.Collected = models.CollectedYes
		sh.CollectedAt = &at
		sh.AtFacilityAt = &at
		sh.LastMovementAt = &at
		if err := tx.Update(ctx, sh); err != nil {
			return errors.Wrap(err, "update shipment")
		}
		changed = true
		return tx.AppendHistory(ctx, &models.HistoryEntry{
			ShipmentID: sh.ID,
			Status:     sh.Status,
			At:         at,
			Actor:      actor,
			Note:       "collected",
			Origin:     channel,
		})
	})
	if err != nil {
		return nil, err
	}

	if changed && s.notifier != nil {
		s.notifier.Notify(ctx, sh, sh.Status, channel)
	}
	return sh, nil
}

// Closure counts en-route shipments per driver whose last movement happened
// on day (calendar day in the operating timezone).
func (s *Service) Closure(ctx context.Context, day time.Time, soloFlex bool) ([]models.ClosureRow, error) {
	from, to := s.dayBounds(day)
	rows, err := s.store.ClosureCounts(ctx, from, to, soloFlex)
	if err != nil {
		return nil, errors.Wrap(err, "closure counts")
	}
	return rows, nil
}

// ParseDay reads YYYY-MM-DD in the operating timezone; empty means today.
func (s *Service) ParseDay(v string) (time.Time, error) {
	if strings.TrimSpace(v) == "" {
		return s.now().In(s.loc), nil
	}
	d, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(v), s.loc)
	if err != nil {
		return time.Time{}, errs.Validation("date must be YYYY-MM-DD")
	}
	return d, nil
}

func (s *Service) dayBounds(day time.Time) (time.Time, time.Time) {
	d := day.In(s.loc)
	from := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, s.loc)
	return from, from.AddDate(0, 0, 1)
}
