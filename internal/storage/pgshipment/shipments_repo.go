package pgshipment

import (
	"context"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const shipmentColumns = `
  id, customer_id, tracking, tracking_token, qr_data,
  origin, external_order_id, external_shipment_id, status,
  sale_date, deadline,
  arrived_at, delivered_at, assigned_at, dispatched_at,
  collected_at, at_facility_at, cancelled_at, last_movement_at,
  recipient_name, recipient_key, recipient_address, recipient_phone, recipient_email,
  zone, amount_to_collect::text, weight::text, description, shipping_method,
  pod_role, pod_name, pod_document_id,
  deleted, collected, assigned_driver_id, assigned_driver_name,
  next_poll_at, poll_fail_count, last_poll_error,
  created_at, updated_at`

func scanShipment(row pgx.Row) (*models.Shipment, error) {
	var sh models.Shipment
	var origin, status, amount, weight string
	var podRole, podName, podDoc *string
	var collected *bool
	if err := row.Scan(
		&sh.ID, &sh.CustomerID, &sh.Tracking, &sh.TrackingToken, &sh.QRData,
		&origin, &sh.ExternalOrderID, &sh.ExternalShipmentID, &status,
		&sh.SaleDate, &sh.Deadline,
		&sh.ArrivedAt, &sh.DeliveredAt, &sh.AssignedAt, &sh.DispatchedAt,
		&sh.CollectedAt, &sh.AtFacilityAt, &sh.CancelledAt, &sh.LastMovementAt,
		&sh.Recipient.Name, &sh.RecipientKey, &sh.Recipient.Address, &sh.Recipient.Phone, &sh.Recipient.Email,
		&sh.Zone, &amount, &weight, &sh.Description, &sh.ShippingMethod,
		&podRole, &podName, &podDoc,
		&sh.Deleted, &collected, &sh.AssignedDriverID, &sh.AssignedDriverName,
		&sh.NextPollAt, &sh.PollFailCount, &sh.LastPollError,
		&sh.CreatedAt, &sh.UpdatedAt,
	); err != nil {
		return nil, err
	}

	sh.Origin = models.Origin(origin)
	sh.Status = models.Status(status)
	sh.Collected = models.CollectedStateFromDB(collected)

	var err error
	if sh.AmountToCollect, err = decimal.NewFromString(amount); err != nil {
		return nil, errors.Wrap(err, "parse amount_to_collect")
	}
	if sh.Weight, err = decimal.NewFromString(weight); err != nil {
		return nil, errors.Wrap(err, "parse weight")
	}
	if podRole != nil || podName != nil || podDoc != nil {
		sh.Proof = &models.ProofOfDelivery{Role: deref(podRole), Name: deref(podName), DocumentID: deref(podDoc)}
	}
	return &sh, nil
}

func scanShipments(rows pgx.Rows) ([]*models.Shipment, error) {
	defer rows.Close()
	out := []*models.Shipment{}
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan shipment")
		}
		out = append(out, sh)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func proofColumns(p *models.ProofOfDelivery) (role, name, doc *string) {
	if p == nil {
		return nil, nil, nil
	}
	return &p.Role, &p.Name, &p.DocumentID
}

func (s *Storage) GetShipment(ctx context.Context, id uint64) (*models.Shipment, error) {
	sh, err := scanShipment(s.db.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err, "shipment")
	}
	return sh, nil
}

func (s *Storage) GetByTrackingToken(ctx context.Context, token string) (*models.Shipment, error) {
	sh, err := scanShipment(s.db.QueryRow(ctx, `
SELECT `+shipmentColumns+`
FROM shipments
WHERE tracking_token = $1 AND NOT deleted
`, token))
	if err != nil {
		return nil, notFoundOr(err, "tracking token")
	}
	return sh, nil
}

// ListOperational returns the live shipments an operator works with.
// NULL collected (legacy rows) is treated as collected.
func (s *Storage) ListOperational(ctx context.Context, customerID uint64) ([]*models.Shipment, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+shipmentColumns+`
FROM shipments
WHERE customer_id = $1
  AND NOT deleted
  AND (collected IS NULL OR collected)
ORDER BY id DESC
`, customerID)
	if err != nil {
		return nil, errors.Wrap(err, "select operational shipments")
	}
	return scanShipments(rows)
}

func (s *Storage) ClosureCounts(ctx context.Context, from, to time.Time, flexOnly bool) ([]models.ClosureRow, error) {
	rows, err := s.db.Query(ctx, `
SELECT assigned_driver_id, max(assigned_driver_name), count(*)
FROM shipments
WHERE NOT deleted
  AND status = $1
  AND (collected IS NULL OR collected)
  AND assigned_driver_id IS NOT NULL
  AND last_movement_at >= $2
  AND last_movement_at < $3
  AND (NOT $4 OR origin = $5)
GROUP BY assigned_driver_id
ORDER BY assigned_driver_id
`, models.StatusEnRouteToRecipient, from.UTC(), to.UTC(), flexOnly, models.OriginFlex)
	if err != nil {
		return nil, errors.Wrap(err, "select closure counts")
	}
	defer rows.Close()

	out := []models.ClosureRow{}
	for rows.Next() {
		var r models.ClosureRow
		var n int64
		if err := rows.Scan(&r.DriverID, &r.DriverName, &n); err != nil {
			return nil, errors.Wrap(err, "scan closure row")
		}
		r.Count = int(n)
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ClaimDuePolls выбирает Flex-отправления, которым пора опросить статус, и
// сдвигает next_poll_at на lease, чтобы параллельный воркер их не взял.
// Использует SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimDuePolls(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Shipment, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT `+shipmentColumns+`
FROM shipments
WHERE origin = $1
  AND NOT deleted
  AND status NOT IN ($2, $3, $4)
  AND external_shipment_id <> ''
  AND (next_poll_at IS NULL OR next_poll_at <= $5)
ORDER BY next_poll_at ASC NULLS FIRST, id ASC
LIMIT $6
FOR UPDATE SKIP LOCKED
`, models.OriginFlex, models.StatusDelivered, models.StatusCancelled, models.StatusRejectedByBuyer, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due polls")
	}
	picked, err := scanShipments(rows)
	if err != nil {
		return nil, err
	}
	if len(picked) == 0 {
		if err := tx.Commit(ctx); err != nil {
			return nil, errors.Wrap(err, "commit tx")
		}
		return picked, nil
	}

	ids := make([]uint64, 0, len(picked))
	for _, sh := range picked {
		ids = append(ids, sh.ID)
	}

	leaseUntil := now.UTC().Add(lease)
	if _, err := tx.Exec(ctx, `
UPDATE shipments
SET next_poll_at = $2
WHERE id = ANY($1)
`, ids, leaseUntil); err != nil {
		return nil, errors.Wrap(err, "lease due polls")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	for _, sh := range picked {
		t := leaseUntil
		sh.NextPollAt = &t
	}
	return picked, nil
}

func (s *Storage) SchedulePoll(ctx context.Context, id uint64, next time.Time, pollErr *string) error {
	var q string
	args := []any{id, next.UTC()}
	if pollErr != nil && *pollErr != "" {
		q = `UPDATE shipments SET next_poll_at = $2, poll_fail_count = poll_fail_count + 1, last_poll_error = $3 WHERE id = $1`
		args = append(args, *pollErr)
	} else {
		q = `UPDATE shipments SET next_poll_at = $2, poll_fail_count = 0, last_poll_error = NULL WHERE id = $1`
	}
	tag, err := s.db.Exec(ctx, q, args...)
	if err != nil {
		return errors.Wrap(err, "schedule poll")
	}
	if tag.RowsAffected() == 0 {
		return notFoundOr(pgx.ErrNoRows, "shipment")
	}
	return nil
}
