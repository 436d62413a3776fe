package pgshipment

import (
	"context"
	"fmt"

	"github.com/BearBump/ShipBox/internal/errs"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

type pgTx struct {
	q querier
}

func (t *pgTx) LockNaturalKey(ctx context.Context, customerID uint64, key string) error {
	_, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, fmt.Sprintf("%d|%s", customerID, key))
	return errors.Wrap(err, "lock natural key")
}

func (t *pgTx) FindByTracking(ctx context.Context, customerID uint64, tracking string) ([]*models.Shipment, error) {
	rows, err := t.q.Query(ctx, `
SELECT `+shipmentColumns+`
FROM shipments
WHERE customer_id = $1 AND tracking = $2 AND NOT deleted
ORDER BY created_at, id
`, customerID, tracking)
	if err != nil {
		return nil, errors.Wrap(err, "select by tracking")
	}
	return scanShipments(rows)
}

func (t *pgTx) FindByExternalShipmentID(ctx context.Context, customerID uint64, externalShipmentID string) ([]*models.Shipment, error) {
	rows, err := t.q.Query(ctx, `
SELECT `+shipmentColumns+`
FROM shipments
WHERE customer_id = $1 AND external_shipment_id = $2 AND NOT deleted
ORDER BY created_at, id
`, customerID, externalShipmentID)
	if err != nil {
		return nil, errors.Wrap(err, "select by external shipment id")
	}
	return scanShipments(rows)
}

func (t *pgTx) FindCandidates(ctx context.Context, q models.CandidateQuery) ([]*models.Shipment, error) {
	rows, err := t.q.Query(ctx, `
SELECT `+shipmentColumns+`
FROM shipments
WHERE customer_id = $1
  AND origin = $2
  AND NOT deleted
  AND sale_date BETWEEN $3 AND $4
  AND recipient_key = $5
ORDER BY created_at, id
`, q.CustomerID, q.Origin, q.From.UTC(), q.To.UTC(), q.RecipientKey)
	if err != nil {
		return nil, errors.Wrap(err, "select dedup candidates")
	}
	return scanShipments(rows)
}

func (t *pgTx) GetForUpdate(ctx context.Context, id uint64) (*models.Shipment, error) {
	sh, err := scanShipment(t.q.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFoundOr(err, "shipment")
	}
	return sh, nil
}

func (t *pgTx) GetByQRForUpdate(ctx context.Context, qrData string) (*models.Shipment, error) {
	sh, err := scanShipment(t.q.QueryRow(ctx, `
SELECT `+shipmentColumns+`
FROM shipments
WHERE qr_data = $1 AND NOT deleted
ORDER BY created_at, id
LIMIT 1
FOR UPDATE
`, qrData))
	if err != nil {
		return nil, notFoundOr(err, "qr data")
	}
	return sh, nil
}

// Insert relies on the partial unique indexes: a racing writer that already
// took the natural key makes DO NOTHING return no row.
func (t *pgTx) Insert(ctx context.Context, sh *models.Shipment) (uint64, error) {
	podRole, podName, podDoc := proofColumns(sh.Proof)
	var id uint64
	err := t.q.QueryRow(ctx, `
INSERT INTO shipments (
  customer_id, tracking, tracking_token, qr_data,
  origin, external_order_id, external_shipment_id, status,
  sale_date, deadline,
  arrived_at, delivered_at, assigned_at, dispatched_at,
  collected_at, at_facility_at, cancelled_at, last_movement_at,
  recipient_name, recipient_key, recipient_address, recipient_phone, recipient_email,
  zone, amount_to_collect, weight, description, shipping_method,
  pod_role, pod_name, pod_document_id,
  deleted, collected, assigned_driver_id, assigned_driver_name,
  next_poll_at, created_at, updated_at
)
VALUES (
  $1,$2,$3,$4,
  $5,$6,$7,$8,
  $9,$10,
  $11,$12,$13,$14,
  $15,$16,$17,$18,
  $19,$20,$21,$22,$23,
  $24,$25::numeric,$26::numeric,$27,$28,
  $29,$30,$31,
  $32,$33,$34,$35,
  $36, now(), now()
)
ON CONFLICT DO NOTHING
RETURNING id, created_at, updated_at
`,
		sh.CustomerID, sh.Tracking, sh.TrackingToken, sh.QRData,
		sh.Origin, sh.ExternalOrderID, sh.ExternalShipmentID, sh.Status,
		sh.SaleDate.UTC(), sh.Deadline.UTC(),
		sh.ArrivedAt, sh.DeliveredAt, sh.AssignedAt, sh.DispatchedAt,
		sh.CollectedAt, sh.AtFacilityAt, sh.CancelledAt, sh.LastMovementAt,
		sh.Recipient.Name, sh.RecipientKey, sh.Recipient.Address, sh.Recipient.Phone, sh.Recipient.Email,
		sh.Zone, sh.AmountToCollect.String(), sh.Weight.String(), sh.Description, sh.ShippingMethod,
		podRole, podName, podDoc,
		sh.Deleted, sh.Collected.DBValue(), sh.AssignedDriverID, sh.AssignedDriverName,
		sh.NextPollAt,
	).Scan(&id, &sh.CreatedAt, &sh.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errs.New(errs.KindConflictOnInsert, "customer %d tracking %q", sh.CustomerID, sh.Tracking)
	}
	if err != nil {
		return 0, errors.Wrap(err, "insert shipment")
	}
	sh.ID = id
	return id, nil
}

func (t *pgTx) Update(ctx context.Context, sh *models.Shipment) error {
	podRole, podName, podDoc := proofColumns(sh.Proof)
	err := t.q.QueryRow(ctx, `
UPDATE shipments SET
  tracking = $2, qr_data = $3,
  external_order_id = $4, external_shipment_id = $5, status = $6,
  sale_date = $7, deadline = $8,
  arrived_at = $9, delivered_at = $10, assigned_at = $11, dispatched_at = $12,
  collected_at = $13, at_facility_at = $14, cancelled_at = $15, last_movement_at = $16,
  recipient_name = $17, recipient_key = $18, recipient_address = $19, recipient_phone = $20, recipient_email = $21,
  zone = $22, amount_to_collect = $23::numeric, weight = $24::numeric, description = $25, shipping_method = $26,
  pod_role = $27, pod_name = $28, pod_document_id = $29,
  deleted = $30, collected = $31, assigned_driver_id = $32, assigned_driver_name = $33,
  updated_at = now()
WHERE id = $1
RETURNING updated_at
`,
		sh.ID, sh.Tracking, sh.QRData,
		sh.ExternalOrderID, sh.ExternalShipmentID, sh.Status,
		sh.SaleDate.UTC(), sh.Deadline.UTC(),
		sh.ArrivedAt, sh.DeliveredAt, sh.AssignedAt, sh.DispatchedAt,
		sh.CollectedAt, sh.AtFacilityAt, sh.CancelledAt, sh.LastMovementAt,
		sh.Recipient.Name, sh.RecipientKey, sh.Recipient.Address, sh.Recipient.Phone, sh.Recipient.Email,
		sh.Zone, sh.AmountToCollect.String(), sh.Weight.String(), sh.Description, sh.ShippingMethod,
		podRole, podName, podDoc,
		sh.Deleted, sh.Collected.DBValue(), sh.AssignedDriverID, sh.AssignedDriverName,
	).Scan(&sh.UpdatedAt)
	if err != nil {
		return notFoundOr(err, "shipment")
	}
	return nil
}
