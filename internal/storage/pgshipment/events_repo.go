package pgshipment

import (
	"context"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (t *pgTx) AppendHistory(ctx context.Context, e *models.HistoryEntry) error {
	err := t.q.QueryRow(ctx, `
INSERT INTO shipment_history (shipment_id, status, at, actor, note, origin)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING id
`, e.ShipmentID, e.Status, e.At.UTC(), e.Actor, e.Note, e.Origin).Scan(&e.ID)
	return errors.Wrap(err, "insert history")
}

func (t *pgTx) AppendObservation(ctx context.Context, o *models.Observation) error {
	err := t.q.QueryRow(ctx, `
INSERT INTO shipment_observations (shipment_id, at, actor, text)
VALUES ($1,$2,$3,$4)
RETURNING id
`, o.ShipmentID, o.At.UTC(), o.Actor, o.Text).Scan(&o.ID)
	return errors.Wrap(err, "insert observation")
}

func (t *pgTx) AppendImage(ctx context.Context, img *models.Image) error {
	err := t.q.QueryRow(ctx, `
INSERT INTO shipment_images (shipment_id, at, actor, category, ref)
VALUES ($1,$2,$3,$4,$5)
RETURNING id
`, img.ShipmentID, img.At.UTC(), img.Actor, img.Category, img.Ref).Scan(&img.ID)
	return errors.Wrap(err, "insert image")
}

func (s *Storage) ListHistory(ctx context.Context, shipmentID uint64) ([]*models.HistoryEntry, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, shipment_id, status, at, actor, note, origin
FROM shipment_history
WHERE shipment_id = $1
ORDER BY at ASC, id ASC
`, shipmentID)
	if err != nil {
		return nil, errors.Wrap(err, "select history")
	}
	defer rows.Close()

	out := []*models.HistoryEntry{}
	for rows.Next() {
		var e models.HistoryEntry
		var status, origin string
		if err := rows.Scan(&e.ID, &e.ShipmentID, &status, &e.At, &e.Actor, &e.Note, &origin); err != nil {
			return nil, errors.Wrap(err, "scan history")
		}
		e.Status = models.Status(status)
		e.Origin = models.ChangeOrigin(origin)
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) ListObservations(ctx context.Context, shipmentID uint64) ([]*models.Observation, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, shipment_id, at, actor, text
FROM shipment_observations
WHERE shipment_id = $1
ORDER BY at DESC, id DESC
`, shipmentID)
	if err != nil {
		return nil, errors.Wrap(err, "select observations")
	}
	defer rows.Close()

	out := []*models.Observation{}
	for rows.Next() {
		var o models.Observation
		if err := rows.Scan(&o.ID, &o.ShipmentID, &o.At, &o.Actor, &o.Text); err != nil {
			return nil, errors.Wrap(err, "scan observation")
		}
		out = append(out, &o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) ListImages(ctx context.Context, shipmentID uint64) ([]*models.Image, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, shipment_id, at, actor, category, ref
FROM shipment_images
WHERE shipment_id = $1
ORDER BY id
`, shipmentID)
	if err != nil {
		return nil, errors.Wrap(err, "select images")
	}
	defer rows.Close()

	out := []*models.Image{}
	for rows.Next() {
		var img models.Image
		var category string
		if err := rows.Scan(&img.ID, &img.ShipmentID, &img.At, &img.Actor, &category, &img.Ref); err != nil {
			return nil, errors.Wrap(err, "scan image")
		}
		img.Category = models.ImageCategory(category)
		out = append(out, &img)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) LinkCustomer(ctx context.Context, customerID uint64, origin models.Origin, originUserID string) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO customer_integrations (origin, origin_user_id, customer_id)
VALUES ($1,$2,$3)
ON CONFLICT (origin, origin_user_id) DO UPDATE SET customer_id = EXCLUDED.customer_id
`, origin, originUserID, customerID)
	return errors.Wrap(err, "link customer")
}

func (s *Storage) LookupCustomer(ctx context.Context, origin models.Origin, originUserID string) (uint64, bool, error) {
	var id uint64
	err := s.db.QueryRow(ctx, `
SELECT customer_id FROM customer_integrations WHERE origin = $1 AND origin_user_id = $2
`, origin, originUserID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "select customer integration")
	}
	return id, true, nil
}
