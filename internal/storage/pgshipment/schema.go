package pgshipment

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS shipments (
  id BIGSERIAL PRIMARY KEY,
  customer_id BIGINT NOT NULL,
  tracking TEXT NOT NULL DEFAULT '',
  tracking_token TEXT NOT NULL,
  qr_data TEXT NOT NULL DEFAULT '',
  origin TEXT NOT NULL,
  external_order_id TEXT NOT NULL DEFAULT '',
  external_shipment_id TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  sale_date TIMESTAMPTZ NOT NULL,
  deadline TIMESTAMPTZ NOT NULL,
  arrived_at TIMESTAMPTZ NULL,
  delivered_at TIMESTAMPTZ NULL,
  assigned_at TIMESTAMPTZ NULL,
  dispatched_at TIMESTAMPTZ NULL,
  collected_at TIMESTAMPTZ NULL,
  at_facility_at TIMESTAMPTZ NULL,
  cancelled_at TIMESTAMPTZ NULL,
  last_movement_at TIMESTAMPTZ NULL,
  recipient_name TEXT NOT NULL,
  recipient_key TEXT NOT NULL,
  recipient_address TEXT NOT NULL DEFAULT '',
  recipient_phone TEXT NOT NULL DEFAULT '',
  recipient_email TEXT NOT NULL DEFAULT '',
  zone TEXT NOT NULL DEFAULT '',
  amount_to_collect NUMERIC(14,2) NOT NULL DEFAULT 0,
  weight NUMERIC(12,3) NOT NULL DEFAULT 0,
  description TEXT NOT NULL DEFAULT '',
  shipping_method TEXT NOT NULL DEFAULT '',
  pod_role TEXT NULL,
  pod_name TEXT NULL,
  pod_document_id TEXT NULL,
  deleted BOOLEAN NOT NULL DEFAULT FALSE,
  collected BOOLEAN NULL,
  assigned_driver_id BIGINT NULL,
  assigned_driver_name TEXT NOT NULL DEFAULT '',
  next_poll_at TIMESTAMPTZ NULL,
  poll_fail_count INT NOT NULL DEFAULT 0,
  last_poll_error TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		// Natural key: last-resort conflict detector for racing inserts.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_shipments_customer_tracking ON shipments(customer_id, tracking) WHERE NOT deleted AND tracking <> ''`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_shipments_tracking_token ON shipments(tracking_token) WHERE NOT deleted`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_qr_data ON shipments(qr_data) WHERE NOT deleted`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_dedup ON shipments(customer_id, origin, sale_date) WHERE NOT deleted`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_external_shipment ON shipments(customer_id, external_shipment_id) WHERE external_shipment_id <> ''`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_next_poll_at ON shipments(next_poll_at) WHERE origin = 'FLEX' AND NOT deleted`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_closure ON shipments(status, last_movement_at) WHERE NOT deleted`,
		`
CREATE TABLE IF NOT EXISTS shipment_history (
  id BIGSERIAL PRIMARY KEY,
  shipment_id BIGINT NOT NULL REFERENCES shipments(id),
  status TEXT NOT NULL,
  at TIMESTAMPTZ NOT NULL,
  actor TEXT NOT NULL DEFAULT '',
  note TEXT NOT NULL DEFAULT '',
  origin TEXT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipment_history_shipment ON shipment_history(shipment_id, at, id)`,
		`
CREATE TABLE IF NOT EXISTS shipment_observations (
  id BIGSERIAL PRIMARY KEY,
  shipment_id BIGINT NOT NULL REFERENCES shipments(id),
  at TIMESTAMPTZ NOT NULL,
  actor TEXT NOT NULL DEFAULT '',
  text TEXT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipment_observations_shipment ON shipment_observations(shipment_id, at DESC)`,
		`
CREATE TABLE IF NOT EXISTS shipment_images (
  id BIGSERIAL PRIMARY KEY,
  shipment_id BIGINT NOT NULL REFERENCES shipments(id),
  at TIMESTAMPTZ NOT NULL,
  actor TEXT NOT NULL DEFAULT '',
  category TEXT NOT NULL,
  ref TEXT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipment_images_shipment ON shipment_images(shipment_id)`,
		`
CREATE TABLE IF NOT EXISTS customer_integrations (
  origin TEXT NOT NULL,
  origin_user_id TEXT NOT NULL,
  customer_id BIGINT NOT NULL,
  PRIMARY KEY (origin, origin_user_id)
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
