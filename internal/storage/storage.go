// Package storage holds the transactional contract shared by the shipment
// stores. Services depend on Tx; pgshipment and memshipment implement it.
package storage

import (
	"context"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
)

// Tx is the set of primitives available inside one store transaction.
// Finders skip deleted rows and return matches ordered by created_at, id.
type Tx interface {
	// LockNaturalKey serializes concurrent merges of the same external
	// order until the transaction ends.
	LockNaturalKey(ctx context.Context, customerID uint64, key string) error

	FindByTracking(ctx context.Context, customerID uint64, tracking string) ([]*models.Shipment, error)
	FindByExternalShipmentID(ctx context.Context, customerID uint64, externalShipmentID string) ([]*models.Shipment, error)
	FindCandidates(ctx context.Context, q models.CandidateQuery) ([]*models.Shipment, error)

	// GetForUpdate returns the row even when it is soft-deleted.
	GetForUpdate(ctx context.Context, id uint64) (*models.Shipment, error)
	GetByQRForUpdate(ctx context.Context, qrData string) (*models.Shipment, error)

	// Insert returns errs.ErrConflictOnInsert when the natural key or the
	// tracking token is already taken by a live row.
	Insert(ctx context.Context, sh *models.Shipment) (uint64, error)
	Update(ctx context.Context, sh *models.Shipment) error

	AppendHistory(ctx context.Context, e *models.HistoryEntry) error
	AppendObservation(ctx context.Context, o *models.Observation) error
	AppendImage(ctx context.Context, img *models.Image) error
}

// Store is everything the binaries need from a shipment store.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetShipment(ctx context.Context, id uint64) (*models.Shipment, error)
	GetByTrackingToken(ctx context.Context, token string) (*models.Shipment, error)
	ListHistory(ctx context.Context, shipmentID uint64) ([]*models.HistoryEntry, error)
	ListObservations(ctx context.Context, shipmentID uint64) ([]*models.Observation, error)
	ListImages(ctx context.Context, shipmentID uint64) ([]*models.Image, error)
	ListOperational(ctx context.Context, customerID uint64) ([]*models.Shipment, error)
	ClosureCounts(ctx context.Context, from, to time.Time, flexOnly bool) ([]models.ClosureRow, error)

	LinkCustomer(ctx context.Context, customerID uint64, origin models.Origin, originUserID string) error
	LookupCustomer(ctx context.Context, origin models.Origin, originUserID string) (uint64, bool, error)

	ClaimDuePolls(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Shipment, error)
	SchedulePoll(ctx context.Context, id uint64, next time.Time, pollErr *string) error

	Close()
}
