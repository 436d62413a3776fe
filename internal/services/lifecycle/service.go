package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/ShipBox/internal/broker/messages"
	"github.com/BearBump/ShipBox/internal/errs"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/services/dedup"
	"github.com/BearBump/ShipBox/internal/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Store interface {
	InTx(ctx context.Context, fn func(tx storage.Tx) error) error
	GetShipment(ctx context.Context, id uint64) (*models.Shipment, error)
	ListHistory(ctx context.Context, shipmentID uint64) ([]*models.HistoryEntry, error)
	ListObservations(ctx context.Context, shipmentID uint64) ([]*models.Observation, error)
	ListImages(ctx context.Context, shipmentID uint64) ([]*models.Image, error)
}

type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, v any) error
}

// Invalidator drops cached public projections of a shipment.
type Invalidator interface {
	Invalidate(ctx context.Context, trackingToken string) error
}

type BlobStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
}

type Config struct {
	Location *time.Location

	// Publisher and Invalidator are optional; both run after commit.
	Publisher   Publisher
	Topic       string
	Invalidator Invalidator

	// Blobs is optional; without it images must arrive as references.
	Blobs BlobStore
}

type Service struct {
	store Store
	cfg   Config
	now   func() time.Time
}

func New(store Store, cfg Config) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Service{store: store, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) Location() *time.Location { return s.cfg.Location }

// SetClock is used by tests and by the worker to pin "now".
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) Now() time.Time { return s.now() }

// NewShipment builds a canonical shipment from a normalized order. Nothing
// is persisted here.
func (s *Service) NewShipment(customerID uint64, in models.IncomingOrder) *models.Shipment {
	now := s.now()
	sale := in.SaleDate
	if sale.IsZero() {
		sale = now
	}
	qr := in.QRData
	if qr == "" {
		qr = "SBX:" + uuid.NewString()
	}
	arrived := now
	return &models.Shipment{
		CustomerID:         customerID,
		Tracking:           strings.TrimSpace(in.Tracking),
		TrackingToken:      uuid.NewString(),
		QRData:             qr,
		Origin:             in.Origin,
		ExternalOrderID:    in.ExternalOrderID,
		ExternalShipmentID: in.ExternalShipmentID,
		Status:             models.StatusAwaitingPickup,
		SaleDate:           sale.UTC(),
		Deadline:           Deadline(sale, s.cfg.Location).UTC(),
		ArrivedAt:          &arrived,
		LastMovementAt:     &arrived,
		Recipient:          in.Recipient,
		RecipientKey:       dedup.NormalizeName(in.Recipient.Name),
		Zone:               in.Zone,
		AmountToCollect:    in.AmountToCollect,
		Weight:             in.Weight,
		Description:        in.Description,
		ShippingMethod:     in.ShippingMethod,
		Collected:          InitialCollected(in.Origin),
	}
}

// CreateInTx inserts sh as AwaitingPickup with its creation history entry.
// errs.ErrConflictOnInsert is returned untouched so callers can retry.
func (s *Service) CreateInTx(ctx context.Context, tx storage.Tx, sh *models.Shipment, actor string) error {
	sh.Status = models.StatusAwaitingPickup
	if _, err := tx.Insert(ctx, sh); err != nil {
		return err
	}
	return tx.AppendHistory(ctx, &models.HistoryEntry{
		ShipmentID: sh.ID,
		Status:     models.StatusAwaitingPickup,
		At:         s.now(),
		Actor:      actor,
		Note:       "created",
		Origin:     models.ChangeOriginSystem,
	})
}

type CreateRequest struct {
	CustomerID      uint64
	Tracking        string
	SaleDate        time.Time
	Recipient       models.Recipient
	Zone            string
	AmountToCollect decimal.Decimal
	Weight          decimal.Decimal
	Description     string
	ShippingMethod  string
	Actor           string
}

// Create registers a shipment typed in by an operator.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Shipment, error) {
	if req.CustomerID == 0 {
		return nil, errs.Validation("customer id is required")
	}
	if strings.TrimSpace(req.Recipient.Name) == "" {
		return nil, errs.Validation("recipient name is required")
	}
	sh := s.NewShipment(req.CustomerID, models.IncomingOrder{
		Origin:          models.OriginManual,
		Tracking:        req.Tracking,
		SaleDate:        req.SaleDate,
		Recipient:       req.Recipient,
		Zone:            req.Zone,
		AmountToCollect: req.AmountToCollect,
		Weight:          req.Weight,
		Description:     req.Description,
		ShippingMethod:  req.ShippingMethod,
	})

	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		return s.CreateInTx(ctx, tx, sh, req.Actor)
	})
	if errors.Is(err, errs.ErrConflictOnInsert) {
		return nil, errs.Validation("tracking %q already exists", sh.Tracking)
	}
	if err != nil {
		return nil, errors.Wrap(err, "create shipment")
	}

	s.Notify(ctx, sh, "", models.ChangeOriginSystem)
	return sh, nil
}

type TransitionRequest struct {
	To     models.Status
	Actor  string
	Note   string
	Origin models.ChangeOrigin
	Proof  *models.ProofOfDelivery
}

// TransitionInTx validates and applies a status change to a row already
// locked by tx.
func (s *Service) TransitionInTx(ctx context.Context, tx storage.Tx, sh *models.Shipment, req TransitionRequest) error {
	if err := CheckTransition(sh.Status, req.To, sh.Origin, req.Proof); err != nil {
		return err
	}
	at := s.now()
	stamp(sh, req.To, at, req.Proof)
	if err := tx.Update(ctx, sh); err != nil {
		return errors.Wrap(err, "update shipment")
	}
	return tx.AppendHistory(ctx, &models.HistoryEntry{
		ShipmentID: sh.ID,
		Status:     req.To,
		At:         at,
		Actor:      req.Actor,
		Note:       req.Note,
		Origin:     req.Origin,
	})
}

func (s *Service) Transition(ctx context.Context, id uint64, req TransitionRequest) (*models.Shipment, error) {
	if !req.Origin.Valid() {
		req.Origin = models.ChangeOriginWeb
	}
	var sh *models.Shipment
	var prev models.Status
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		sh, err = getLive(ctx, tx, id)
		if err != nil {
			return err
		}
		prev = sh.Status
		return s.TransitionInTx(ctx, tx, sh, req)
	})
	if err != nil {
		return nil, err
	}

	s.Notify(ctx, sh, prev, req.Origin)
	return sh, nil
}

type AssignRequest struct {
	DriverID   uint64
	DriverName string
	AssignedBy string
	Channel    models.ChangeOrigin
}

// Assign sets the driver. A shipment still awaiting pickup moves to
// AssignedToDriver; reassignment overwrites the driver and is kept in history.
func (s *Service) Assign(ctx context.Context, id uint64, req AssignRequest) (*models.Shipment, error) {
	if req.DriverID == 0 {
		return nil, errs.Validation("driver id is required")
	}
	if !req.Channel.Valid() {
		req.Channel = models.ChangeOriginWeb
	}

	var sh *models.Shipment
	var prev models.Status
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		sh, err = getLive(ctx, tx, id)
		if err != nil {
			return err
		}
		if sh.Status.Terminal() {
			return errs.InvalidTransition(sh.Status, models.StatusAssignedToDriver)
		}
		prev = sh.Status

		at := s.now()
		driverID := req.DriverID
		sh.AssignedDriverID = &driverID
		sh.AssignedDriverName = req.DriverName
		if sh.Status == models.StatusAwaitingPickup {
			stamp(sh, models.StatusAssignedToDriver, at, nil)
		} else {
			sh.AssignedAt = &at
			sh.LastMovementAt = &at
		}
		if err := tx.Update(ctx, sh); err != nil {
			return errors.Wrap(err, "update shipment")
		}
		return tx.AppendHistory(ctx, &models.HistoryEntry{
			ShipmentID: sh.ID,
			Status:     sh.Status,
			At:         at,
			Actor:      req.AssignedBy,
			Note:       fmt.Sprintf("assigned to driver %d %s", req.DriverID, req.DriverName),
			Origin:     req.Channel,
		})
	})
	if err != nil {
		return nil, err
	}

	s.Notify(ctx, sh, prev, req.Channel)
	return sh, nil
}

// Delete soft-deletes a shipment. The row stays for audit; it disappears from
// dedup, public tracking and operational views.
func (s *Service) Delete(ctx context.Context, id uint64, actor string, channel models.ChangeOrigin) error {
	if !channel.Valid() {
		channel = models.ChangeOriginWeb
	}
	var sh *models.Shipment
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		sh, err = getLive(ctx, tx, id)
		if err != nil {
			return err
		}
		sh.Deleted = true
		if err := tx.Update(ctx, sh); err != nil {
			return errors.Wrap(err, "update shipment")
		}
		return tx.AppendHistory(ctx, &models.HistoryEntry{
			ShipmentID: sh.ID,
			Status:     sh.Status,
			At:         s.now(),
			Actor:      actor,
			Note:       "deleted",
			Origin:     channel,
		})
	})
	if err != nil {
		return err
	}

	s.Notify(ctx, sh, sh.Status, channel)
	return nil
}

func (s *Service) AddObservation(ctx context.Context, id uint64, actor, text string) (*models.Observation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errs.Validation("observation text is required")
	}
	o := &models.Observation{ShipmentID: id, At: s.now(), Actor: actor, Text: text}
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		if _, err := getLive(ctx, tx, id); err != nil {
			return err
		}
		return tx.AppendObservation(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

type ImageRequest struct {
	Actor    string
	Category models.ImageCategory
	// Ref is an already stored blob; Body is uploaded when Ref is empty.
	Ref         string
	Body        []byte
	ContentType string
}

func (s *Service) AddImage(ctx context.Context, id uint64, req ImageRequest) (*models.Image, error) {
	switch req.Category {
	case models.ImageNobodyHome, models.ImageDelivery, models.ImageOther:
	case "":
		req.Category = models.ImageOther
	default:
		return nil, errs.Validation("unknown image category %q", req.Category)
	}
	if _, err := s.store.GetShipment(ctx, id); err != nil {
		return nil, err
	}

	ref := req.Ref
	if ref == "" {
		if len(req.Body) == 0 {
			return nil, errs.Validation("image ref or body is required")
		}
		if s.cfg.Blobs == nil {
			return nil, errs.Validation("image upload is not configured")
		}
		key := fmt.Sprintf("shipments/%d/%s", id, uuid.NewString())
		var err error
		if ref, err = s.cfg.Blobs.Put(ctx, key, req.ContentType, req.Body); err != nil {
			return nil, errors.Wrap(err, "upload image")
		}
	}

	img := &models.Image{ShipmentID: id, At: s.now(), Actor: req.Actor, Category: req.Category, Ref: ref}
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		if _, err := getLive(ctx, tx, id); err != nil {
			return err
		}
		return tx.AppendImage(ctx, img)
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

// Get returns a live shipment; deleted rows read as not found.
func (s *Service) Get(ctx context.Context, id uint64) (*models.Shipment, error) {
	sh, err := s.store.GetShipment(ctx, id)
	if err != nil {
		return nil, err
	}
	if sh.Deleted {
		return nil, errs.NotFound("shipment %d", id)
	}
	return sh, nil
}

func (s *Service) History(ctx context.Context, id uint64) ([]*models.HistoryEntry, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListHistory(ctx, id)
}

func (s *Service) Observations(ctx context.Context, id uint64) ([]*models.Observation, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListObservations(ctx, id)
}

func (s *Service) Images(ctx context.Context, id uint64) ([]*models.Image, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListImages(ctx, id)
}

// Notify publishes the committed state and drops the public cache entry.
// Both are best-effort: the store is already the source of truth.
func (s *Service) Notify(ctx context.Context, sh *models.Shipment, prev models.Status, origin models.ChangeOrigin) {
	if sh == nil {
		return
	}
	if s.cfg.Invalidator != nil {
		if err := s.cfg.Invalidator.Invalidate(ctx, sh.TrackingToken); err != nil {
			slog.Warn("invalidate tracking cache", "shipment_id", sh.ID, "error", err.Error())
		}
	}
	if s.cfg.Publisher == nil || s.cfg.Topic == "" {
		return
	}
	msg := messages.ShipmentChanged{
		ShipmentID:    sh.ID,
		CustomerID:    sh.CustomerID,
		TrackingToken: sh.TrackingToken,
		Status:        string(sh.Status),
		PrevStatus:    string(prev),
		Origin:        string(sh.Origin),
		ChangeOrigin:  string(origin),
		Deleted:       sh.Deleted,
		ChangedAt:     sh.UpdatedAt,
	}
	if err := s.cfg.Publisher.PublishJSON(ctx, s.cfg.Topic, fmt.Sprintf("%d", sh.ID), msg); err != nil {
		slog.Warn("publish shipment changed", "shipment_id", sh.ID, "error", err.Error())
	}
}

func getLive(ctx context.Context, tx storage.Tx, id uint64) (*models.Shipment, error) {
	sh, err := tx.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if sh.Deleted {
		return nil, errs.NotFound("shipment %d", id)
	}
	return sh, nil
}
