package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/ShipBox/internal/errs"
	"github.com/BearBump/ShipBox/internal/integrations/orders"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/services/dedup"
	"github.com/BearBump/ShipBox/internal/services/lifecycle"
	"github.com/BearBump/ShipBox/internal/services/normalizer"
	"github.com/BearBump/ShipBox/internal/storage"
	"github.com/pkg/errors"
)

type Store interface {
	InTx(ctx context.Context, fn func(tx storage.Tx) error) error
	LookupCustomer(ctx context.Context, origin models.Origin, originUserID string) (uint64, bool, error)
}

type Outcome int

const (
	OutcomeUnchanged Outcome = iota
	OutcomeCreated
	OutcomeUpdated
	// OutcomeSkipped: the reported status was rejected (regression or not
	// allowed from the current state); other fields may still be updated.
	OutcomeSkipped
	// OutcomeIgnored: webhook topic or sender we do not handle.
	OutcomeIgnored
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeIgnored:
		return "ignored"
	default:
		return "unchanged"
	}
}

type Result struct {
	Outcome  Outcome
	Shipment *models.Shipment
}

type Summary struct {
	Total     int `json:"total"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Errored   int `json:"errored"`
}

func (s *Summary) add(o Outcome) {
	switch o {
	case OutcomeCreated:
		s.Created++
	case OutcomeUpdated:
		s.Updated++
	case OutcomeSkipped:
		s.Skipped++
	default:
		s.Unchanged++
	}
}

type Config struct {
	// WebhookTimeout bounds one webhook delivery end to end.
	WebhookTimeout time.Duration
}

type Service struct {
	store    Store
	lc       *lifecycle.Service
	resolver *dedup.Resolver
	norm     *normalizer.Registry
	fetcher  orders.Fetcher
	tokens   orders.TokenProvider
	cfg      Config
}

func New(store Store, lc *lifecycle.Service, resolver *dedup.Resolver, norm *normalizer.Registry,
	fetcher orders.Fetcher, tokens orders.TokenProvider, cfg Config) *Service {
	if cfg.WebhookTimeout <= 0 {
		cfg.WebhookTimeout = 10 * time.Second
	}
	return &Service{
		store:    store,
		lc:       lc,
		resolver: resolver,
		norm:     norm,
		fetcher:  fetcher,
		tokens:   tokens,
		cfg:      cfg,
	}
}

// Merge applies one normalized order: create it, or update the shipment it
// resolves to. A lost insert race is retried once, which then resolves to
// the winner's row.
func (s *Service) Merge(ctx context.Context, customerID uint64, in models.IncomingOrder) (Result, error) {
	res, err := s.mergeOnce(ctx, customerID, in)
	if errors.Is(err, errs.ErrConflictOnInsert) {
		slog.Info("merge lost insert race, retrying", "customer_id", customerID, "origin", in.Origin, "tracking", in.Tracking)
		res, err = s.mergeOnce(ctx, customerID, in)
		if errors.Is(err, errs.ErrConflictOnInsert) {
			return Result{}, errors.Errorf("merge %s order %s: concurrent insert did not settle", in.Origin, in.ExternalOrderID)
		}
	}
	return res, err
}

func (s *Service) mergeOnce(ctx context.Context, customerID uint64, in models.IncomingOrder) (Result, error) {
	var res Result
	var prev models.Status
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.LockNaturalKey(ctx, customerID, naturalKey(in)); err != nil {
			return err
		}
		d, err := s.resolver.Resolve(ctx, tx, customerID, in)
		if err != nil {
			return err
		}

		var sh *models.Shipment
		if d.Action == dedup.ActionUpdate {
			sh, err = tx.GetForUpdate(ctx, d.Existing.ID)
			if err != nil {
				return err
			}
		}
		// Удалённое отправление не воскрешаем: создаём новое.
		if sh == nil || sh.Deleted {
			sh = s.lc.NewShipment(customerID, in)
			if err := s.lc.CreateInTx(ctx, tx, sh, actorFor(in.Origin)); err != nil {
				return err
			}
			res = Result{Outcome: OutcomeCreated, Shipment: sh}
			if _, err := s.applyStatus(ctx, tx, sh, in); err != nil {
				return err
			}
			return nil
		}

		prev = sh.Status
		fieldsChanged := overwriteFields(sh, in)
		statusOutcome, err := s.applyStatus(ctx, tx, sh, in)
		if err != nil {
			return err
		}
		if fieldsChanged && statusOutcome != OutcomeUpdated {
			if err := tx.Update(ctx, sh); err != nil {
				return errors.Wrap(err, "update shipment")
			}
		}

		switch {
		case statusOutcome == OutcomeSkipped:
			res = Result{Outcome: OutcomeSkipped, Shipment: sh}
		case fieldsChanged || statusOutcome == OutcomeUpdated:
			res = Result{Outcome: OutcomeUpdated, Shipment: sh}
		default:
			res = Result{Outcome: OutcomeUnchanged, Shipment: sh}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if res.Outcome != OutcomeUnchanged {
		s.lc.Notify(ctx, res.Shipment, prev, models.ChangeOriginSystem)
	}
	return res, nil
}

// applyStatus moves sh to the externally reported status when that is a
// valid step. Regressions and disallowed steps are logged and skipped.
func (s *Service) applyStatus(ctx context.Context, tx storage.Tx, sh *models.Shipment, in models.IncomingOrder) (Outcome, error) {
	if in.Status == nil || *in.Status == sh.Status {
		return OutcomeUnchanged, nil
	}
	to := *in.Status

	proof := in.Proof
	if to == models.StatusDelivered && !proof.Complete() {
		proof = carrierProof(in)
	}

	req := lifecycle.TransitionRequest{
		To:     to,
		Actor:  actorFor(in.Origin),
		Note:   fmt.Sprintf("reported by %s", in.Origin),
		Origin: models.ChangeOriginSystem,
		Proof:  proof,
	}
	if err := lifecycle.CheckTransition(sh.Status, to, sh.Origin, proof); err != nil {
		if errs.KindOf(err) == errs.KindInvalidTransition || errs.KindOf(err) == errs.KindMissingProofOfDelivery {
			slog.Warn("reject external status",
				"shipment_id", sh.ID,
				"origin", in.Origin,
				"from", sh.Status,
				"to", to,
				"regression", lifecycle.IsRegression(sh.Status, to),
			)
			return OutcomeSkipped, nil
		}
		return OutcomeUnchanged, err
	}
	if err := s.lc.TransitionInTx(ctx, tx, sh, req); err != nil {
		return OutcomeUnchanged, err
	}
	return OutcomeUpdated, nil
}

// carrierProof stands in for the receiver data the marketplace keeps to
// itself: the platform confirmed the delivery.
func carrierProof(in models.IncomingOrder) *models.ProofOfDelivery {
	doc := in.ExternalShipmentID
	if doc == "" {
		doc = in.ExternalOrderID
	}
	if doc == "" {
		doc = in.Tracking
	}
	return &models.ProofOfDelivery{Role: "carrier", Name: string(in.Origin), DocumentID: doc}
}

// overwriteFields copies normalized fields onto sh and reports whether
// anything changed. Sale date and deadline are fixed at creation.
func overwriteFields(sh *models.Shipment, in models.IncomingOrder) bool {
	changed := false
	setStr := func(dst *string, v string) {
		if v != "" && *dst != v {
			*dst = v
			changed = true
		}
	}

	if sh.Tracking == "" {
		setStr(&sh.Tracking, in.Tracking)
	}
	if sh.ExternalShipmentID == "" {
		setStr(&sh.ExternalShipmentID, in.ExternalShipmentID)
	}
	setStr(&sh.ExternalOrderID, in.ExternalOrderID)
	setStr(&sh.Recipient.Name, in.Recipient.Name)
	setStr(&sh.Recipient.Address, in.Recipient.Address)
	setStr(&sh.Recipient.Phone, in.Recipient.Phone)
	setStr(&sh.Recipient.Email, in.Recipient.Email)
	setStr(&sh.RecipientKey, dedup.NormalizeName(in.Recipient.Name))
	setStr(&sh.Zone, in.Zone)
	setStr(&sh.Description, in.Description)
	setStr(&sh.ShippingMethod, in.ShippingMethod)

	if !sh.Weight.Equal(in.Weight) {
		sh.Weight = in.Weight
		changed = true
	}
	if !sh.AmountToCollect.Equal(in.AmountToCollect) {
		sh.AmountToCollect = in.AmountToCollect
		changed = true
	}
	return changed
}

// naturalKey is what concurrent merges of the same external order share.
func naturalKey(in models.IncomingOrder) string {
	switch {
	case in.Origin == models.OriginFlex && in.ExternalShipmentID != "":
		return "ext:" + in.ExternalShipmentID
	case in.ExternalOrderID != "":
		// Трекинг витрины меняется после отгрузки, номер заказа нет.
		return fmt.Sprintf("ord:%s:%s", in.Origin, in.ExternalOrderID)
	case in.Tracking != "":
		return "trk:" + in.Tracking
	default:
		return fmt.Sprintf("rcp:%s:%s:%s", in.Origin, in.SaleDate.UTC().Format(time.DateOnly), dedup.NormalizeName(in.Recipient.Name))
	}
}

func actorFor(origin models.Origin) string {
	return "sync:" + string(origin)
}
