package dedup

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/BearBump/ShipBox/internal/errs"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/storage"
	"github.com/pkg/errors"
	"golang.org/x/text/cases"
)

type Action int

const (
	ActionCreate Action = iota
	ActionUpdate
)

func (a Action) String() string {
	if a == ActionUpdate {
		return "update"
	}
	return "create"
}

type Decision struct {
	Action Action
	// Existing is set for ActionUpdate.
	Existing *models.Shipment
	// MatchedBy names the key that matched: external_shipment_id, tracking or recipient.
	MatchedBy string
}

// Resolver decides whether an incoming order is new or an already tracked
// shipment. It only reads through the transaction it is given.
type Resolver struct {
	loc *time.Location
	// strict turns a multi-candidate match into errs.ErrDuplicateAmbiguous
	// instead of picking the earliest created shipment.
	strict bool
}

func New(loc *time.Location, strict bool) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{loc: loc, strict: strict}
}

func (r *Resolver) Resolve(ctx context.Context, tx storage.Tx, customerID uint64, in models.IncomingOrder) (Decision, error) {
	if in.Origin == models.OriginFlex && in.ExternalShipmentID != "" {
		found, err := tx.FindByExternalShipmentID(ctx, customerID, in.ExternalShipmentID)
		if err != nil {
			return Decision{}, errors.Wrap(err, "find by external shipment id")
		}
		if d, ok, err := r.pick(found, "external_shipment_id"); ok || err != nil {
			return d, err
		}
	}

	if in.Tracking != "" {
		found, err := tx.FindByTracking(ctx, customerID, in.Tracking)
		if err != nil {
			return Decision{}, errors.Wrap(err, "find by tracking")
		}
		if d, ok, err := r.pick(found, "tracking"); ok || err != nil {
			return d, err
		}
	}

	if fuzzyOrigin(in.Origin) {
		from, to := DayWindow(in.SaleDate, r.loc)
		found, err := tx.FindCandidates(ctx, models.CandidateQuery{
			CustomerID:   customerID,
			Origin:       in.Origin,
			From:         from,
			To:           to,
			RecipientKey: NormalizeName(in.Recipient.Name),
		})
		if err != nil {
			return Decision{}, errors.Wrap(err, "find dedup candidates")
		}
		if d, ok, err := r.pick(found, "recipient"); ok || err != nil {
			return d, err
		}
	}

	return Decision{Action: ActionCreate}, nil
}

func (r *Resolver) pick(found []*models.Shipment, by string) (Decision, bool, error) {
	if len(found) == 0 {
		return Decision{}, false, nil
	}
	if len(found) > 1 {
		if r.strict {
			return Decision{}, false, errs.New(errs.KindDuplicateAmbiguous, "%d shipments match by %s", len(found), by)
		}
		sort.SliceStable(found, func(i, j int) bool {
			if found[i].CreatedAt.Equal(found[j].CreatedAt) {
				return found[i].ID < found[j].ID
			}
			return found[i].CreatedAt.Before(found[j].CreatedAt)
		})
	}
	return Decision{Action: ActionUpdate, Existing: found[0], MatchedBy: by}, true, nil
}

// fuzzyOrigin: storefronts that may re-send an order without a stable id.
func fuzzyOrigin(o models.Origin) bool {
	return o == models.OriginTiendaNube || o == models.OriginShopify
}

// DayWindow returns the inclusive bounds of t's calendar day in loc.
func DayWindow(t time.Time, loc *time.Location) (time.Time, time.Time) {
	lt := t.In(loc)
	from := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	to := from.AddDate(0, 0, 1).Add(-time.Nanosecond)
	return from, to
}

// NormalizeName trims, collapses inner whitespace and case-folds a name.
func NormalizeName(name string) string {
	return cases.Fold().String(strings.Join(strings.Fields(name), " "))
}
