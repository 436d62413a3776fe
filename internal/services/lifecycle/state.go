package lifecycle

import (
	"time"

	"github.com/BearBump/ShipBox/internal/errs"
	"github.com/BearBump/ShipBox/internal/models"
)

const (
	cutoffHour   = 15
	deadlineHour = 23
)

// Deadline: sales before 15:00 local are due the same day at 23:00,
// later sales the next day at 23:00.
func Deadline(saleDate time.Time, loc *time.Location) time.Time {
	lt := saleDate.In(loc)
	d := time.Date(lt.Year(), lt.Month(), lt.Day(), deadlineHour, 0, 0, 0, loc)
	if lt.Hour() >= cutoffHour {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// CheckTransition validates from -> to for a shipment of the given origin.
// Terminal states accept nothing. Cancelled is reachable from any other
// state, RejectedByBuyer only for integration shipments, and everything
// else must move forward in the progression.
func CheckTransition(from, to models.Status, origin models.Origin, proof *models.ProofOfDelivery) error {
	if !to.Valid() {
		return errs.Validation("unknown status %q", to)
	}
	if from.Terminal() {
		return errs.InvalidTransition(from, to)
	}
	switch to {
	case models.StatusCancelled:
		return nil
	case models.StatusRejectedByBuyer:
		if !origin.External() {
			return errs.InvalidTransition(from, to)
		}
		return nil
	}
	if to.Rank() <= from.Rank() {
		return errs.InvalidTransition(from, to)
	}
	if to == models.StatusDelivered && !proof.Complete() {
		return errs.New(errs.KindMissingProofOfDelivery, "receiver role, name and id are required")
	}
	return nil
}

// IsRegression reports whether an externally reported status points
// backwards from the current one.
func IsRegression(from, to models.Status) bool {
	if from == to {
		return false
	}
	if from.Terminal() {
		return true
	}
	return to.Rank() >= 0 && to.Rank() < from.Rank()
}

// stamp moves sh to status and sets the timestamp owned by that status.
func stamp(sh *models.Shipment, to models.Status, at time.Time, proof *models.ProofOfDelivery) {
	t := at.UTC()
	sh.Status = to
	sh.LastMovementAt = &t
	switch to {
	case models.StatusAssignedToDriver:
		sh.AssignedAt = &t
	case models.StatusDispatched:
		sh.DispatchedAt = &t
	case models.StatusDelivered:
		sh.DeliveredAt = &t
		if proof != nil {
			p := *proof
			sh.Proof = &p
		}
	case models.StatusCancelled:
		sh.CancelledAt = &t
	}
}

// InitialCollected: marketplace shipments wait for a physical scan, the
// rest are considered in hand on arrival.
func InitialCollected(origin models.Origin) models.CollectedState {
	if origin == models.OriginFlex {
		return models.CollectedNo
	}
	return models.CollectedYes
}
