// Package memshipment is an in-process shipment store with the same
// semantics as pgshipment. Transactions are serialized by one mutex and
// rolled back by restoring a snapshot.
package memshipment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BearBump/ShipBox/internal/errs"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/storage"
)

type state struct {
	nextID       uint64
	shipments    map[uint64]*models.Shipment
	history      []*models.HistoryEntry
	observations []*models.Observation
	images       []*models.Image
	customers    map[string]uint64
}

func (st *state) clone() *state {
	c := &state{
		nextID:       st.nextID,
		shipments:    make(map[uint64]*models.Shipment, len(st.shipments)),
		history:      append([]*models.HistoryEntry(nil), st.history...),
		observations: append([]*models.Observation(nil), st.observations...),
		images:       append([]*models.Image(nil), st.images...),
		customers:    make(map[string]uint64, len(st.customers)),
	}
	for id, sh := range st.shipments {
		c.shipments[id] = sh.Clone()
	}
	for k, v := range st.customers {
		c.customers[k] = v
	}
	return c
}

type Store struct {
	mu sync.Mutex
	st *state
	// now is used for created_at/updated_at stamps.
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		st: &state{
			shipments: map[uint64]*models.Shipment{},
			customers: map[string]uint64{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Close() {}

func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.st.clone()
	if err := fn(&tx{s: s}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) GetShipment(ctx context.Context, id uint64) (*models.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.st.shipments[id]
	if !ok {
		return nil, errs.NotFound("shipment %d", id)
	}
	return sh.Clone(), nil
}

func (s *Store) GetByTrackingToken(ctx context.Context, token string) (*models.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sh := range s.st.shipments {
		if !sh.Deleted && sh.TrackingToken == token {
			return sh.Clone(), nil
		}
	}
	return nil, errs.NotFound("tracking token")
}

func (s *Store) ListHistory(ctx context.Context, shipmentID uint64) ([]*models.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.HistoryEntry{}
	for _, e := range s.st.history {
		if e.ShipmentID == shipmentID {
			c := *e
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].ID < out[j].ID
		}
		return out[i].At.Before(out[j].At)
	})
	return out, nil
}

func (s *Store) ListObservations(ctx context.Context, shipmentID uint64) ([]*models.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Observation{}
	for _, o := range s.st.observations {
		if o.ShipmentID == shipmentID {
			c := *o
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].ID > out[j].ID
		}
		return out[i].At.After(out[j].At)
	})
	return out, nil
}

func (s *Store) ListImages(ctx context.Context, shipmentID uint64) ([]*models.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Image{}
	for _, img := range s.st.images {
		if img.ShipmentID == shipmentID {
			c := *img
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) ListOperational(ctx context.Context, customerID uint64) ([]*models.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Shipment{}
	for _, sh := range s.st.shipments {
		if sh.CustomerID == customerID && !sh.Deleted && sh.Collected.IsCollected() {
			out = append(out, sh.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *Store) ClosureCounts(ctx context.Context, from, to time.Time, flexOnly bool) ([]models.ClosureRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byDriver := map[uint64]*models.ClosureRow{}
	for _, sh := range s.st.shipments {
		if sh.Deleted || sh.Status != models.StatusEnRouteToRecipient || !sh.Collected.IsCollected() {
			continue
		}
		if sh.AssignedDriverID == nil || sh.LastMovementAt == nil {
			continue
		}
		if sh.LastMovementAt.Before(from) || !sh.LastMovementAt.Before(to) {
			continue
		}
		if flexOnly && sh.Origin != models.OriginFlex {
			continue
		}
		row, ok := byDriver[*sh.AssignedDriverID]
		if !ok {
			row = &models.ClosureRow{DriverID: *sh.AssignedDriverID, DriverName: sh.AssignedDriverName}
			byDriver[*sh.AssignedDriverID] = row
		}
		row.Count++
	}
	out := make([]models.ClosureRow, 0, len(byDriver))
	for _, r := range byDriver {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DriverID < out[j].DriverID })
	return out, nil
}

func customerKey(origin models.Origin, originUserID string) string {
	return fmt.Sprintf("%s|%s", origin, originUserID)
}

func (s *Store) LinkCustomer(ctx context.Context, customerID uint64, origin models.Origin, originUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.customers[customerKey(origin, originUserID)] = customerID
	return nil
}

func (s *Store) LookupCustomer(ctx context.Context, origin models.Origin, originUserID string) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.st.customers[customerKey(origin, originUserID)]
	return id, ok, nil
}

// ClaimDuePolls picks Flex shipments due for a status poll and pushes their
// next_poll_at forward by lease so a parallel claim skips them.
func (s *Store) ClaimDuePolls(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*models.Shipment
	for _, sh := range s.st.shipments {
		if sh.Deleted || sh.Origin != models.OriginFlex || sh.Status.Terminal() || sh.ExternalShipmentID == "" {
			continue
		}
		if sh.NextPollAt != nil && sh.NextPollAt.After(now) {
			continue
		}
		due = append(due, sh)
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i].NextPollAt, due[j].NextPollAt
		switch {
		case a == nil && b == nil:
			return due[i].ID < due[j].ID
		case a == nil:
			return true
		case b == nil:
			return false
		case a.Equal(*b):
			return due[i].ID < due[j].ID
		default:
			return a.Before(*b)
		}
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	leaseUntil := now.UTC().Add(lease)
	out := make([]*models.Shipment, 0, len(due))
	for _, sh := range due {
		t := leaseUntil
		sh.NextPollAt = &t
		out = append(out, sh.Clone())
	}
	return out, nil
}

func (s *Store) SchedulePoll(ctx context.Context, id uint64, next time.Time, pollErr *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.st.shipments[id]
	if !ok {
		return errs.NotFound("shipment %d", id)
	}
	t := next.UTC()
	sh.NextPollAt = &t
	if pollErr != nil && *pollErr != "" {
		sh.PollFailCount++
		e := *pollErr
		sh.LastPollError = &e
	} else {
		sh.PollFailCount = 0
		sh.LastPollError = nil
	}
	return nil
}

type tx struct {
	s *Store
}

func (t *tx) LockNaturalKey(ctx context.Context, customerID uint64, key string) error {
	// Транзакции и так сериализованы мьютексом.
	return nil
}

func (t *tx) find(match func(sh *models.Shipment) bool) []*models.Shipment {
	var out []*models.Shipment
	for _, sh := range t.s.st.shipments {
		if !sh.Deleted && match(sh) {
			out = append(out, sh.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (t *tx) FindByTracking(ctx context.Context, customerID uint64, tracking string) ([]*models.Shipment, error) {
	return t.find(func(sh *models.Shipment) bool {
		return sh.CustomerID == customerID && sh.Tracking == tracking
	}), nil
}

func (t *tx) FindByExternalShipmentID(ctx context.Context, customerID uint64, externalShipmentID string) ([]*models.Shipment, error) {
	return t.find(func(sh *models.Shipment) bool {
		return sh.CustomerID == customerID && sh.ExternalShipmentID == externalShipmentID
	}), nil
}

func (t *tx) FindCandidates(ctx context.Context, q models.CandidateQuery) ([]*models.Shipment, error) {
	return t.find(func(sh *models.Shipment) bool {
		return sh.CustomerID == q.CustomerID &&
			sh.Origin == q.Origin &&
			sh.RecipientKey == q.RecipientKey &&
			!sh.SaleDate.Before(q.From) &&
			!sh.SaleDate.After(q.To)
	}), nil
}

func (t *tx) GetForUpdate(ctx context.Context, id uint64) (*models.Shipment, error) {
	sh, ok := t.s.st.shipments[id]
	if !ok {
		return nil, errs.NotFound("shipment %d", id)
	}
	return sh.Clone(), nil
}

func (t *tx) GetByQRForUpdate(ctx context.Context, qrData string) (*models.Shipment, error) {
	found := t.find(func(sh *models.Shipment) bool { return sh.QRData == qrData })
	if len(found) == 0 {
		return nil, errs.NotFound("qr data")
	}
	return found[0], nil
}

func (t *tx) Insert(ctx context.Context, sh *models.Shipment) (uint64, error) {
	for _, other := range t.s.st.shipments {
		if other.Deleted {
			continue
		}
		if sh.Tracking != "" && other.CustomerID == sh.CustomerID && other.Tracking == sh.Tracking {
			return 0, errs.New(errs.KindConflictOnInsert, "tracking %q", sh.Tracking)
		}
		if other.TrackingToken == sh.TrackingToken {
			return 0, errs.New(errs.KindConflictOnInsert, "tracking token")
		}
	}
	t.s.st.nextID++
	c := sh.Clone()
	c.ID = t.s.st.nextID
	now := t.s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	t.s.st.shipments[c.ID] = c
	sh.ID, sh.CreatedAt, sh.UpdatedAt = c.ID, c.CreatedAt, c.UpdatedAt
	return c.ID, nil
}

func (t *tx) Update(ctx context.Context, sh *models.Shipment) error {
	if _, ok := t.s.st.shipments[sh.ID]; !ok {
		return errs.NotFound("shipment %d", sh.ID)
	}
	c := sh.Clone()
	c.UpdatedAt = t.s.now()
	t.s.st.shipments[sh.ID] = c
	sh.UpdatedAt = c.UpdatedAt
	return nil
}

func (t *tx) AppendHistory(ctx context.Context, e *models.HistoryEntry) error {
	c := *e
	c.ID = uint64(len(t.s.st.history) + 1)
	t.s.st.history = append(t.s.st.history, &c)
	e.ID = c.ID
	return nil
}

func (t *tx) AppendObservation(ctx context.Context, o *models.Observation) error {
	c := *o
	c.ID = uint64(len(t.s.st.observations) + 1)
	t.s.st.observations = append(t.s.st.observations, &c)
	o.ID = c.ID
	return nil
}

func (t *tx) AppendImage(ctx context.Context, img *models.Image) error {
	c := *img
	c.ID = uint64(len(t.s.st.images) + 1)
	t.s.st.images = append(t.s.st.images, &c)
	img.ID = c.ID
	return nil
}
