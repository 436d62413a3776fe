package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

// Порядок статусов важен: движение только вперёд, кроме отмены.
const (
	StatusAwaitingPickup     Status = "AWAITING_PICKUP"
	StatusAssignedToDriver   Status = "ASSIGNED_TO_DRIVER"
	StatusDispatched         Status = "DISPATCHED"
	StatusEnRouteToRecipient Status = "EN_ROUTE_TO_RECIPIENT"
	StatusDelivered          Status = "DELIVERED"
	StatusCancelled          Status = "CANCELLED"
	StatusRejectedByBuyer    Status = "REJECTED_BY_BUYER"
)

var progression = map[Status]int{
	StatusAwaitingPickup:     0,
	StatusAssignedToDriver:   1,
	StatusDispatched:         2,
	StatusEnRouteToRecipient: 3,
	StatusDelivered:          4,
}

func (s Status) Valid() bool {
	switch s {
	case StatusAwaitingPickup, StatusAssignedToDriver, StatusDispatched, StatusEnRouteToRecipient,
		StatusDelivered, StatusCancelled, StatusRejectedByBuyer:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusRejectedByBuyer
}

// Rank returns the position of s in the forward progression, or -1 for
// terminal states that sit outside of it (Cancelled, RejectedByBuyer).
func (s Status) Rank() int {
	if r, ok := progression[s]; ok {
		return r
	}
	return -1
}

func ParseStatus(v string) (Status, bool) {
	s := Status(strings.ToUpper(strings.TrimSpace(v)))
	return s, s.Valid()
}

type Origin string

const (
	OriginTiendaNube Origin = "TIENDANUBE"
	OriginVTEX       Origin = "VTEX"
	OriginShopify    Origin = "SHOPIFY"
	OriginFlex       Origin = "FLEX"
	OriginManual     Origin = "MANUAL"
)

func (o Origin) Valid() bool {
	switch o {
	case OriginTiendaNube, OriginVTEX, OriginShopify, OriginFlex, OriginManual:
		return true
	}
	return false
}

// External reports whether the shipment came from an integration rather than
// an operator.
func (o Origin) External() bool {
	return o.Valid() && o != OriginManual
}

func ParseOrigin(v string) (Origin, bool) {
	o := Origin(strings.ToUpper(strings.TrimSpace(v)))
	return o, o.Valid()
}

// ChangeOrigin tells where a status change was triggered.
type ChangeOrigin string

const (
	ChangeOriginApp    ChangeOrigin = "APP"
	ChangeOriginWeb    ChangeOrigin = "WEB"
	ChangeOriginSystem ChangeOrigin = "SYSTEM"
)

func (c ChangeOrigin) Valid() bool {
	return c == ChangeOriginApp || c == ChangeOriginWeb || c == ChangeOriginSystem
}

// CollectedState is the boundary model of the nullable "collected" column.
// Rows written before the flag existed carry NULL and count as collected.
type CollectedState int

const (
	CollectedLegacyUnknown CollectedState = iota
	CollectedNo
	CollectedYes
)

func (c CollectedState) IsCollected() bool {
	return c != CollectedNo
}

func CollectedStateFromDB(v *bool) CollectedState {
	switch {
	case v == nil:
		return CollectedLegacyUnknown
	case *v:
		return CollectedYes
	default:
		return CollectedNo
	}
}

func (c CollectedState) DBValue() *bool {
	switch c {
	case CollectedYes:
		v := true
		return &v
	case CollectedNo:
		v := false
		return &v
	default:
		return nil
	}
}

type Recipient struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
}

type ProofOfDelivery struct {
	Role       string `json:"role"`
	Name       string `json:"name"`
	DocumentID string `json:"documentId"`
}

func (p *ProofOfDelivery) Complete() bool {
	return p != nil &&
		strings.TrimSpace(p.Role) != "" &&
		strings.TrimSpace(p.Name) != "" &&
		strings.TrimSpace(p.DocumentID) != ""
}

type Shipment struct {
	ID         uint64
	CustomerID uint64

	Tracking      string
	TrackingToken string
	QRData        string

	Origin             Origin
	ExternalOrderID    string
	ExternalShipmentID string

	Status Status

	CreatedAt      time.Time
	UpdatedAt      time.Time
	SaleDate       time.Time
	Deadline       time.Time
	ArrivedAt      *time.Time
	DeliveredAt    *time.Time
	AssignedAt     *time.Time
	DispatchedAt   *time.Time
	CollectedAt    *time.Time
	AtFacilityAt   *time.Time
	CancelledAt    *time.Time
	LastMovementAt *time.Time

	Recipient       Recipient
	RecipientKey    string
	Zone            string
	AmountToCollect decimal.Decimal
	Weight          decimal.Decimal
	Description     string
	ShippingMethod  string
	Proof           *ProofOfDelivery

	Deleted   bool
	Collected CollectedState

	AssignedDriverID   *uint64
	AssignedDriverName string

	NextPollAt    *time.Time
	PollFailCount int32
	LastPollError *string
}

// Clone returns a deep copy, so stores can hand out values without sharing
// pointers with their own state.
func (s *Shipment) Clone() *Shipment {
	if s == nil {
		return nil
	}
	c := *s
	for _, p := range []**time.Time{
		&c.ArrivedAt, &c.DeliveredAt, &c.AssignedAt, &c.DispatchedAt, &c.CollectedAt,
		&c.AtFacilityAt, &c.CancelledAt, &c.LastMovementAt, &c.NextPollAt,
	} {
		if *p != nil {
			t := **p
			*p = &t
		}
	}
	if s.Proof != nil {
		p := *s.Proof
		c.Proof = &p
	}
	if s.AssignedDriverID != nil {
		id := *s.AssignedDriverID
		c.AssignedDriverID = &id
	}
	if s.LastPollError != nil {
		e := *s.LastPollError
		c.LastPollError = &e
	}
	return &c
}

type HistoryEntry struct {
	ID         uint64
	ShipmentID uint64
	Status     Status
	At         time.Time
	Actor      string
	Note       string
	Origin     ChangeOrigin
}

type Observation struct {
	ID         uint64
	ShipmentID uint64
	At         time.Time
	Actor      string
	Text       string
}

type ImageCategory string

const (
	ImageNobodyHome ImageCategory = "NOBODY_HOME"
	ImageDelivery   ImageCategory = "DELIVERY"
	ImageOther      ImageCategory = "OTHER"
)

type Image struct {
	ID         uint64
	ShipmentID uint64
	At         time.Time
	Actor      string
	Category   ImageCategory
	Ref        string
}

type ClosureRow struct {
	DriverID   uint64 `json:"driverId"`
	DriverName string `json:"driverName"`
	Count      int    `json:"count"`
}

// CandidateQuery selects fuzzy dedup candidates.
type CandidateQuery struct {
	CustomerID   uint64
	Origin       Origin
	From         time.Time
	To           time.Time
	RecipientKey string
}
