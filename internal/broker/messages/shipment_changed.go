package messages

import (
	"time"
)

// ShipmentChanged is published after every committed change of a shipment.
type ShipmentChanged struct {
	ShipmentID    uint64    `json:"shipment_id"`
	CustomerID    uint64    `json:"customer_id"`
	TrackingToken string    `json:"tracking_token"`
	Status        string    `json:"status"`
	PrevStatus    string    `json:"prev_status,omitempty"`
	Origin        string    `json:"origin"`
	ChangeOrigin  string    `json:"change_origin"`
	Deleted       bool      `json:"deleted,omitempty"`
	ChangedAt     time.Time `json:"changed_at"`
}
