package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// IncomingOrder is the canonical shape every channel payload is normalized to.
type IncomingOrder struct {
	Origin             Origin
	ExternalOrderID    string
	ExternalShipmentID string
	Tracking           string
	CustomerRef        string

	SaleDate time.Time

	Recipient       Recipient
	Zone            string
	Weight          decimal.Decimal
	Description     string
	ShippingMethod  string
	AmountToCollect decimal.Decimal

	// Status is set only when the source reports a delivery state.
	Status *Status
	Proof  *ProofOfDelivery
	QRData string
}
