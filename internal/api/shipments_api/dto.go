package shipments_api

import (
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/shopspring/decimal"
)

type recipientDTO struct {
	Name    string `json:"name" validate:"required,max=200"`
	Address string `json:"address" validate:"max=500"`
	Phone   string `json:"phone" validate:"max=50"`
	Email   string `json:"email" validate:"omitempty,email"`
}

type proofDTO struct {
	Role       string `json:"role" validate:"required"`
	Name       string `json:"name" validate:"required"`
	DocumentID string `json:"documentId" validate:"required"`
}

type createShipmentRequest struct {
	CustomerID      uint64          `json:"customerId" validate:"required"`
	Tracking        string          `json:"tracking" validate:"max=100"`
	SaleDate        time.Time       `json:"saleDate"`
	Recipient       recipientDTO    `json:"recipient"`
	Zone            string          `json:"zone"`
	AmountToCollect decimal.Decimal `json:"amountToCollect"`
	Weight          decimal.Decimal `json:"weight"`
	Description     string          `json:"description" validate:"max=2000"`
	ShippingMethod  string          `json:"shippingMethod"`
	Actor           string          `json:"actor" validate:"required"`
}

type transitionRequest struct {
	Status  string    `json:"status" validate:"required"`
	Actor   string    `json:"actor" validate:"required"`
	Note    string    `json:"note" validate:"max=2000"`
	Channel string    `json:"channel" validate:"omitempty,oneof=APP WEB"`
	Proof   *proofDTO `json:"proof"`
}

type assignRequest struct {
	DriverID   uint64 `json:"driverId" validate:"required"`
	DriverName string `json:"driverName" validate:"max=200"`
	AssignedBy string `json:"assignedBy" validate:"required"`
	Channel    string `json:"channel" validate:"omitempty,oneof=APP WEB"`
}

type observationRequest struct {
	Actor string `json:"actor" validate:"required"`
	Text  string `json:"text" validate:"required,max=2000"`
}

// imageRequest carries either a ref to an already stored blob or the bytes
// themselves (base64 in JSON).
type imageRequest struct {
	Actor       string `json:"actor" validate:"required"`
	Category    string `json:"category" validate:"omitempty,oneof=NOBODY_HOME DELIVERY OTHER"`
	Ref         string `json:"ref" validate:"required_without=Content"`
	Content     []byte `json:"content" validate:"required_without=Ref"`
	ContentType string `json:"contentType"`
}

type collectRequest struct {
	QRData  string `json:"qrData" validate:"required"`
	Actor   string `json:"actor" validate:"required"`
	Channel string `json:"channel" validate:"omitempty,oneof=APP WEB"`
}

type shipmentDTO struct {
	ID                 uint64          `json:"id"`
	CustomerID         uint64          `json:"customerId"`
	Tracking           string          `json:"tracking"`
	TrackingToken      string          `json:"trackingToken"`
	QRData             string          `json:"qrData"`
	Origin             string          `json:"origin"`
	ExternalOrderID    string          `json:"externalOrderId,omitempty"`
	ExternalShipmentID string          `json:"externalShipmentId,omitempty"`
	Status             string          `json:"status"`
	CreatedAt          time.Time       `json:"createdAt"`
	SaleDate           time.Time       `json:"saleDate"`
	Deadline           time.Time       `json:"deadline"`
	ArrivedAt          *time.Time      `json:"arrivedAt,omitempty"`
	AssignedAt         *time.Time      `json:"assignedAt,omitempty"`
	DispatchedAt       *time.Time      `json:"dispatchedAt,omitempty"`
	DeliveredAt        *time.Time      `json:"deliveredAt,omitempty"`
	CollectedAt        *time.Time      `json:"collectedAt,omitempty"`
	AtFacilityAt       *time.Time      `json:"atFacilityAt,omitempty"`
	CancelledAt        *time.Time      `json:"cancelledAt,omitempty"`
	LastMovementAt     *time.Time      `json:"lastMovementAt,omitempty"`
	Recipient          recipientDTO    `json:"recipient"`
	Zone               string          `json:"zone,omitempty"`
	AmountToCollect    decimal.Decimal `json:"amountToCollect"`
	Weight             decimal.Decimal `json:"weight"`
	Description        string          `json:"description,omitempty"`
	ShippingMethod     string          `json:"shippingMethod,omitempty"`
	Proof              *proofDTO       `json:"proof,omitempty"`
	Collected          bool            `json:"collected"`
	AssignedDriverID   *uint64         `json:"assignedDriverId,omitempty"`
	AssignedDriverName string          `json:"assignedDriverName,omitempty"`
}

type historyDTO struct {
	ID      uint64    `json:"id"`
	Status  string    `json:"status"`
	At      time.Time `json:"at"`
	Actor   string    `json:"actor"`
	Note    string    `json:"note,omitempty"`
	Channel string    `json:"channel"`
}

type observationDTO struct {
	ID    uint64    `json:"id"`
	At    time.Time `json:"at"`
	Actor string    `json:"actor"`
	Text  string    `json:"text"`
}

type imageDTO struct {
	ID       uint64    `json:"id"`
	At       time.Time `json:"at"`
	Actor    string    `json:"actor"`
	Category string    `json:"category"`
	Ref      string    `json:"ref"`
}

type closureDTO struct {
	Date     string              `json:"date"`
	SoloFlex bool                `json:"soloFlex"`
	Drivers  []models.ClosureRow `json:"drivers"`
	Total    int                 `json:"total"`
}

type webhookResponse struct {
	Outcome    string `json:"outcome"`
	ShipmentID uint64 `json:"shipmentId,omitempty"`
}

func toShipmentDTO(sh *models.Shipment) shipmentDTO {
	out := shipmentDTO{
		ID:                 sh.ID,
		CustomerID:         sh.CustomerID,
		Tracking:           sh.Tracking,
		TrackingToken:      sh.TrackingToken,
		QRData:             sh.QRData,
		Origin:             string(sh.Origin),
		ExternalOrderID:    sh.ExternalOrderID,
		ExternalShipmentID: sh.ExternalShipmentID,
		Status:             string(sh.Status),
		CreatedAt:          sh.CreatedAt,
		SaleDate:           sh.SaleDate,
		Deadline:           sh.Deadline,
		ArrivedAt:          sh.ArrivedAt,
		AssignedAt:         sh.AssignedAt,
		DispatchedAt:       sh.DispatchedAt,
		DeliveredAt:        sh.DeliveredAt,
		CollectedAt:        sh.CollectedAt,
		AtFacilityAt:       sh.AtFacilityAt,
		CancelledAt:        sh.CancelledAt,
		LastMovementAt:     sh.LastMovementAt,
		Recipient: recipientDTO{
			Name:    sh.Recipient.Name,
			Address: sh.Recipient.Address,
			Phone:   sh.Recipient.Phone,
			Email:   sh.Recipient.Email,
		},
		Zone:               sh.Zone,
		AmountToCollect:    sh.AmountToCollect,
		Weight:             sh.Weight,
		Description:        sh.Description,
		ShippingMethod:     sh.ShippingMethod,
		Collected:          sh.Collected.IsCollected(),
		AssignedDriverID:   sh.AssignedDriverID,
		AssignedDriverName: sh.AssignedDriverName,
	}
	if sh.Proof != nil {
		out.Proof = &proofDTO{Role: sh.Proof.Role, Name: sh.Proof.Name, DocumentID: sh.Proof.DocumentID}
	}
	return out
}

func toShipmentDTOs(in []*models.Shipment) []shipmentDTO {
	out := make([]shipmentDTO, 0, len(in))
	for _, sh := range in {
		out = append(out, toShipmentDTO(sh))
	}
	return out
}

func toHistoryDTOs(in []*models.HistoryEntry) []historyDTO {
	out := make([]historyDTO, 0, len(in))
	for _, h := range in {
		out = append(out, historyDTO{ID: h.ID, Status: string(h.Status), At: h.At, Actor: h.Actor, Note: h.Note, Channel: string(h.Origin)})
	}
	return out
}

func toObservationDTO(o *models.Observation) observationDTO {
	return observationDTO{ID: o.ID, At: o.At, Actor: o.Actor, Text: o.Text}
}

func toImageDTO(img *models.Image) imageDTO {
	return imageDTO{ID: img.ID, At: img.At, Actor: img.Actor, Category: string(img.Category), Ref: img.Ref}
}
