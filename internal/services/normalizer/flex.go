package normalizer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BearBump/ShipBox/internal/models"
)

// Marketplace shipments use millisecond precision and a colon offset.
const flexDateLayout = "2006-01-02T15:04:05.000-07:00"

type Flex struct{}

type flexShipment struct {
	ID             int64  `json:"id"`
	OrderID        int64  `json:"order_id"`
	SenderID       int64  `json:"sender_id"`
	ReceiverID     int64  `json:"receiver_id"`
	Status         string `json:"status"`
	Substatus      string `json:"substatus"`
	DateCreated    string `json:"date_created"`
	TrackingNumber string `json:"tracking_number"`
	ShippingOption struct {
		Name string `json:"name"`
	} `json:"shipping_option"`
	ReceiverAddress struct {
		ReceiverName  string `json:"receiver_name"`
		ReceiverPhone string `json:"receiver_phone"`
		AddressLine   string `json:"address_line"`
		ZipCode       string `json:"zip_code"`
		Comment       string `json:"comment"`
		City          struct {
			Name string `json:"name"`
		} `json:"city"`
		Neighborhood struct {
			Name string `json:"name"`
		} `json:"neighborhood"`
	} `json:"receiver_address"`
}

func (Flex) Origin() models.Origin { return models.OriginFlex }

func (Flex) Normalize(raw []byte) (models.IncomingOrder, error) {
	var s flexShipment
	if err := decode(models.OriginFlex, raw, &s); err != nil {
		return models.IncomingOrder{}, err
	}
	saleDate, err := parseDate(models.OriginFlex, flexDateLayout, s.DateCreated)
	if err != nil {
		return models.IncomingOrder{}, err
	}

	shipmentID := ""
	if s.ID != 0 {
		shipmentID = strconv.FormatInt(s.ID, 10)
	}
	addr := s.ReceiverAddress
	out := models.IncomingOrder{
		Origin:             models.OriginFlex,
		ExternalShipmentID: shipmentID,
		Tracking:           shipmentID,
		SaleDate:           saleDate,
		Zone:               addr.Neighborhood.Name,
		ShippingMethod:     s.ShippingOption.Name,
		Description:        addr.Comment,
		Recipient: models.Recipient{
			Name:    addr.ReceiverName,
			Address: joinNonEmpty(", ", addr.AddressLine, addr.Neighborhood.Name, addr.City.Name, addr.ZipCode),
			Phone:   addr.ReceiverPhone,
		},
		Status: flexStatus(s.Status, s.Substatus),
	}
	if s.TrackingNumber != "" {
		out.Tracking = s.TrackingNumber
	}
	if s.OrderID != 0 {
		out.ExternalOrderID = strconv.FormatInt(s.OrderID, 10)
	}
	if s.ReceiverID != 0 {
		out.CustomerRef = strconv.FormatInt(s.ReceiverID, 10)
	}
	if shipmentID != "" {
		// Тот же формат, что печатается на этикетке маркетплейса.
		out.QRData = fmt.Sprintf(`{"id":"%s","sender_id":%d}`, shipmentID, s.SenderID)
	}

	return validate(out)
}

// flexStatus maps marketplace status/substatus pairs. Pre-dispatch states map
// to nil: the shipment is created AwaitingPickup and local progress before
// pickup must not be reported as a regression.
func flexStatus(status, substatus string) *models.Status {
	switch strings.ToLower(status) {
	case "shipped":
		return statusPtr(models.StatusEnRouteToRecipient)
	case "delivered":
		return statusPtr(models.StatusDelivered)
	case "cancelled":
		return statusPtr(models.StatusCancelled)
	case "not_delivered":
		switch strings.ToLower(substatus) {
		case "returning_to_sender", "returned", "refused_delivery", "refused":
			return statusPtr(models.StatusRejectedByBuyer)
		}
	}
	return nil
}
