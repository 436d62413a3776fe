package normalizer

import (
	"strings"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/shopspring/decimal"
)

type VTEX struct{}

type vtexOrder struct {
	OrderID      string `json:"orderId"`
	Sequence     string `json:"sequence"`
	CreationDate string `json:"creationDate"`
	Status       string `json:"status"`
	// Value is in cents.
	Value             int64 `json:"value"`
	ClientProfileData struct {
		UserProfileID string `json:"userProfileId"`
		FirstName     string `json:"firstName"`
		LastName      string `json:"lastName"`
		Email         string `json:"email"`
		Phone         string `json:"phone"`
	} `json:"clientProfileData"`
	ShippingData struct {
		Address struct {
			ReceiverName string `json:"receiverName"`
			Street       string `json:"street"`
			Number       string `json:"number"`
			Complement   string `json:"complement"`
			Neighborhood string `json:"neighborhood"`
			City         string `json:"city"`
			State        string `json:"state"`
			PostalCode   string `json:"postalCode"`
		} `json:"address"`
		LogisticsInfo []struct {
			SelectedSla string `json:"selectedSla"`
		} `json:"logisticsInfo"`
	} `json:"shippingData"`
	Items []struct {
		Name           string `json:"name"`
		Quantity       int64  `json:"quantity"`
		AdditionalInfo struct {
			Dimension struct {
				// Weight is in grams.
				Weight float64 `json:"weight"`
			} `json:"dimension"`
		} `json:"additionalInfo"`
	} `json:"items"`
}

func (VTEX) Origin() models.Origin { return models.OriginVTEX }

func (VTEX) Normalize(raw []byte) (models.IncomingOrder, error) {
	var o vtexOrder
	if err := decode(models.OriginVTEX, raw, &o); err != nil {
		return models.IncomingOrder{}, err
	}
	saleDate, err := parseDate(models.OriginVTEX, time.RFC3339Nano, o.CreationDate)
	if err != nil {
		return models.IncomingOrder{}, err
	}

	addr := o.ShippingData.Address
	name := addr.ReceiverName
	if strings.TrimSpace(name) == "" {
		name = joinNonEmpty(" ", o.ClientProfileData.FirstName, o.ClientProfileData.LastName)
	}

	out := models.IncomingOrder{
		Origin:          models.OriginVTEX,
		ExternalOrderID: o.OrderID,
		Tracking:        o.OrderID,
		CustomerRef:     o.ClientProfileData.UserProfileID,
		SaleDate:        saleDate,
		Zone:            addr.Neighborhood,
		Recipient: models.Recipient{
			Name: name,
			Address: joinNonEmpty(", ",
				joinNonEmpty(" ", addr.Street, addr.Number, addr.Complement),
				addr.Neighborhood, addr.City, addr.State, addr.PostalCode),
			Phone: o.ClientProfileData.Phone,
			Email: o.ClientProfileData.Email,
		},
	}
	if out.CustomerRef == "" {
		out.CustomerRef = o.ClientProfileData.Email
	}
	if len(o.ShippingData.LogisticsInfo) > 0 {
		out.ShippingMethod = o.ShippingData.LogisticsInfo[0].SelectedSla
	}

	items := make([]lineItem, 0, len(o.Items))
	weight := decimal.Zero
	for _, it := range o.Items {
		items = append(items, lineItem{name: it.Name, quantity: it.Quantity})
		q := it.Quantity
		if q <= 0 {
			q = 1
		}
		weight = weight.Add(decimal.NewFromFloat(it.AdditionalInfo.Dimension.Weight).Mul(decimal.NewFromInt(q)))
	}
	out.Weight = weight.Shift(-3)
	out.Description = describe(items)

	switch strings.ToLower(o.Status) {
	case "payment-pending":
		out.AmountToCollect = decimal.New(o.Value, -2)
	case "canceled", "cancel", "cancellation-requested":
		out.Status = statusPtr(models.StatusCancelled)
	}

	return validate(out)
}
