package normalizer

import (
	"strconv"
	"strings"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/shopspring/decimal"
)

// TiendaNube dates carry a numeric offset without a colon.
const tiendaNubeDateLayout = "2006-01-02T15:04:05-0700"

type TiendaNube struct{}

type tnOrder struct {
	ID        int64  `json:"id"`
	Number    int64  `json:"number"`
	CreatedAt string `json:"created_at"`
	Status    string `json:"status"`
	Customer  struct {
		ID    int64  `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"customer"`
	ShippingAddress struct {
		Name     string `json:"name"`
		Address  string `json:"address"`
		Number   string `json:"number"`
		Floor    string `json:"floor"`
		Locality string `json:"locality"`
		City     string `json:"city"`
		Province string `json:"province"`
		Zipcode  string `json:"zipcode"`
		Phone    string `json:"phone"`
	} `json:"shipping_address"`
	Products []struct {
		Name     string `json:"name"`
		Quantity int64  `json:"quantity"`
		Weight   string `json:"weight"`
	} `json:"products"`
	ShippingOption         string `json:"shipping_option"`
	ShippingTrackingNumber string `json:"shipping_tracking_number"`
	PaymentStatus          string `json:"payment_status"`
	Total                  string `json:"total"`
}

func (TiendaNube) Origin() models.Origin { return models.OriginTiendaNube }

func (TiendaNube) Normalize(raw []byte) (models.IncomingOrder, error) {
	var o tnOrder
	if err := decode(models.OriginTiendaNube, raw, &o); err != nil {
		return models.IncomingOrder{}, err
	}
	saleDate, err := parseDate(models.OriginTiendaNube, tiendaNubeDateLayout, o.CreatedAt)
	if err != nil {
		return models.IncomingOrder{}, err
	}

	out := models.IncomingOrder{
		Origin:          models.OriginTiendaNube,
		ExternalOrderID: strconv.FormatInt(o.ID, 10),
		Tracking:        strconv.FormatInt(o.Number, 10),
		SaleDate:        saleDate,
		Zone:            o.ShippingAddress.Locality,
		ShippingMethod:  o.ShippingOption,
	}
	if o.ShippingTrackingNumber != "" {
		out.Tracking = o.ShippingTrackingNumber
	}
	if o.Customer.ID != 0 {
		out.CustomerRef = strconv.FormatInt(o.Customer.ID, 10)
	}

	name := o.ShippingAddress.Name
	if strings.TrimSpace(name) == "" {
		name = o.Customer.Name
	}
	phone := o.ShippingAddress.Phone
	if phone == "" {
		phone = o.Customer.Phone
	}
	out.Recipient = models.Recipient{
		Name: name,
		Address: joinNonEmpty(", ",
			joinNonEmpty(" ", o.ShippingAddress.Address, o.ShippingAddress.Number, o.ShippingAddress.Floor),
			o.ShippingAddress.Locality, o.ShippingAddress.City, o.ShippingAddress.Province, o.ShippingAddress.Zipcode),
		Phone: phone,
		Email: o.Customer.Email,
	}

	items := make([]lineItem, 0, len(o.Products))
	weight := decimal.Zero
	for _, p := range o.Products {
		items = append(items, lineItem{name: p.Name, quantity: p.Quantity})
		q := p.Quantity
		if q <= 0 {
			q = 1
		}
		weight = weight.Add(decimalOrZero(p.Weight).Mul(decimal.NewFromInt(q)))
	}
	out.Weight = weight
	out.Description = describe(items)

	// Неоплаченный заказ, курьер собирает деньги при доставке.
	if !strings.EqualFold(o.PaymentStatus, "paid") {
		out.AmountToCollect = decimalOrZero(o.Total)
	}
	if strings.EqualFold(o.Status, "cancelled") {
		out.Status = statusPtr(models.StatusCancelled)
	}

	return validate(out)
}
