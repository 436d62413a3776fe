package normalizer

import (
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/shopspring/decimal"
)

type Shopify struct{}

type shopifyOrder struct {
	ID              int64   `json:"id"`
	OrderNumber     int64   `json:"order_number"`
	CreatedAt       string  `json:"created_at"`
	CancelledAt     *string `json:"cancelled_at"`
	Email           string  `json:"email"`
	FinancialStatus string  `json:"financial_status"`
	TotalPrice      string  `json:"total_price"`
	Customer        *struct {
		ID int64 `json:"id"`
	} `json:"customer"`
	ShippingAddress struct {
		Name     string `json:"name"`
		Address1 string `json:"address1"`
		Address2 string `json:"address2"`
		City     string `json:"city"`
		Province string `json:"province"`
		Zip      string `json:"zip"`
		Phone    string `json:"phone"`
	} `json:"shipping_address"`
	LineItems []struct {
		Title    string `json:"title"`
		Quantity int64  `json:"quantity"`
		Grams    int64  `json:"grams"`
	} `json:"line_items"`
	ShippingLines []struct {
		Title string `json:"title"`
	} `json:"shipping_lines"`
}

func (Shopify) Origin() models.Origin { return models.OriginShopify }

func (Shopify) Normalize(raw []byte) (models.IncomingOrder, error) {
	var o shopifyOrder
	if err := decode(models.OriginShopify, raw, &o); err != nil {
		return models.IncomingOrder{}, err
	}
	saleDate, err := parseDate(models.OriginShopify, time.RFC3339, o.CreatedAt)
	if err != nil {
		return models.IncomingOrder{}, err
	}

	out := models.IncomingOrder{
		Origin:          models.OriginShopify,
		ExternalOrderID: strconv.FormatInt(o.ID, 10),
		Tracking:        strconv.FormatInt(o.OrderNumber, 10),
		SaleDate:        saleDate,
		Zone:            o.ShippingAddress.City,
		Recipient: models.Recipient{
			Name: o.ShippingAddress.Name,
			Address: joinNonEmpty(", ",
				joinNonEmpty(" ", o.ShippingAddress.Address1, o.ShippingAddress.Address2),
				o.ShippingAddress.City, o.ShippingAddress.Province, o.ShippingAddress.Zip),
			Phone: o.ShippingAddress.Phone,
			Email: o.Email,
		},
	}
	if o.Customer != nil && o.Customer.ID != 0 {
		out.CustomerRef = strconv.FormatInt(o.Customer.ID, 10)
	}
	if len(o.ShippingLines) > 0 {
		out.ShippingMethod = o.ShippingLines[0].Title
	}

	items := make([]lineItem, 0, len(o.LineItems))
	grams := int64(0)
	for _, li := range o.LineItems {
		items = append(items, lineItem{name: li.Title, quantity: li.Quantity})
		q := li.Quantity
		if q <= 0 {
			q = 1
		}
		grams += li.Grams * q
	}
	out.Weight = decimal.New(grams, -3)
	out.Description = describe(items)

	switch strings.ToLower(o.FinancialStatus) {
	case "paid", "refunded", "partially_refunded", "voided":
	default:
		out.AmountToCollect = decimalOrZero(o.TotalPrice)
	}
	if o.CancelledAt != nil && *o.CancelledAt != "" {
		out.Status = statusPtr(models.StatusCancelled)
	}

	return validate(out)
}
