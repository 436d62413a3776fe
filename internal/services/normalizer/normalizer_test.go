package normalizer

import (
	"testing"
	"time"

	"github.com/BearBump/ShipBox/internal/errs"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const tnPayload = `{
  "id": 871254, "number": 1042, "created_at": "2026-03-02T14:59:00-0300", "status": "open",
  "customer": {"id": 9911, "name": "Ana Pérez", "email": "ana@example.com", "phone": "1144556677"},
  "shipping_address": {"name": "  Ana Pérez ", "address": "Av. Corrientes", "number": "1234", "floor": "3B",
    "locality": "Almagro", "city": "CABA", "province": "Buenos Aires", "zipcode": "1414"},
  "products": [{"name": "Remera", "quantity": 2, "weight": "0.250"}, {"name": "Gorra", "quantity": 1, "weight": "0.100"}],
  "shipping_option": "Envío a domicilio",
  "payment_status": "pending", "total": "15999.90"
}`

const shopifyPayload = `{
  "id": 450789469, "order_number": 1001, "created_at": "2026-03-02T10:15:00-03:00", "cancelled_at": null,
  "email": "bob@example.com", "financial_status": "paid", "total_price": "199.00",
  "customer": {"id": 207119551},
  "shipping_address": {"name": "Bob Norman", "address1": "Chestnut Street 92", "city": "Rosario", "province": "Santa Fe", "zip": "2000", "phone": "555-625-1199"},
  "line_items": [{"title": "IPod Nano", "quantity": 2, "grams": 200}],
  "shipping_lines": [{"title": "Standard"}]
}`

const vtexPayload = `{
  "orderId": "v502556llux-01", "sequence": "502556", "creationDate": "2026-03-02T18:20:30.1234567Z",
  "status": "payment-pending", "value": 150050,
  "clientProfileData": {"userProfileId": "u-77", "firstName": "Carla", "lastName": "Gómez", "email": "carla@example.com", "phone": "+5491100000000"},
  "shippingData": {"address": {"receiverName": "", "street": "Calle 7", "number": "880", "neighborhood": "Centro", "city": "La Plata", "state": "BA", "postalCode": "1900"},
    "logisticsInfo": [{"selectedSla": "Normal"}]},
  "items": [{"name": "Zapatilla", "quantity": 1, "additionalInfo": {"dimension": {"weight": 850}}}]
}`

const flexPayload = `{
  "id": 41000000001, "order_id": 2000003, "sender_id": 123456, "receiver_id": 999,
  "status": "shipped", "substatus": "out_for_delivery",
  "date_created": "2026-03-02T16:00:00.000-03:00",
  "shipping_option": {"name": "Flex"},
  "receiver_address": {"receiver_name": "Diego Ruiz", "receiver_phone": "11223344", "address_line": "Mitre 100",
    "zip_code": "1870", "city": {"name": "Avellaneda"}, "neighborhood": {"name": "Sarandí"}, "comment": "timbre 2"}
}`

func TestRegistry_NormalizesEveryOrigin(t *testing.T) {
	r := Default()

	tn, err := r.Normalize(models.OriginTiendaNube, []byte(tnPayload))
	require.NoError(t, err)
	require.Equal(t, "871254", tn.ExternalOrderID)
	require.Equal(t, "1042", tn.Tracking)
	require.Equal(t, "9911", tn.CustomerRef)
	require.Equal(t, "Ana Pérez", tn.Recipient.Name)
	require.Equal(t, "Av. Corrientes 1234 3B, Almagro, CABA, Buenos Aires, 1414", tn.Recipient.Address)
	require.True(t, tn.SaleDate.Equal(time.Date(2026, 3, 2, 17, 59, 0, 0, time.UTC)))
	require.True(t, tn.Weight.Equal(decimal.RequireFromString("0.6")))
	require.True(t, tn.AmountToCollect.Equal(decimal.RequireFromString("15999.90")))
	require.Equal(t, "2x Remera, 1x Gorra", tn.Description)
	require.Nil(t, tn.Status)

	sh, err := r.Normalize(models.OriginShopify, []byte(shopifyPayload))
	require.NoError(t, err)
	require.Equal(t, "1001", sh.Tracking)
	require.Equal(t, "Standard", sh.ShippingMethod)
	require.True(t, sh.Weight.Equal(decimal.RequireFromString("0.4")))
	require.True(t, sh.AmountToCollect.IsZero())
	require.True(t, sh.SaleDate.Equal(time.Date(2026, 3, 2, 13, 15, 0, 0, time.UTC)))

	vt, err := r.Normalize(models.OriginVTEX, []byte(vtexPayload))
	require.NoError(t, err)
	require.Equal(t, "Carla Gómez", vt.Recipient.Name)
	require.Equal(t, "u-77", vt.CustomerRef)
	require.True(t, vt.AmountToCollect.Equal(decimal.RequireFromString("1500.50")))
	require.True(t, vt.Weight.Equal(decimal.RequireFromString("0.85")))
	require.Equal(t, 2026, vt.SaleDate.Year())

	fx, err := r.Normalize(models.OriginFlex, []byte(flexPayload))
	require.NoError(t, err)
	require.Equal(t, "41000000001", fx.ExternalShipmentID)
	require.Equal(t, "2000003", fx.ExternalOrderID)
	require.Equal(t, `{"id":"41000000001","sender_id":123456}`, fx.QRData)
	require.NotNil(t, fx.Status)
	require.Equal(t, models.StatusEnRouteToRecipient, *fx.Status)
	require.Equal(t, "Sarandí", fx.Zone)
}

func TestNormalize_MissingRequiredFields(t *testing.T) {
	r := Default()

	cases := []struct {
		name   string
		origin models.Origin
		raw    string
	}{
		{"tn without customer", models.OriginTiendaNube, `{"id":1,"number":1,"created_at":"2026-03-02T10:00:00-0300","shipping_address":{"name":"X"}}`},
		{"shopify without recipient", models.OriginShopify, `{"id":1,"order_number":1,"created_at":"2026-03-02T10:00:00-03:00","customer":{"id":5}}`},
		{"vtex without profile", models.OriginVTEX, `{"orderId":"a","creationDate":"2026-03-02T10:00:00Z","shippingData":{"address":{"receiverName":"X"}}}`},
		{"flex without receiver", models.OriginFlex, `{"id":1,"receiver_id":5,"date_created":"2026-03-02T10:00:00.000-03:00"}`},
		{"bad date", models.OriginTiendaNube, `{"id":1,"created_at":"02/03/2026"}`},
		{"not json", models.OriginFlex, `<html>`},
		{"empty", models.OriginShopify, ``},
		{"manual has no normalizer", models.OriginManual, `{}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Normalize(tc.origin, []byte(tc.raw))
			require.ErrorIs(t, err, errs.ErrNormalization)
		})
	}
}

func TestFlexStatus(t *testing.T) {
	require.Nil(t, flexStatus("ready_to_ship", "ready_to_print"))
	require.Nil(t, flexStatus("not_delivered", "receiver_absent"))
	require.Equal(t, models.StatusDelivered, *flexStatus("delivered", ""))
	require.Equal(t, models.StatusCancelled, *flexStatus("cancelled", ""))
	require.Equal(t, models.StatusRejectedByBuyer, *flexStatus("not_delivered", "returning_to_sender"))
}

func TestStorefrontCancellation(t *testing.T) {
	raw := `{"id":1,"number":7,"created_at":"2026-03-02T10:00:00-0300","status":"cancelled",
	  "customer":{"id":3,"name":"Z"},"payment_status":"paid"}`
	o, err := TiendaNube{}.Normalize([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, models.StatusCancelled, *o.Status)
	require.Equal(t, "Z", o.Recipient.Name)
}
