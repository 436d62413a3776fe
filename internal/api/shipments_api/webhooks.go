package shipments_api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/BearBump/ShipBox/internal/errs"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/services/reconciler"
)

// flexID accepts ids sent either as JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type tiendaNubeHook struct {
	StoreID flexID `json:"store_id"`
	Event   string `json:"event"`
	ID      flexID `json:"id"`
}

type shopifyHook struct {
	ID flexID `json:"id"`
}

type vtexHook struct {
	Domain  string `json:"Domain"`
	OrderID string `json:"OrderId"`
	State   string `json:"State"`
	Origin  struct {
		Account string `json:"Account"`
	} `json:"Origin"`
}

type flexHook struct {
	Resource string `json:"resource"`
	UserID   flexID `json:"user_id"`
	Topic    string `json:"topic"`
}

// parseNotification turns one platform's webhook request into the
// platform-neutral (topic, resource, sender) triple.
func parseNotification(origin models.Origin, r *http.Request, body []byte) (reconciler.Notification, error) {
	var n reconciler.Notification
	switch origin {
	case models.OriginTiendaNube:
		var h tiendaNubeHook
		if err := json.Unmarshal(body, &h); err != nil {
			return n, errs.Validation("malformed webhook: %v", err)
		}
		n = reconciler.Notification{Topic: h.Event, ResourceRef: string(h.ID), OriginUserID: string(h.StoreID)}
	case models.OriginShopify:
		var h shopifyHook
		if err := json.Unmarshal(body, &h); err != nil {
			return n, errs.Validation("malformed webhook: %v", err)
		}
		// Shopify кладёт топик и магазин в заголовки, а не в тело.
		n = reconciler.Notification{
			Topic:        r.Header.Get("X-Shopify-Topic"),
			ResourceRef:  string(h.ID),
			OriginUserID: strings.ToLower(r.Header.Get("X-Shopify-Shop-Domain")),
		}
	case models.OriginVTEX:
		var h vtexHook
		if err := json.Unmarshal(body, &h); err != nil {
			return n, errs.Validation("malformed webhook: %v", err)
		}
		n = reconciler.Notification{Topic: h.State, ResourceRef: h.OrderID, OriginUserID: h.Origin.Account}
	case models.OriginFlex:
		var h flexHook
		if err := json.Unmarshal(body, &h); err != nil {
			return n, errs.Validation("malformed webhook: %v", err)
		}
		n = reconciler.Notification{Topic: h.Topic, ResourceRef: h.Resource, OriginUserID: string(h.UserID)}
	default:
		return n, errs.Validation("webhooks are not supported for origin %q", origin)
	}
	return n, nil
}

func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	origin, ok := models.ParseOrigin(urlParam(r, "origin"))
	if !ok || !origin.External() {
		writeError(w, r, errs.Validation("unknown origin %q", urlParam(r, "origin")))
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxBody))
	if err != nil {
		writeError(w, r, errs.Validation("read webhook body: %v", err))
		return
	}
	n, err := parseNotification(origin, r, body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := a.rec.HandleWebhook(r.Context(), origin, n)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := webhookResponse{Outcome: res.Outcome.String()}
	if res.Shipment != nil {
		resp.ShipmentID = res.Shipment.ID
	}
	writeJSON(w, http.StatusOK, resp)
}
