// Package normalizer maps channel payloads into models.IncomingOrder.
// Normalizers are pure: no I/O, no store access.
package normalizer

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/ShipBox/internal/errs"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/shopspring/decimal"
)

type Normalizer interface {
	Origin() models.Origin
	Normalize(raw []byte) (models.IncomingOrder, error)
}

type Registry struct {
	byOrigin map[models.Origin]Normalizer
}

func NewRegistry(ns ...Normalizer) *Registry {
	r := &Registry{byOrigin: make(map[models.Origin]Normalizer, len(ns))}
	for _, n := range ns {
		r.byOrigin[n.Origin()] = n
	}
	return r
}

// Default registers a normalizer for every external origin.
func Default() *Registry {
	return NewRegistry(TiendaNube{}, Shopify{}, VTEX{}, Flex{})
}

func (r *Registry) Supports(origin models.Origin) bool {
	_, ok := r.byOrigin[origin]
	return ok
}

func (r *Registry) Normalize(origin models.Origin, raw []byte) (models.IncomingOrder, error) {
	n, ok := r.byOrigin[origin]
	if !ok {
		return models.IncomingOrder{}, errs.Normalization("no normalizer for origin %q", origin)
	}
	return n.Normalize(raw)
}

func decode(origin models.Origin, raw []byte, v any) error {
	if len(raw) == 0 {
		return errs.Normalization("%s: empty payload", origin)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errs.Wrap(errs.KindNormalization, err, fmt.Sprintf("%s: decode payload", origin))
	}
	return nil
}

func parseDate(origin models.Origin, layout, v string) (time.Time, error) {
	if strings.TrimSpace(v) == "" {
		return time.Time{}, errs.Normalization("%s: sale date is missing", origin)
	}
	t, err := time.Parse(layout, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, errs.Wrap(errs.KindNormalization, err, fmt.Sprintf("%s: parse sale date", origin))
	}
	return t, nil
}

// validate enforces the fields without which no shipment may be created.
func validate(o models.IncomingOrder) (models.IncomingOrder, error) {
	if strings.TrimSpace(o.CustomerRef) == "" {
		return models.IncomingOrder{}, errs.Normalization("%s order %s: customer reference is missing", o.Origin, o.ExternalOrderID)
	}
	if strings.TrimSpace(o.Recipient.Name) == "" {
		return models.IncomingOrder{}, errs.Normalization("%s order %s: recipient name is missing", o.Origin, o.ExternalOrderID)
	}
	o.Recipient.Name = strings.TrimSpace(o.Recipient.Name)
	return o, nil
}

func joinNonEmpty(sep string, parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}

type lineItem struct {
	name     string
	quantity int64
}

func describe(items []lineItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		if it.name == "" {
			continue
		}
		q := it.quantity
		if q <= 0 {
			q = 1
		}
		parts = append(parts, fmt.Sprintf("%dx %s", q, it.name))
	}
	return strings.Join(parts, ", ")
}

// decimalOrZero parses amounts sent as strings; garbage reads as zero.
func decimalOrZero(v string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func statusPtr(s models.Status) *models.Status {
	return &s
}
