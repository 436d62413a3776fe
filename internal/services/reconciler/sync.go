package reconciler

import (
	"context"
	"log/slog"
	"path"
	"strings"

	"github.com/BearBump/ShipBox/internal/errs"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/pkg/errors"
)

// Notification is one webhook delivery as the platform sends it.
type Notification struct {
	Topic        string
	ResourceRef  string
	OriginUserID string
}

var webhookTopics = map[models.Origin]map[string]struct{}{
	models.OriginTiendaNube: set("order/created", "order/updated", "order/paid", "order/packed", "order/fulfilled", "order/cancelled"),
	models.OriginShopify:    set("orders/create", "orders/updated", "orders/paid", "orders/fulfilled", "orders/cancelled"),
	models.OriginVTEX:       set("order-created", "ready-for-handling", "handling", "invoiced", "canceled", "order-status-updated"),
	models.OriginFlex:       set("shipments"),
}

func set(vs ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(vs))
	for _, v := range vs {
		m[v] = struct{}{}
	}
	return m
}

func (s *Service) handlesTopic(origin models.Origin, topic string) bool {
	_, ok := webhookTopics[origin][strings.ToLower(strings.TrimSpace(topic))]
	return ok
}

// HandleWebhook fetches the resource a push notification points at and
// merges it. Topics and senders we do not handle are acknowledged as
// OutcomeIgnored so the platform does not retry them.
func (s *Service) HandleWebhook(ctx context.Context, origin models.Origin, n Notification) (Result, error) {
	if !s.norm.Supports(origin) {
		return Result{}, errs.Validation("unsupported origin %q", origin)
	}
	if !s.handlesTopic(origin, n.Topic) {
		slog.Debug("ignore webhook topic", "origin", origin, "topic", n.Topic)
		return Result{Outcome: OutcomeIgnored}, nil
	}
	ref := resourceID(n.ResourceRef)
	if ref == "" {
		return Result{}, errs.Validation("resource ref is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.WebhookTimeout)
	defer cancel()

	customerID, ok, err := s.store.LookupCustomer(ctx, origin, n.OriginUserID)
	if err != nil {
		return Result{}, errors.Wrap(err, "lookup customer")
	}
	if !ok {
		slog.Warn("webhook from unknown account", "origin", origin, "origin_user_id", n.OriginUserID)
		return Result{Outcome: OutcomeIgnored}, nil
	}

	in, err := s.fetchAndNormalize(ctx, customerID, origin, ref)
	if err != nil {
		return Result{}, err
	}
	return s.Merge(ctx, customerID, in)
}

// SyncShipment re-reads one marketplace shipment and merges it (poll path).
func (s *Service) SyncShipment(ctx context.Context, sh *models.Shipment) (Result, error) {
	if sh.ExternalShipmentID == "" {
		return Result{}, errs.Validation("shipment %d has no external shipment id", sh.ID)
	}
	in, err := s.fetchAndNormalize(ctx, sh.CustomerID, sh.Origin, sh.ExternalShipmentID)
	if err != nil {
		return Result{}, err
	}
	return s.Merge(ctx, sh.CustomerID, in)
}

// SyncAll pulls every open order of a customer on one platform. Per-order
// failures are logged and counted; the batch always completes.
func (s *Service) SyncAll(ctx context.Context, customerID uint64, origin models.Origin) (Summary, error) {
	if !s.norm.Supports(origin) {
		return Summary{}, errs.Validation("unsupported origin %q", origin)
	}
	tok, err := s.tokens.Token(ctx, customerID, origin)
	if err != nil {
		return Summary{}, err
	}
	raws, err := s.fetcher.FetchAllOrders(ctx, tok)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{Total: len(raws)}
	for i, raw := range raws {
		in, err := s.norm.Normalize(origin, raw)
		if err != nil {
			sum.Errored++
			slog.Error("normalize order", "customer_id", customerID, "origin", origin, "index", i, "error", err.Error())
			continue
		}
		res, err := s.Merge(ctx, customerID, in)
		if err != nil {
			sum.Errored++
			slog.Error("merge order", "customer_id", customerID, "origin", origin, "order_id", in.ExternalOrderID, "error", err.Error())
			continue
		}
		sum.add(res.Outcome)
	}

	slog.Info("sync finished",
		"customer_id", customerID,
		"origin", origin,
		"total", sum.Total,
		"created", sum.Created,
		"updated", sum.Updated,
		"skipped", sum.Skipped,
		"errored", sum.Errored,
	)
	return sum, nil
}

func (s *Service) fetchAndNormalize(ctx context.Context, customerID uint64, origin models.Origin, ref string) (models.IncomingOrder, error) {
	tok, err := s.tokens.Token(ctx, customerID, origin)
	if err != nil {
		return models.IncomingOrder{}, err
	}
	raw, err := s.fetcher.FetchOrder(ctx, tok, ref)
	if err != nil {
		return models.IncomingOrder{}, err
	}
	return s.norm.Normalize(origin, raw)
}

// resourceID accepts both bare ids and resource paths like "/shipments/123".
func resourceID(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	id := path.Base(ref)
	if id == "/" || id == "." {
		return ""
	}
	return id
}
