package tracking

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/ShipBox/internal/cache"
	"github.com/BearBump/ShipBox/internal/errs"
	"github.com/BearBump/ShipBox/internal/models"
)

type Repository interface {
	GetByTrackingToken(ctx context.Context, token string) (*models.Shipment, error)
	ListHistory(ctx context.Context, shipmentID uint64) ([]*models.HistoryEntry, error)
}

// View is what an unauthenticated buyer sees. No ids, amounts or contact data.
type View struct {
	TrackingToken  string      `json:"trackingToken"`
	Tracking       string      `json:"tracking"`
	Origin         string      `json:"origin"`
	Status         string      `json:"status"`
	SaleDate       time.Time   `json:"saleDate"`
	Deadline       time.Time   `json:"deadline"`
	DeliveredAt    *time.Time  `json:"deliveredAt,omitempty"`
	LastMovementAt *time.Time  `json:"lastMovementAt,omitempty"`
	Recipient      string      `json:"recipient"`
	Zone           string      `json:"zone,omitempty"`
	Events         []ViewEvent `json:"events"`
}

type ViewEvent struct {
	Status string    `json:"status"`
	At     time.Time `json:"at"`
}

type Service struct {
	repo  Repository
	cache cache.BytesCache
	ttl   time.Duration
}

func New(repo Repository, c cache.BytesCache, ttl time.Duration) *Service {
	return &Service{repo: repo, cache: c, ttl: ttl}
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.ttl > 0
}

// Get returns the public projection for token. Unknown and deleted tokens
// are both plain NotFound.
func (s *Service) Get(ctx context.Context, token string) (*View, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errs.NotFound("tracking token")
	}

	if s.cacheEnabled() {
		b, ok, err := s.cache.Get(ctx, publicKey(token))
		if err == nil && ok {
			var v View
			if json.Unmarshal(b, &v) == nil {
				return &v, nil
			}
		}
	}

	sh, err := s.repo.GetByTrackingToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if sh.Deleted {
		return nil, errs.NotFound("tracking token")
	}
	history, err := s.repo.ListHistory(ctx, sh.ID)
	if err != nil {
		return nil, err
	}
	v := project(sh, history)

	if s.cacheEnabled() {
		// кэш best-effort: ошибка записи не ломает ответ
		b, _ := json.Marshal(v)
		_ = s.cache.Set(ctx, publicKey(token), b, s.ttl)
	}
	return v, nil
}

// Invalidate drops the cached projection after a write.
func (s *Service) Invalidate(ctx context.Context, token string) error {
	if s.cache == nil || token == "" {
		return nil
	}
	return s.cache.Delete(ctx, publicKey(token))
}

// HandleChanged is the Kafka side of invalidation for replicas that did not
// perform the write themselves.
func (s *Service) HandleChanged(ctx context.Context, token string) {
	if err := s.Invalidate(ctx, token); err != nil {
		slog.Warn("invalidate public tracking", "token", token, "error", err.Error())
	}
}

func project(sh *models.Shipment, history []*models.HistoryEntry) *View {
	v := &View{
		TrackingToken:  sh.TrackingToken,
		Tracking:       sh.Tracking,
		Origin:         string(sh.Origin),
		Status:         string(sh.Status),
		SaleDate:       sh.SaleDate,
		Deadline:       sh.Deadline,
		DeliveredAt:    sh.DeliveredAt,
		LastMovementAt: sh.LastMovementAt,
		Recipient:      firstName(sh.Recipient.Name),
		Zone:           sh.Zone,
		Events:         make([]ViewEvent, 0, len(history)),
	}
	for _, h := range history {
		v.Events = append(v.Events, ViewEvent{Status: string(h.Status), At: h.At})
	}
	return v
}

func firstName(name string) string {
	f := strings.Fields(name)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}

func publicKey(token string) string {
	return "tracking:public:" + token
}
