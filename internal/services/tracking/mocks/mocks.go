package mocks

import (
	"context"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/stretchr/testify/mock"
)

// MockRepository is a testify mock for tracking.Repository.
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetByTrackingToken(ctx context.Context, token string) (*models.Shipment, error) {
	args := m.Called(ctx, token)
	sh, _ := args.Get(0).(*models.Shipment)
	return sh, args.Error(1)
}

func (m *MockRepository) ListHistory(ctx context.Context, shipmentID uint64) ([]*models.HistoryEntry, error) {
	args := m.Called(ctx, shipmentID)
	h, _ := args.Get(0).([]*models.HistoryEntry)
	return h, args.Error(1)
}
