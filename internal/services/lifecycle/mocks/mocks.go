// Package mocks holds testify mocks for the lifecycle collaborators.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type Publisher struct {
	mock.Mock
}

func (m *Publisher) PublishJSON(ctx context.Context, topic, key string, v any) error {
	args := m.Called(ctx, topic, key, v)
	return args.Error(0)
}

type Invalidator struct {
	mock.Mock
}

func (m *Invalidator) Invalidate(ctx context.Context, trackingToken string) error {
	args := m.Called(ctx, trackingToken)
	return args.Error(0)
}

type BlobStore struct {
	mock.Mock
}

func (m *BlobStore) Put(ctx context.Context, key, contentType string, body []byte) (string, error) {
	args := m.Called(ctx, key, contentType, body)
	return args.String(0), args.Error(1)
}
