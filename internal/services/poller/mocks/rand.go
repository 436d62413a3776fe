package mocks

import "github.com/stretchr/testify/mock"

// Rand is a testify mock for poller.Rand.
type Rand struct {
	mock.Mock
}

func (m *Rand) Intn(n int) int {
	args := m.Called(n)
	return args.Int(0)
}
