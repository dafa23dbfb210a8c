package record

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockRecorder is a mock implementation of the Recorder interface for testing.
type MockRecorder struct {
	mock.Mock
}

// Upsert is the mock implementation of the Upsert method.
func (m *MockRecorder) Upsert(ctx context.Context, table Table, key NaturalKey, records []Record) (Outcome, error) {
	args := m.Called(ctx, table, key, records)
	return args.Get(0).(Outcome), args.Error(1)
}

// Close is the mock implementation of the Close method.
func (m *MockRecorder) Close() error {
	args := m.Called()
	return args.Error(0) //nolint:wrapcheck
}
