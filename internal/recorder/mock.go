package recorder

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Record(ev Event) {
	m.Called(ev)
}

type MockSink struct {
	mock.Mock
}

func (m *MockSink) Write(ctx context.Context, ev Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *MockSink) Close() error {
	args := m.Called()
	return args.Error(0)
}
