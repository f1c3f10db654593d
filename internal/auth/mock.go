package auth

import "github.com/stretchr/testify/mock"

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(token string) (Claims, error) {
	args := m.Called(token)
	return args.Get(0).(Claims), args.Error(1)
}
