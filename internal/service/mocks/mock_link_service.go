package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"streamlink/internal/model"
	"streamlink/internal/service"
)

type MockLinkService struct {
	mock.Mock
}

func (m *MockLinkService) Register(ctx context.Context, in service.RegisterInput) (*service.Registration, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.Registration), args.Error(1)
}

func (m *MockLinkService) Open(ctx context.Context, token string) (*model.Link, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Link), args.Error(1)
}

func (m *MockLinkService) Sweep(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLinkService) TTL() time.Duration {
	args := m.Called()
	return args.Get(0).(time.Duration)
}
