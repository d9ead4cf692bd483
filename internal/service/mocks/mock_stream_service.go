package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"streamlink/internal/service"
)

type MockStreamService struct {
	mock.Mock
}

func (m *MockStreamService) Open(ctx context.Context, token, rangeHeader string) (*service.Stream, error) {
	args := m.Called(ctx, token, rangeHeader)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.Stream), args.Error(1)
}

func (m *MockStreamService) Head(ctx context.Context, token, rangeHeader string) (*service.Stream, error) {
	args := m.Called(ctx, token, rangeHeader)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.Stream), args.Error(1)
}
