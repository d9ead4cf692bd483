package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"streamlink/internal/model"
)

type MockLinkRepository struct {
	mock.Mock
}

func (m *MockLinkRepository) Insert(ctx context.Context, link *model.Link) error {
	args := m.Called(ctx, link)
	return args.Error(0)
}

func (m *MockLinkRepository) Lookup(ctx context.Context, token string) (*model.Link, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Link), args.Error(1)
}

func (m *MockLinkRepository) Delete(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockLinkRepository) SweepExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLinkRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
