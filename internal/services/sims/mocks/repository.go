package mocks

import (
	"context"
	"time"

	"github.com/BearBump/SimKeeper/internal/models"
	"github.com/stretchr/testify/mock"
)

// MockRepository is a testify mock of sims.Repository.
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) LoadAll(ctx context.Context) ([]*models.SimCard, error) {
	args := m.Called(ctx)
	var out []*models.SimCard
	if v := args.Get(0); v != nil {
		out = v.([]*models.SimCard)
	}
	return out, args.Error(1)
}

func (m *MockRepository) Get(ctx context.Context, id string) (*models.SimCard, error) {
	args := m.Called(ctx, id)
	var out *models.SimCard
	if v := args.Get(0); v != nil {
		out = v.(*models.SimCard)
	}
	return out, args.Error(1)
}

func (m *MockRepository) Create(ctx context.Context, sc *models.SimCard) error {
	return m.Called(ctx, sc).Error(0)
}

func (m *MockRepository) Update(ctx context.Context, sc *models.SimCard) error {
	return m.Called(ctx, sc).Error(0)
}

func (m *MockRepository) UpdateLastUsage(ctx context.Context, id string, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *MockRepository) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}
