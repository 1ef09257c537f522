package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/ve-energy/scrapers/pkg/storage"
	"github.com/ve-energy/scrapers/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) SaveIfNew(ctx context.Context, scraper string, data []types.ScraperData) (bool, error) {
	args := m.Called(ctx, scraper, data)
	return args.Bool(0), args.Error(1)
}

func (m *MockDatabase) GetValues(ctx context.Context, scraper string, start, end time.Time) ([]storage.ValueRow, error) {
	args := m.Called(ctx, scraper, start, end)
	if rows, ok := args.Get(0).([]storage.ValueRow); ok {
		return rows, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) GetBids(ctx context.Context, scraper string, start, end time.Time) ([]storage.BidRow, error) {
	args := m.Called(ctx, scraper, start, end)
	if rows, ok := args.Get(0).([]storage.BidRow); ok {
		return rows, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) Cleanup(ctx context.Context, retentionDays int) error {
	args := m.Called(ctx, retentionDays)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
