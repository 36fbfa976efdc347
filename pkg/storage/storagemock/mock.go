package storagemock

import (
	"context"
	"time"

	"github.com/aiguesbcn/aigues/pkg/storage"
	"github.com/aiguesbcn/aigues/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) UpsertConsumptions(ctx context.Context, account string, samples []types.ConsumptionSample) error {
	args := m.Called(ctx, account, samples)
	return args.Error(0)
}

func (m *MockDatabase) GetConsumptionHistory(ctx context.Context, account string, start, end time.Time) ([]types.ConsumptionSample, error) {
	args := m.Called(ctx, account, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.ConsumptionSample), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetLatestConsumptionTime(ctx context.Context, account string) (time.Time, error) {
	args := m.Called(ctx, account)
	if len(args) > 0 {
		return args.Get(0).(time.Time), args.Error(1)
	}
	return time.Time{}, nil
}

func (m *MockDatabase) UpsertInvoices(ctx context.Context, account string, invoices []types.Invoice) error {
	args := m.Called(ctx, account, invoices)
	return args.Error(0)
}

func (m *MockDatabase) GetInvoices(ctx context.Context, account string) ([]types.Invoice, error) {
	args := m.Called(ctx, account)
	if len(args) > 0 {
		return args.Get(0).([]types.Invoice), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetSyncState(ctx context.Context, account string) (types.SyncState, error) {
	args := m.Called(ctx, account)
	if len(args) > 0 {
		return args.Get(0).(types.SyncState), args.Error(1)
	}
	return types.SyncState{}, nil
}

func (m *MockDatabase) SetSyncState(ctx context.Context, account string, state types.SyncState) error {
	args := m.Called(ctx, account, state)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
