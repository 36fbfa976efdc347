package server

import (
	"context"
	"time"

	"github.com/aiguesbcn/aigues/pkg/aigues"
	"github.com/aiguesbcn/aigues/pkg/types"
	"github.com/stretchr/testify/mock"
)

type mockClient struct {
	mock.Mock
}

var _ waterClient = (*mockClient)(nil)

func (m *mockClient) Provider() types.ProviderID {
	return types.ProviderAgbar
}

func (m *mockClient) ResolveContract(ctx context.Context, contract string) (string, error) {
	args := m.Called(ctx, contract)
	return args.String(0), args.Error(1)
}

func (m *mockClient) Profile(ctx context.Context, user string) (types.Profile, bool, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(types.Profile), args.Bool(1), args.Error(2)
}

func (m *mockClient) Contracts(ctx context.Context, q aigues.ContractsQuery) ([]types.Contract, error) {
	args := m.Called(ctx, q)
	if v := args.Get(0); v != nil {
		return v.([]types.Contract), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockClient) Invoices(ctx context.Context, q aigues.InvoicesQuery) ([]types.Invoice, error) {
	args := m.Called(ctx, q)
	if v := args.Get(0); v != nil {
		return v.([]types.Invoice), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockClient) Consumptions(ctx context.Context, q aigues.ConsumptionsQuery) ([]types.ConsumptionSample, error) {
	args := m.Called(ctx, q)
	if v := args.Get(0); v != nil {
		return v.([]types.ConsumptionSample), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockClient) ConsumptionsWeek(ctx context.Context, ref time.Time, contract, user string) ([]types.ConsumptionSample, error) {
	args := m.Called(ctx, ref, contract, user)
	if v := args.Get(0); v != nil {
		return v.([]types.ConsumptionSample), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockClient) ConsumptionsMonth(ctx context.Context, ref time.Time, contract, user string) ([]types.ConsumptionSample, error) {
	args := m.Called(ctx, ref, contract, user)
	if v := args.Get(0); v != nil {
		return v.([]types.ConsumptionSample), args.Error(1)
	}
	return nil, args.Error(1)
}
