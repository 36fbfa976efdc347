package storage

import (
	"context"
	"time"

	"github.com/aiguesbcn/aigues/pkg/types"
)

// NoneProvider discards writes and returns empty history. It is used when the
// server only proxies live calls.
type NoneProvider struct{}

var _ Database = NoneProvider{}

func (NoneProvider) UpsertConsumptions(ctx context.Context, account string, samples []types.ConsumptionSample) error {
	return nil
}

func (NoneProvider) GetConsumptionHistory(ctx context.Context, account string, start, end time.Time) ([]types.ConsumptionSample, error) {
	return nil, nil
}

func (NoneProvider) GetLatestConsumptionTime(ctx context.Context, account string) (time.Time, error) {
	return time.Time{}, nil
}

func (NoneProvider) UpsertInvoices(ctx context.Context, account string, invoices []types.Invoice) error {
	return nil
}

func (NoneProvider) GetInvoices(ctx context.Context, account string) ([]types.Invoice, error) {
	return nil, nil
}

func (NoneProvider) GetSyncState(ctx context.Context, account string) (types.SyncState, error) {
	return types.SyncState{}, nil
}

func (NoneProvider) SetSyncState(ctx context.Context, account string, state types.SyncState) error {
	return nil
}

func (NoneProvider) Close() error {
	return nil
}
