package storage

import (
	"context"
	"time"

	"github.com/aiguesbcn/aigues/pkg/types"
)

// Database persists fetched consumption and invoices per account.
type Database interface {
	// Consumption
	// UpsertConsumptions adds or replaces samples keyed by their time. Samples
	// without a parsed time are rejected.
	UpsertConsumptions(ctx context.Context, account string, samples []types.ConsumptionSample) error
	GetConsumptionHistory(ctx context.Context, account string, start, end time.Time) ([]types.ConsumptionSample, error)
	GetLatestConsumptionTime(ctx context.Context, account string) (time.Time, error)

	// Invoices
	UpsertInvoices(ctx context.Context, account string, invoices []types.Invoice) error
	GetInvoices(ctx context.Context, account string) ([]types.Invoice, error)

	// Sync state
	GetSyncState(ctx context.Context, account string) (types.SyncState, error)
	SetSyncState(ctx context.Context, account string, state types.SyncState) error

	// Lifecycle
	Close() error
}
