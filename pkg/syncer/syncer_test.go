package syncer

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/aiguesbcn/aigues/pkg/aigues"
	"github.com/aiguesbcn/aigues/pkg/log"
	"github.com/aiguesbcn/aigues/pkg/storage/storagemock"
	"github.com/aiguesbcn/aigues/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

type fakeSource struct {
	contract   string
	resolveErr error
	failDays   map[string]bool
	invoices   []types.Invoice

	queries []aigues.ConsumptionsQuery
}

func (f *fakeSource) Provider() types.ProviderID {
	return types.ProviderAgbar
}

func (f *fakeSource) ResolveContract(ctx context.Context, contract string) (string, error) {
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	if contract != "" {
		return contract, nil
	}
	return f.contract, nil
}

func (f *fakeSource) Consumptions(ctx context.Context, q aigues.ConsumptionsQuery) ([]types.ConsumptionSample, error) {
	f.queries = append(f.queries, q)
	if f.failDays[q.From.Format(time.DateOnly)] {
		return nil, aigues.ErrServer
	}
	t := q.From.Add(time.Hour)
	return []types.ConsumptionSample{
		{Datetime: t.Format(time.RFC3339), Time: t, Consumption: 1},
		{Datetime: "garbage"},
	}, nil
}

func (f *fakeSource) Invoices(ctx context.Context, q aigues.InvoicesQuery) ([]types.Invoice, error) {
	return f.invoices, nil
}

func newTestSyncer(source Source, db *storagemock.MockDatabase, lookback time.Duration, now time.Time) *Syncer {
	s := New(source, db, lookback)
	s.now = func() time.Time { return now }
	return s
}

func TestSyncNewAccount(t *testing.T) {
	ctx := context.Background()
	loc := aigues.Location()
	now := time.Date(2024, 3, 14, 10, 0, 0, 0, loc)
	source := &fakeSource{contract: "A1", invoices: []types.Invoice{{Number: "F1"}, {Number: "F2"}}}

	db := &storagemock.MockDatabase{}
	db.On("GetLatestConsumptionTime", mock.Anything, "agbar:A1").Return(time.Time{}, nil)
	db.On("UpsertConsumptions", mock.Anything, "agbar:A1", mock.MatchedBy(func(s []types.ConsumptionSample) bool {
		return len(s) == 1 && !s[0].Time.IsZero()
	})).Return(nil).Times(3)
	db.On("UpsertInvoices", mock.Anything, "agbar:A1", source.invoices).Return(nil)
	db.On("SetSyncState", mock.Anything, "agbar:A1", mock.MatchedBy(func(s types.SyncState) bool {
		return s.Consumptions == 3 && s.Invoices == 2 && s.LastError == "" && s.LastSync.Equal(now)
	})).Return(nil)

	state, err := newTestSyncer(source, db, 48*time.Hour, now).Sync(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, state.Consumptions)
	assert.Equal(t, 2, state.Invoices)
	db.AssertExpectations(t)

	require.Len(t, source.queries, 3)
	for i, day := range []string{"2024-03-12", "2024-03-13", "2024-03-14"} {
		q := source.queries[i]
		assert.Equal(t, day, q.From.Format(time.DateOnly))
		assert.Equal(t, q.From.AddDate(0, 0, 1), q.To)
		assert.Equal(t, "A1", q.Contract)
		assert.Equal(t, types.FrequencyHourly, q.Frequency)
	}
}

func TestSyncResumes(t *testing.T) {
	loc := aigues.Location()
	now := time.Date(2024, 3, 14, 10, 0, 0, 0, loc)
	source := &fakeSource{contract: "A1"}

	db := &storagemock.MockDatabase{}
	db.On("GetLatestConsumptionTime", mock.Anything, "agbar:B2").Return(time.Date(2024, 3, 13, 15, 0, 0, 0, time.UTC), nil)
	db.On("UpsertConsumptions", mock.Anything, "agbar:B2", mock.Anything).Return(nil).Times(2)
	db.On("UpsertInvoices", mock.Anything, "agbar:B2", mock.Anything).Return(nil)
	db.On("SetSyncState", mock.Anything, "agbar:B2", mock.Anything).Return(nil)

	_, err := newTestSyncer(source, db, 0, now).Sync(context.Background(), "B2")
	require.NoError(t, err)
	db.AssertExpectations(t)

	require.Len(t, source.queries, 2)
	assert.Equal(t, "2024-03-13", source.queries[0].From.Format(time.DateOnly))
	assert.Equal(t, "B2", source.queries[0].Contract)
}

func TestSyncPartialFailure(t *testing.T) {
	loc := aigues.Location()
	now := time.Date(2024, 3, 14, 10, 0, 0, 0, loc)
	source := &fakeSource{contract: "A1", failDays: map[string]bool{"2024-03-13": true}}

	db := &storagemock.MockDatabase{}
	db.On("GetLatestConsumptionTime", mock.Anything, "agbar:A1").Return(time.Time{}, errors.New("unavailable"))
	db.On("UpsertConsumptions", mock.Anything, "agbar:A1", mock.Anything).Return(nil).Times(2)
	db.On("UpsertInvoices", mock.Anything, "agbar:A1", mock.Anything).Return(nil)
	db.On("SetSyncState", mock.Anything, "agbar:A1", mock.MatchedBy(func(s types.SyncState) bool {
		return s.Consumptions == 2 && s.LastError != ""
	})).Return(nil)

	state, err := newTestSyncer(source, db, 48*time.Hour, now).Sync(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, aigues.ErrServer)
	assert.Contains(t, state.LastError, "2024-03-13")
	assert.Len(t, source.queries, 3, "a failed day should not stop the sync")
	db.AssertExpectations(t)
}

func TestSyncResolveFailure(t *testing.T) {
	source := &fakeSource{resolveErr: aigues.ErrAmbiguousContract}
	db := &storagemock.MockDatabase{}

	_, err := New(source, db, time.Hour).Sync(context.Background(), "")
	assert.ErrorIs(t, err, aigues.ErrAmbiguousContract)
	db.AssertExpectations(t)
	assert.Empty(t, source.queries)
}

func TestRunDisabled(t *testing.T) {
	db := &storagemock.MockDatabase{}
	s := New(&fakeSource{contract: "A1"}, db, time.Hour)
	// returns without syncing when no interval is configured
	s.Run(context.Background())
	db.AssertExpectations(t)
}
