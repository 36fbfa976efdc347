package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aiguesbcn/aigues/pkg/aigues"
	"github.com/aiguesbcn/aigues/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	consumptions aigues.ConsumptionsQuery
	weekRef      time.Time
}

func (f *fakeFetcher) Profile(ctx context.Context, user string) (types.Profile, bool, error) {
	return types.Profile{}, false, nil
}

func (f *fakeFetcher) Contracts(ctx context.Context, q aigues.ContractsQuery) ([]types.Contract, error) {
	return []types.Contract{{ID: "A1"}}, nil
}

func (f *fakeFetcher) FirstContract(ctx context.Context) (string, error) {
	return "", aigues.ErrAmbiguousContract
}

func (f *fakeFetcher) Invoices(ctx context.Context, q aigues.InvoicesQuery) ([]types.Invoice, error) {
	if q.Mode != types.InvoiceModeDebt {
		return nil, nil
	}
	return []types.Invoice{{Number: "F2", Status: "PENDING"}}, nil
}

func (f *fakeFetcher) Consumptions(ctx context.Context, q aigues.ConsumptionsQuery) ([]types.ConsumptionSample, error) {
	f.consumptions = q
	return []types.ConsumptionSample{{Datetime: "2024-01-01T13:00:00+01:00", Consumption: 12.5}}, nil
}

func (f *fakeFetcher) ConsumptionsWeek(ctx context.Context, ref time.Time, contract, user string) ([]types.ConsumptionSample, error) {
	f.weekRef = ref
	return nil, nil
}

func (f *fakeFetcher) ConsumptionsMonth(ctx context.Context, ref time.Time, contract, user string) ([]types.ConsumptionSample, error) {
	return nil, nil
}

func (f *fakeFetcher) LastResponse() []byte {
	return nil
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("Contracts", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, run(ctx, &fakeFetcher{}, options{operation: "contracts"}, &buf))
		var contracts []types.Contract
		require.NoError(t, json.Unmarshal(buf.Bytes(), &contracts))
		assert.Equal(t, "A1", contracts[0].ID)
	})

	t.Run("Debt", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, run(ctx, &fakeFetcher{}, options{operation: "invoices", mode: "debt"}, &buf))
		assert.Contains(t, buf.String(), `"number": "F2"`)
	})

	t.Run("Consumptions", func(t *testing.T) {
		var buf bytes.Buffer
		f := &fakeFetcher{}
		require.NoError(t, run(ctx, f, options{operation: "consumptions", from: "2024-01-01", frequency: "daily"}, &buf))
		assert.Equal(t, "2024-01-01", f.consumptions.From.Format(time.DateOnly))
		assert.True(t, f.consumptions.To.IsZero())
		assert.Equal(t, types.FrequencyDaily, f.consumptions.Frequency)
		assert.Contains(t, buf.String(), "2024-01-01T13:00:00+01:00")
	})

	t.Run("Week", func(t *testing.T) {
		f := &fakeFetcher{}
		require.NoError(t, run(ctx, f, options{operation: "week", from: "2024-03-14"}, &bytes.Buffer{}))
		assert.Equal(t, "2024-03-14", f.weekRef.Format(time.DateOnly))
	})

	t.Run("Errors", func(t *testing.T) {
		assert.ErrorIs(t, run(ctx, &fakeFetcher{}, options{operation: "first-contract"}, &bytes.Buffer{}), aigues.ErrAmbiguousContract)
		assert.Error(t, run(ctx, &fakeFetcher{}, options{operation: "profile"}, &bytes.Buffer{}))
		assert.Error(t, run(ctx, &fakeFetcher{}, options{operation: "consumptions"}, &bytes.Buffer{}))
		assert.Error(t, run(ctx, &fakeFetcher{}, options{operation: "week", from: "14/03/2024"}, &bytes.Buffer{}))
		assert.Error(t, run(ctx, &fakeFetcher{}, options{operation: "delete"}, &bytes.Buffer{}))
		assert.Error(t, run(ctx, &fakeFetcher{}, options{operation: "invoices", lastMonths: -1}, &bytes.Buffer{}))
	})
}
