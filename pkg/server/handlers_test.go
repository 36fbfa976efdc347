package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/aiguesbcn/aigues/pkg/aigues"
	"github.com/aiguesbcn/aigues/pkg/storage/storagemock"
	"github.com/aiguesbcn/aigues/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestHandleProviders(t *testing.T) {
	w := serve(t, newTestServer(&mockClient{}, &storagemock.MockDatabase{}), http.MethodGet, "/api/providers")
	require.Equal(t, http.StatusOK, w.Code)
	var providers []types.ProviderInfo
	require.NoError(t, json.NewDecoder(w.Body).Decode(&providers))
	require.Len(t, providers, 2)
	assert.Equal(t, types.ProviderAgbar, providers[0].ID)
	assert.Equal(t, types.ProviderSorea, providers[1].ID)
	require.NotEmpty(t, providers[1].Credentials)
	assert.Equal(t, "sessionCookie", providers[1].Credentials[0].Field)
	assert.True(t, providers[1].Credentials[0].Required)
}

func TestHandleProfile(t *testing.T) {
	c := &mockClient{}
	c.On("Profile", mock.Anything, "u1").Return(types.Profile{UserData: map[string]any{"name": "Jordi"}}, true, nil).Once()
	c.On("Profile", mock.Anything, "").Return(types.Profile{}, false, nil).Once()
	srv := newTestServer(c, &storagemock.MockDatabase{})

	w := serve(t, srv, http.MethodGet, "/api/profile?user=u1")
	require.Equal(t, http.StatusOK, w.Code)
	var p types.Profile
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	assert.Equal(t, "Jordi", p.UserData["name"])

	w = serve(t, srv, http.MethodGet, "/api/profile")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decodeError(t, w), "agbar")
	c.AssertExpectations(t)
}

func TestHandleContracts(t *testing.T) {
	c := &mockClient{}
	c.On("Contracts", mock.Anything, aigues.ContractsQuery{
		Statuses: []types.AssignationStatus{types.AssignationAssigned, types.AssignationRejected},
	}).Return([]types.Contract{{ID: "A1", Status: types.AssignationAssigned}}, nil).Once()
	c.On("Contracts", mock.Anything, aigues.ContractsQuery{}).Return(nil, nil).Once()
	srv := newTestServer(c, &storagemock.MockDatabase{})

	w := serve(t, srv, http.MethodGet, "/api/contracts?status=assigned,%20rejected")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var contracts []types.Contract
	require.NoError(t, json.NewDecoder(w.Body).Decode(&contracts))
	require.Len(t, contracts, 1)
	assert.Equal(t, "A1", contracts[0].ID)

	w = serve(t, srv, http.MethodGet, "/api/contracts")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
	c.AssertExpectations(t)
}

func TestHandleInvoices(t *testing.T) {
	c := &mockClient{}
	c.On("Invoices", mock.Anything, aigues.InvoicesQuery{Contract: "A1", Mode: types.InvoiceModeDebt}).
		Return([]types.Invoice{{Number: "F2", Amount: 30.1, Status: "PENDING"}}, nil).Once()
	c.On("Invoices", mock.Anything, aigues.InvoicesQuery{LastMonths: 12}).
		Return(nil, fmt.Errorf("%w: found 2 contracts", aigues.ErrAmbiguousContract)).Once()
	srv := newTestServer(c, &storagemock.MockDatabase{})

	t.Run("Debt", func(t *testing.T) {
		w := serve(t, srv, http.MethodGet, "/api/invoices?contract=A1&mode=debt")
		require.Equal(t, http.StatusOK, w.Code)
		var invoices []types.Invoice
		require.NoError(t, json.NewDecoder(w.Body).Decode(&invoices))
		require.Len(t, invoices, 1)
		assert.Equal(t, "F2", invoices[0].Number)
	})

	t.Run("Ambiguous", func(t *testing.T) {
		w := serve(t, srv, http.MethodGet, "/api/invoices?lastMonths=12")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeError(t, w), "found 2 contracts")
	})

	t.Run("BadMode", func(t *testing.T) {
		w := serve(t, srv, http.MethodGet, "/api/invoices?mode=some")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("BadLastMonths", func(t *testing.T) {
		w := serve(t, srv, http.MethodGet, "/api/invoices?lastMonths=-1")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	c.AssertExpectations(t)
}

func TestHandleConsumptions(t *testing.T) {
	loc := aigues.Location()
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, loc)
	sample := types.ConsumptionSample{Datetime: "2024-01-01T13:00:00+01:00", AccumulatedConsumption: 123.5, Consumption: 12.5}

	c := &mockClient{}
	c.On("Consumptions", mock.Anything, mock.MatchedBy(func(q aigues.ConsumptionsQuery) bool {
		return q.From.Equal(from) && q.To.IsZero() && q.Frequency == types.FrequencyHourly && q.Contract == "A1"
	})).Return([]types.ConsumptionSample{sample}, nil).Once()
	c.On("Consumptions", mock.Anything, mock.MatchedBy(func(q aigues.ConsumptionsQuery) bool {
		return q.Frequency == types.FrequencyDaily
	})).Return(nil, fmt.Errorf("query: %w", aigues.ErrServer)).Once()
	srv := newTestServer(c, &storagemock.MockDatabase{})

	t.Run("Hourly", func(t *testing.T) {
		w := serve(t, srv, http.MethodGet, "/api/consumptions?from=2024-01-01&frequency=hourly&contract=A1")
		require.Equal(t, http.StatusOK, w.Code)
		var samples []types.ConsumptionSample
		require.NoError(t, json.NewDecoder(w.Body).Decode(&samples))
		require.Len(t, samples, 1)
		assert.Equal(t, sample.Datetime, samples[0].Datetime)
		assert.Equal(t, 12.5, samples[0].Consumption)
	})

	t.Run("ProviderFailure", func(t *testing.T) {
		w := serve(t, srv, http.MethodGet, "/api/consumptions?from=2024-01-01&to=2024-01-07&frequency=DAILY")
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})

	for name, q := range map[string]string{
		"MissingFrom":  "",
		"BadFrom":      "from=01/01/2024",
		"BadTo":        "from=2024-01-01&to=x",
		"Reversed":     "from=2024-01-07&to=2024-01-01",
		"BadFrequency": "from=2024-01-01&frequency=weekly",
	} {
		t.Run(name, func(t *testing.T) {
			w := serve(t, srv, http.MethodGet, "/api/consumptions?"+q)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	c.AssertExpectations(t)
}

func TestHandleConsumptionsRanges(t *testing.T) {
	loc := aigues.Location()
	ref := time.Date(2024, 3, 14, 0, 0, 0, 0, loc)

	c := &mockClient{}
	c.On("ConsumptionsWeek", mock.Anything, mock.MatchedBy(ref.Equal), "A1", "").Return([]types.ConsumptionSample{{Datetime: "2024-03-11"}}, nil).Once()
	c.On("ConsumptionsMonth", mock.Anything, time.Time{}, "", "").Return(nil, nil).Once()
	srv := newTestServer(c, &storagemock.MockDatabase{})

	w := serve(t, srv, http.MethodGet, "/api/consumptions/week?date=2024-03-14&contract=A1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "2024-03-11")

	w = serve(t, srv, http.MethodGet, "/api/consumptions/month")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = serve(t, srv, http.MethodGet, "/api/consumptions/week?date=14-03-2024")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c.AssertExpectations(t)
}
