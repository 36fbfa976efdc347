package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aiguesbcn/aigues/pkg/aigues"
	"github.com/aiguesbcn/aigues/pkg/types"
)

// parseDate reads a YYYY-MM-DD query param in the providers' time zone. A
// missing param returns the zero time.
func parseDate(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, v, aigues.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %w", name, err)
	}
	return t, nil
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, types.Providers())
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	profile, ok, err := s.client.Profile(r.Context(), r.URL.Query().Get("user"))
	if err != nil {
		writeClientError(w, r, "failed to get profile", err)
		return
	}
	if !ok {
		writeJSONError(w, fmt.Sprintf("profile not available for %s", s.client.Provider()), http.StatusNotFound)
		return
	}
	writeJSON(w, profile)
}

func (s *Server) handleContracts(w http.ResponseWriter, r *http.Request) {
	q := aigues.ContractsQuery{User: r.URL.Query().Get("user")}
	if v := r.URL.Query().Get("status"); v != "" {
		for _, st := range strings.Split(v, ",") {
			q.Statuses = append(q.Statuses, types.AssignationStatus(strings.ToUpper(strings.TrimSpace(st))))
		}
	}
	contracts, err := s.client.Contracts(r.Context(), q)
	if err != nil {
		writeClientError(w, r, "failed to get contracts", err)
		return
	}
	if contracts == nil {
		contracts = []types.Contract{}
	}
	writeJSON(w, contracts)
}

func (s *Server) handleInvoices(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := aigues.InvoicesQuery{
		Contract: query.Get("contract"),
		User:     query.Get("user"),
		Mode:     types.InvoiceMode(strings.ToUpper(query.Get("mode"))),
	}
	switch q.Mode {
	case "", types.InvoiceModeAll, types.InvoiceModeDebt:
	default:
		writeJSONError(w, "invalid mode: "+string(q.Mode), http.StatusBadRequest)
		return
	}
	if v := query.Get("lastMonths"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, "invalid lastMonths: "+v, http.StatusBadRequest)
			return
		}
		q.LastMonths = n
	}

	invoices, err := s.client.Invoices(r.Context(), q)
	if err != nil {
		writeClientError(w, r, "failed to get invoices", err)
		return
	}
	if invoices == nil {
		invoices = []types.Invoice{}
	}
	writeJSON(w, invoices)
}

func (s *Server) handleConsumptions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	from, err := parseDate(r, "from")
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if from.IsZero() {
		writeJSONError(w, "missing from", http.StatusBadRequest)
		return
	}
	to, err := parseDate(r, "to")
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !to.IsZero() && to.Before(from) {
		writeJSONError(w, "to must not be before from", http.StatusBadRequest)
		return
	}
	freq := types.Frequency(strings.ToUpper(query.Get("frequency")))
	switch freq {
	case "", types.FrequencyHourly, types.FrequencyDaily:
	default:
		writeJSONError(w, "invalid frequency: "+string(freq), http.StatusBadRequest)
		return
	}

	samples, err := s.client.Consumptions(r.Context(), aigues.ConsumptionsQuery{
		From:      from,
		To:        to,
		Contract:  query.Get("contract"),
		User:      query.Get("user"),
		Frequency: freq,
	})
	if err != nil {
		writeClientError(w, r, "failed to get consumptions", err)
		return
	}
	writeSamples(w, samples)
}

func (s *Server) handleConsumptionsWeek(w http.ResponseWriter, r *http.Request) {
	s.handleConsumptionsRange(w, r, s.client.ConsumptionsWeek)
}

func (s *Server) handleConsumptionsMonth(w http.ResponseWriter, r *http.Request) {
	s.handleConsumptionsRange(w, r, s.client.ConsumptionsMonth)
}

type rangeFunc func(ctx context.Context, ref time.Time, contract, user string) ([]types.ConsumptionSample, error)

func (s *Server) handleConsumptionsRange(w http.ResponseWriter, r *http.Request, fn rangeFunc) {
	ref, err := parseDate(r, "date")
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	samples, err := fn(r.Context(), ref, r.URL.Query().Get("contract"), r.URL.Query().Get("user"))
	if err != nil {
		writeClientError(w, r, "failed to get consumptions", err)
		return
	}
	writeSamples(w, samples)
}

func writeSamples(w http.ResponseWriter, samples []types.ConsumptionSample) {
	if samples == nil {
		samples = []types.ConsumptionSample{}
	}
	writeJSON(w, samples)
}
