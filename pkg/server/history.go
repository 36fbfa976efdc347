package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aiguesbcn/aigues/pkg/aigues"
	"github.com/aiguesbcn/aigues/pkg/log"
	"github.com/aiguesbcn/aigues/pkg/types"
)

// maxHistoryRange bounds a single history query.
const maxHistoryRange = 31 * 24 * time.Hour

func (s *Server) handleHistoryConsumptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSONError(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}

	account, _, err := s.syncer.Account(ctx, r.URL.Query().Get("contract"))
	if err != nil {
		writeClientError(w, r, "failed to resolve contract", err)
		return
	}

	samples, err := s.storage.GetConsumptionHistory(ctx, account, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get consumption history", slog.String("account", account), slog.Any("error", err))
		writeJSONError(w, "failed to get consumption history", http.StatusInternalServerError)
		return
	}

	// ranges that end before local midnight are complete
	now := time.Now().In(aigues.Location())
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if end.Before(today) {
		w.Header().Set("Cache-Control", "private, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=60")
	}
	writeSamples(w, samples)
}

func (s *Server) handleHistoryInvoices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, _, err := s.syncer.Account(ctx, r.URL.Query().Get("contract"))
	if err != nil {
		writeClientError(w, r, "failed to resolve contract", err)
		return
	}

	invoices, err := s.storage.GetInvoices(ctx, account)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get invoice history", slog.String("account", account), slog.Any("error", err))
		writeJSONError(w, "failed to get invoice history", http.StatusInternalServerError)
		return
	}
	if invoices == nil {
		invoices = []types.Invoice{}
	}
	w.Header().Set("Cache-Control", "private, max-age=60")
	writeJSON(w, invoices)
}

// parseTimeParam accepts RFC3339 or a YYYY-MM-DD day, which starts at local
// midnight.
func parseTimeParam(v string) (time.Time, error) {
	if t, err := time.ParseInLocation(time.DateOnly, v, aigues.Location()); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

// parseTimeRange reads the [start, end) range of a history query.
func parseTimeRange(r *http.Request) (time.Time, time.Time, error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" || endStr == "" {
		// Default to last 24 hours if not specified
		end := time.Now()
		start := end.Add(-24 * time.Hour)
		return start, end, nil
	}

	start, err := parseTimeParam(startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start time: %w", err)
	}

	end, err := parseTimeParam(endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end time: %w", err)
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("start time must be before end time")
	}

	if end.Sub(start) > maxHistoryRange {
		return time.Time{}, time.Time{}, fmt.Errorf("time range cannot exceed 31 days")
	}

	return start, end, nil
}
