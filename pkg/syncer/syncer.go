package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aiguesbcn/aigues/pkg/aigues"
	"github.com/aiguesbcn/aigues/pkg/log"
	"github.com/aiguesbcn/aigues/pkg/storage"
	"github.com/aiguesbcn/aigues/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// DefaultLookback is how far back a sync reaches for an account with no
// stored consumption.
const DefaultLookback = 72 * time.Hour

// Source is the part of the provider client the syncer needs.
type Source interface {
	Provider() types.ProviderID
	ResolveContract(ctx context.Context, contract string) (string, error)
	Consumptions(ctx context.Context, q aigues.ConsumptionsQuery) ([]types.ConsumptionSample, error)
	Invoices(ctx context.Context, q aigues.InvoicesQuery) ([]types.Invoice, error)
}

// Syncer copies consumption and invoices from the provider into storage.
type Syncer struct {
	source   Source
	storage  storage.Database
	lookback time.Duration
	interval time.Duration

	// now is swapped in tests
	now func() time.Time
}

// New returns a Syncer. A non-positive lookback uses DefaultLookback.
func New(source Source, db storage.Database, lookback time.Duration) *Syncer {
	s := &Syncer{source: source, storage: db, now: time.Now}
	s.setLookback(lookback)
	return s
}

func (s *Syncer) setLookback(lookback time.Duration) {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	s.lookback = lookback
}

// Configured registers the sync flags and returns a Syncer over source and db.
func Configured(source Source, db storage.Database) *Syncer {
	lookback := lflag.Duration("sync-lookback", DefaultLookback, "How far back to sync consumption for an account with no history")
	interval := lflag.Duration("sync-interval", 0, "Sync in the background at this interval (0 disables, use POST /api/sync)")

	s := New(source, db, DefaultLookback)
	lflag.Do(func() {
		s.setLookback(*lookback)
		s.interval = *interval
	})
	return s
}

// Account returns the storage account for contract after resolving it.
func (s *Syncer) Account(ctx context.Context, contract string) (string, string, error) {
	contract, err := s.source.ResolveContract(ctx, contract)
	if err != nil {
		return "", "", err
	}
	return storage.AccountID(s.source.Provider(), contract), contract, nil
}

// Sync fetches consumption day by day since the latest stored sample, or since
// the lookback for a new account, and then all invoices. Failed days are
// logged and skipped; the returned error joins every failure.
func (s *Syncer) Sync(ctx context.Context, contract string) (types.SyncState, error) {
	account, contract, err := s.Account(ctx, contract)
	if err != nil {
		return types.SyncState{}, fmt.Errorf("failed to resolve contract: %w", err)
	}
	ctx = log.WithAttrs(ctx, slog.String("account", account))

	loc := aigues.Location()
	now := s.now().In(loc)
	state := types.SyncState{LastSync: now}
	var errs []error

	latest, err := s.storage.GetLatestConsumptionTime(ctx, account)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to get latest consumption time", slog.Any("error", err))
	}
	back := now.Add(-s.lookback)
	start := time.Date(back.Year(), back.Month(), back.Day(), 0, 0, 0, 0, loc)
	if latest.After(start) {
		// refetch the whole day of the latest sample since it may have been partial
		latest = latest.In(loc)
		start = time.Date(latest.Year(), latest.Month(), latest.Day(), 0, 0, 0, 0, loc)
	}
	log.Ctx(ctx).DebugContext(ctx, "syncing consumption", slog.Time("since", start))

	for day := start; day.Before(now); day = day.AddDate(0, 0, 1) {
		end := day.AddDate(0, 0, 1)
		samples, err := s.source.Consumptions(ctx, aigues.ConsumptionsQuery{
			From:      day,
			To:        end,
			Contract:  contract,
			Frequency: types.FrequencyHourly,
		})
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to get consumption", slog.Any("error", err), slog.Time("day", day))
			errs = append(errs, fmt.Errorf("consumption %s: %w", day.Format(time.DateOnly), err))
			// continue to next day even if this one failed
			continue
		}
		parsed := samples[:0]
		for _, sample := range samples {
			if sample.Time.IsZero() {
				log.Ctx(ctx).WarnContext(ctx, "skipping consumption with unparsed time", slog.String("datetime", sample.Datetime))
				continue
			}
			parsed = append(parsed, sample)
		}
		if len(parsed) == 0 {
			continue
		}
		if err := s.storage.UpsertConsumptions(ctx, account, parsed); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to upsert consumption", slog.Any("error", err))
			errs = append(errs, err)
			continue
		}
		state.Consumptions += len(parsed)
	}

	invoices, err := s.source.Invoices(ctx, aigues.InvoicesQuery{Contract: contract, Mode: types.InvoiceModeAll})
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get invoices", slog.Any("error", err))
		errs = append(errs, fmt.Errorf("invoices: %w", err))
	} else if err := s.storage.UpsertInvoices(ctx, account, invoices); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to upsert invoices", slog.Any("error", err))
		errs = append(errs, err)
	} else {
		state.Invoices = len(invoices)
	}

	err = errors.Join(errs...)
	if err != nil {
		state.LastError = err.Error()
	}
	if serr := s.storage.SetSyncState(ctx, account, state); serr != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to save sync state", slog.Any("error", serr))
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"sync done",
		slog.Int("consumptions", state.Consumptions),
		slog.Int("invoices", state.Invoices),
		slog.Int("errors", len(errs)),
	)
	return state, err
}

// Run syncs the default contract every interval until ctx is done. It returns
// immediately when no interval is configured.
func (s *Syncer) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sync(ctx, ""); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "background sync failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
