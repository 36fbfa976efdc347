package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aiguesbcn/aigues/pkg/aigues"
	"github.com/aiguesbcn/aigues/pkg/log"
	"github.com/aiguesbcn/aigues/pkg/types"

	"github.com/levenlabs/go-lflag"
)

// fetcher is the part of the client a one-shot fetch uses.
type fetcher interface {
	Profile(ctx context.Context, user string) (types.Profile, bool, error)
	Contracts(ctx context.Context, q aigues.ContractsQuery) ([]types.Contract, error)
	FirstContract(ctx context.Context) (string, error)
	Invoices(ctx context.Context, q aigues.InvoicesQuery) ([]types.Invoice, error)
	Consumptions(ctx context.Context, q aigues.ConsumptionsQuery) ([]types.ConsumptionSample, error)
	ConsumptionsWeek(ctx context.Context, ref time.Time, contract, user string) ([]types.ConsumptionSample, error)
	ConsumptionsMonth(ctx context.Context, ref time.Time, contract, user string) ([]types.ConsumptionSample, error)
	LastResponse() []byte
}

type options struct {
	operation  string
	from       string
	to         string
	frequency  string
	mode       string
	lastMonths int
}

func parseDay(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, v, aigues.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %w", name, err)
	}
	return t, nil
}

// run performs one operation and writes its JSON to w.
func run(ctx context.Context, c fetcher, opts options, w io.Writer) error {
	from, err := parseDay("fetch-from", opts.from)
	if err != nil {
		return err
	}
	to, err := parseDay("fetch-to", opts.to)
	if err != nil {
		return err
	}

	var out any
	switch strings.ToLower(opts.operation) {
	case "profile":
		p, ok, err := c.Profile(ctx, "")
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("profile not available for this provider")
		}
		out = p
	case "contracts":
		out, err = c.Contracts(ctx, aigues.ContractsQuery{})
	case "first-contract":
		out, err = c.FirstContract(ctx)
	case "invoices":
		if opts.lastMonths < 0 {
			return fmt.Errorf("fetch-last-months must not be negative: %d", opts.lastMonths)
		}
		out, err = c.Invoices(ctx, aigues.InvoicesQuery{
			LastMonths: opts.lastMonths,
			Mode:       types.InvoiceMode(strings.ToUpper(opts.mode)),
		})
	case "consumptions":
		if from.IsZero() {
			return fmt.Errorf("fetch-from is required for consumptions")
		}
		out, err = c.Consumptions(ctx, aigues.ConsumptionsQuery{
			From:      from,
			To:        to,
			Frequency: types.Frequency(strings.ToUpper(opts.frequency)),
		})
	case "week":
		out, err = c.ConsumptionsWeek(ctx, from, "", "")
	case "month":
		out, err = c.ConsumptionsMonth(ctx, from, "", "")
	default:
		return fmt.Errorf("unknown operation: %s", opts.operation)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func main() {
	c := aigues.Configured()

	var opts options
	operation := lflag.String("fetch-operation", "contracts", "Operation to run (profile, contracts, first-contract, invoices, consumptions, week, month)")
	from := lflag.String("fetch-from", "", "Start day (YYYY-MM-DD) for consumptions, reference day for week and month")
	to := lflag.String("fetch-to", "", "End day (YYYY-MM-DD) for consumptions, defaults to the day after fetch-from")
	frequency := lflag.String("fetch-frequency", string(types.FrequencyHourly), "Consumption frequency (HOURLY, DAILY)")
	mode := lflag.String("fetch-mode", string(types.InvoiceModeAll), "Invoice mode (ALL, DEBT)")
	lastMonths := lflag.Int("fetch-last-months", 0, "Invoice window in months (0 uses the provider default)")
	lflag.Do(func() {
		opts = options{
			operation:  *operation,
			from:       *from,
			to:         *to,
			frequency:  *frequency,
			mode:       *mode,
			lastMonths: *lastMonths,
		}
	})

	lflag.Configure()

	if _, err := log.ConfigureFromFlags(); err != nil {
		panic(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, c, opts, os.Stdout); err != nil {
		log.Ctx(ctx).ErrorContext(
			ctx,
			"fetch failed",
			slog.String("operation", opts.operation),
			slog.Any("error", err),
			slog.String("lastResponse", string(c.LastResponse())),
		)
		os.Exit(1)
	}
}
