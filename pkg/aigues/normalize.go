package aigues

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aiguesbcn/aigues/pkg/log"
	"github.com/aiguesbcn/aigues/pkg/types"
)

// ParseDecimal parses numbers written with a comma decimal separator, as the
// secondary provider does ("12,5"). When both separators appear the period is
// taken as a thousands separator ("1.234,5").
func ParseDecimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") {
		if strings.Contains(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
		}
		s = strings.ReplaceAll(s, ",", ".")
	}
	return strconv.ParseFloat(s, 64)
}

// decimal accepts JSON numbers as well as strings holding locale decimals.
type decimal float64

func (d *decimal) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			*d = 0
			return nil
		}
		f, err := ParseDecimal(s)
		if err != nil {
			return fmt.Errorf("invalid decimal %q: %w", s, err)
		}
		*d = decimal(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*d = decimal(f)
	return nil
}

// DecodedTime is the result of a best-effort date decode: either a parsed time
// or the raw text that could not be parsed.
type DecodedTime struct {
	Time   time.Time
	Raw    string
	Parsed bool
}

// String returns the ISO-8601 form when parsed and the raw text otherwise.
func (d DecodedTime) String() string {
	if d.Parsed {
		return d.Time.Format(time.RFC3339)
	}
	return d.Raw
}

// the secondary provider writes "01 ene 2024" on the spanish and catalan portals
var localMonths = map[string]string{
	"ene": "Jan", "gen": "Jan",
	"feb": "Feb", "febr": "Feb",
	"mar": "Mar", "març": "Mar",
	"abr": "Apr",
	"may": "May", "maig": "May",
	"jun": "Jun", "juny": "Jun",
	"jul": "Jul", "jol": "Jul",
	"ago": "Aug", "ag": "Aug",
	"sep": "Sep", "sept": "Sep", "set": "Sep",
	"oct": "Oct", "oc": "Oct",
	"nov": "Nov",
	"dic": "Dec", "des": "Dec",
}

const soreaDateTimeLayout = "02 Jan 2006 15:04"

// DecodeDateTime combines the split date and time fields of a secondary
// provider reading. It never fails: unparseable input is returned as Raw.
func DecodeDateTime(date, clock string) DecodedTime {
	raw := date + " " + clock
	fields := strings.Fields(raw)
	if len(fields) == 4 {
		month := strings.TrimSuffix(strings.ToLower(fields[1]), ".")
		if en, ok := localMonths[month]; ok {
			fields[1] = en
		}
		if len(fields[0]) == 1 {
			fields[0] = "0" + fields[0]
		}
	}
	t, err := time.ParseInLocation(soreaDateTimeLayout, strings.Join(fields, " "), madridLocation)
	if err != nil {
		return DecodedTime{Raw: raw}
	}
	return DecodedTime{Time: t, Raw: raw, Parsed: true}
}

var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006",
	"02-01-2006",
}

// DecodeTimestamp parses the single field timestamps used by the standard
// provider. Times without a zone are taken as Madrid local time.
func DecodeTimestamp(s string) DecodedTime {
	s = strings.TrimSpace(s)
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, madridLocation); err == nil {
			return DecodedTime{Time: t, Raw: s, Parsed: true}
		}
	}
	return DecodedTime{Raw: s}
}

// sortSamples keeps a series in non-decreasing time order. A series with any
// unparsed timestamp is left as the provider returned it.
func sortSamples(ctx context.Context, samples []types.ConsumptionSample) {
	for _, s := range samples {
		if s.Time.IsZero() {
			log.Ctx(ctx).WarnContext(ctx, "consumption series has unparsed timestamps, not sorting", slog.String("datetime", s.Datetime))
			return
		}
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Time.Before(samples[j].Time)
	})
}

// uniqueContracts drops repeated contract ids, keeping the first occurrence.
func uniqueContracts(ctx context.Context, contracts []types.Contract) []types.Contract {
	seen := make(map[string]bool, len(contracts))
	out := contracts[:0]
	for _, c := range contracts {
		if seen[c.ID] {
			log.Ctx(ctx).WarnContext(ctx, "dropping duplicate contract", slog.String("contract", c.ID))
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

// ParseConsumptions extracts one numeric field across samples. key is either
// "accumulatedConsumption" or "consumption".
func ParseConsumptions(samples []types.ConsumptionSample, key string) ([]float64, error) {
	var get func(types.ConsumptionSample) float64
	switch key {
	case "", "accumulatedConsumption":
		get = func(s types.ConsumptionSample) float64 { return s.AccumulatedConsumption }
	case "consumption":
		get = func(s types.ConsumptionSample) float64 { return s.Consumption }
	default:
		return nil, fmt.Errorf("unknown consumption field: %s", key)
	}
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = get(s)
	}
	return out, nil
}
