package aigues

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/aiguesbcn/aigues/pkg/common"
	"github.com/aiguesbcn/aigues/pkg/log"
	"github.com/aiguesbcn/aigues/pkg/types"
)

const (
	soreaPortalPath = "es/group/soreaonline"
	soreaDateLayout = "02/01/2006"
)

// sorea implements Driver for the secondary provider. It has no REST api, only
// the portlet resource calls its web portal makes, authenticated by a
// JSESSIONID obtained out of band.
type sorea struct {
	d       *dispatcher
	session *Session
}

func newSorea(session *Session) *sorea {
	h := http.Header{}
	h.Set("User-Agent", common.UserAgent())
	h.Set("Accept", "*/*")
	h.Set("X-Requested-With", "XMLHttpRequest")
	return &sorea{
		d:       &dispatcher{session: session, headers: h},
		session: session,
	}
}

func (s *sorea) Login(ctx context.Context, creds Credentials) (string, error) {
	return "", ErrLoginUnsupported
}

func (s *sorea) Authenticated(ctx context.Context) bool {
	return s.session.SessionCookie() != ""
}

func (s *sorea) RequiresContract() bool {
	return false
}

func (s *sorea) Profile(ctx context.Context, user string) (types.Profile, bool, error) {
	log.Ctx(ctx).DebugContext(ctx, "profile is not available for sorea")
	return types.Profile{}, false, nil
}

// portlet calls one portlet resource. Every op param is namespaced with the
// portlet id the way the portal's javascript does.
func (s *sorea) portlet(ctx context.Context, page, portletID string, op map[string]string) (*response, error) {
	params := url.Values{}
	params.Set("p_p_id", portletID)
	params.Set("p_p_lifecycle", "2")
	params.Set("p_p_state", "normal")
	params.Set("p_p_mode", "view")
	params.Set("p_p_cacheability", "cacheLevelPage")
	for k, v := range op {
		params.Set("_"+portletID+"_"+k, v)
	}
	return s.d.query(ctx, http.MethodGet, soreaPortalPath+"/"+page, params, nil, nil)
}

// fragment decodes field out of the portlet response. ok is false when the
// response isn't the expected JSON; the caller then returns no result.
func (s *sorea) fragment(ctx context.Context, res *response, field string) ([]json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := res.decode(&obj); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode sorea response", slog.String("field", field), slog.Any("error", err))
		return nil, false
	}
	raw, ok := obj[field]
	if !ok {
		return nil, true
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "sorea field is not a list", slog.String("field", field), slog.Any("error", err))
		return nil, false
	}
	return list, true
}

func (s *sorea) Contracts(ctx context.Context, q ContractsQuery) ([]types.Contract, error) {
	res, err := s.portlet(ctx, "mis-contratos", "ContractDetails", map[string]string{
		"op":     "loadContratos",
		"offset": "0",
		"limit":  "10",
	})
	if err != nil {
		return nil, err
	}
	list, ok := s.fragment(ctx, res, "contractToShow")
	if !ok {
		return nil, nil
	}

	contracts := make([]types.Contract, 0, len(list))
	for _, raw := range list {
		var fields map[string]json.RawMessage
		var detail map[string]any
		if json.Unmarshal(raw, &fields) != nil || json.Unmarshal(raw, &detail) != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to decode sorea contract", slog.String("raw", string(raw)))
			return nil, nil
		}
		id := firstString(fields, "numeroContrato", "contrato", "contractNumber", "numContrato", "id")
		if id == "" {
			log.Ctx(ctx).WarnContext(ctx, "sorea contract without number", slog.String("raw", string(raw)))
			continue
		}
		contracts = append(contracts, types.Contract{
			ID:     id,
			Status: types.AssignationStatus(strings.ToUpper(firstString(fields, "estado", "assignationStatus"))),
			Detail: detail,
			Raw:    raw,
		})
	}
	log.Ctx(ctx).DebugContext(ctx, "got sorea contracts", slog.Int("count", len(contracts)))
	return uniqueContracts(ctx, contracts), nil
}

func (s *sorea) Invoices(ctx context.Context, q InvoicesQuery) ([]types.Invoice, error) {
	// the portal has no debt listing, so debt is the default window filtered
	// down to unpaid invoices
	lastMonths := q.LastMonths
	if q.Mode == types.InvoiceModeDebt || lastMonths <= 0 {
		lastMonths = defaultLastMonths
	}
	res, err := s.portlet(ctx, "mis-facturas", "MisFacturas", map[string]string{
		"op":                        "loadFacturas",
		"numeroContrato":            q.Contract,
		"inicio":                    "0",
		"fin":                       strconv.Itoa(lastMonths - 1),
		"numeroFacturaBusqueda":     "",
		"estadoBusqueda":            "",
		"fechaEmisionDesdeBusqueda": "",
		"fechaEmisionHastaBusqueda": "",
		"importeDesdeBusqueda":      "",
		"importeHastaBusqueda":      "",
		"12-gotas":                  "false",
	})
	if err != nil {
		return nil, err
	}
	list, ok := s.fragment(ctx, res, "facturas")
	if !ok {
		return nil, nil
	}

	invoices := make([]types.Invoice, 0, len(list))
	for _, raw := range list {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to decode sorea invoice", slog.Any("error", err))
			return nil, nil
		}
		amountStr := firstString(fields, "importe", "importeTotal")
		var amount float64
		if amountStr != "" {
			amount, err = ParseDecimal(amountStr)
			if err != nil {
				log.Ctx(ctx).WarnContext(ctx, "failed to parse sorea invoice amount", slog.String("amount", amountStr), slog.Any("error", err))
				return nil, nil
			}
		}
		issued := DecodeTimestamp(firstString(fields, "fechaEmision", "fechaFactura"))
		if !issued.Parsed && issued.Raw != "" {
			log.Ctx(ctx).WarnContext(ctx, "failed to parse sorea invoice date", slog.String("date", issued.Raw))
		}
		contract := firstString(fields, "numeroContrato", "contrato")
		if contract == "" {
			contract = q.Contract
		}
		invoices = append(invoices, types.Invoice{
			Number:     firstString(fields, "numeroFactura", "factura"),
			ContractID: contract,
			Amount:     amount,
			IssueDate:  issued.Time,
			Status:     firstString(fields, "estado"),
			Raw:        raw,
		})
	}
	if q.Mode == types.InvoiceModeDebt {
		invoices = unpaid(invoices)
	}
	log.Ctx(ctx).DebugContext(ctx, "got sorea invoices", slog.Int("count", len(invoices)))
	return invoices, nil
}

type soreaConsumption struct {
	Lectura      json.RawMessage `json:"lectura"`
	Consumo      json.RawMessage `json:"consumo"`
	FechaConsumo string          `json:"fechaConsumo"`
	HoraConsumo  string          `json:"horaConsumo"`
}

// decimalField parses a number that may be missing, a JSON number or a comma
// decimal string. Missing is zero.
func decimalField(raw json.RawMessage) (float64, error) {
	s := rawString(raw)
	if s == "" {
		return 0, nil
	}
	return ParseDecimal(s)
}

func (s *sorea) Consumptions(ctx context.Context, q ConsumptionsQuery) ([]types.ConsumptionSample, error) {
	to := q.To
	if to.IsZero() {
		to = q.From.AddDate(0, 0, 1)
	}
	if q.Frequency == types.FrequencyDaily {
		// the portal only offers the hourly search
		log.Ctx(ctx).DebugContext(ctx, "sorea returns hourly readings for daily requests")
	}
	res, err := s.portlet(ctx, "mis-consumos", "MisConsumos", map[string]string{
		"op":          "buscarConsumosHoraria",
		"fechaInicio": q.From.Format(soreaDateLayout),
		"fechaFin":    to.Format(soreaDateLayout),
		"inicio":      "0",
		"fin":         "9",
	})
	if err != nil {
		return nil, err
	}
	list, ok := s.fragment(ctx, res, "consumos")
	if !ok {
		return nil, nil
	}

	samples := make([]types.ConsumptionSample, 0, len(list))
	for _, raw := range list {
		var c soreaConsumption
		if err := json.Unmarshal(raw, &c); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to decode sorea consumption", slog.Any("error", err))
			return nil, nil
		}
		sample, err := normalizeSoreaConsumption(c, raw)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to parse sorea consumption", slog.String("raw", string(raw)), slog.Any("error", err))
			return nil, nil
		}
		samples = append(samples, sample)
	}
	sortSamples(ctx, samples)
	log.Ctx(ctx).DebugContext(ctx, "got sorea consumptions", slog.Int("count", len(samples)))
	return samples, nil
}

// normalizeSoreaConsumption converts a portlet reading into a sample. Numbers
// must parse; an unparseable date/time falls back to the raw text.
func normalizeSoreaConsumption(c soreaConsumption, raw json.RawMessage) (types.ConsumptionSample, error) {
	lectura, err := decimalField(c.Lectura)
	if err != nil {
		return types.ConsumptionSample{}, err
	}
	consumo, err := decimalField(c.Consumo)
	if err != nil {
		return types.ConsumptionSample{}, err
	}
	dt := DecodeDateTime(c.FechaConsumo, c.HoraConsumo)
	return types.ConsumptionSample{
		AccumulatedConsumption: lectura,
		Consumption:            consumo,
		Datetime:               dt.String(),
		Time:                   dt.Time,
		Raw:                    raw,
	}, nil
}
