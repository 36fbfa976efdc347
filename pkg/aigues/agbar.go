package aigues

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
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
	agbarLoginPath        = "ofex-login-api/auth/getToken"
	agbarProfilePath      = "ofex-login-api/auth/getProfile"
	agbarContractsPath    = "ofex-contracts-api/contracts"
	agbarInvoicesPath     = "ofex-invoices-api/invoices"
	agbarConsumptionsPath = "ofex-water-consumptions-api/meter/consumptions"

	agbarSubscriptionKey      = "3cca6060fee14bffa3450b19941bd954"
	agbarLoginSubscriptionKey = "6a98b8b8c7b243cda682a43f09e6588b;product=portlet-login-ofex"
	agbarLang                 = "ca"
	agbarDateLayout           = "02-01-2006"
)

// agbar implements Driver for the standard provider's REST api.
type agbar struct {
	d       *dispatcher
	session *Session
}

func newAgbar(session *Session) *agbar {
	h := http.Header{}
	h.Set("Ocp-Apim-Subscription-Key", agbarSubscriptionKey)
	h.Set("Ocp-Apim-Trace", "false")
	h.Set("Content-Type", "application/json; charset=UTF-8")
	h.Set("User-Agent", common.UserAgent())
	return &agbar{
		d:       &dispatcher{session: session, headers: h},
		session: session,
	}
}

func (a *agbar) RequiresContract() bool {
	return true
}

func (a *agbar) Authenticated(ctx context.Context) bool {
	return !a.session.IsTokenExpired(ctx)
}

// user defaults to the token subject.
func (a *agbar) user(ctx context.Context, user string) string {
	if user != "" {
		return user
	}
	return a.session.Claims(ctx).Subject()
}

func (a *agbar) userParams(user string) url.Values {
	params := url.Values{}
	params.Set("lang", agbarLang)
	params.Set("userId", user)
	params.Set("clientId", user)
	return params
}

type agbarLoginResult struct {
	ErrorMessage string `json:"errorMessage"`
	AccessToken  string `json:"access_token"`
}

// Login posts the credentials. The operative token arrives as a Set-Cookie and
// lands in the jar; the body's access_token is only returned to the caller.
func (a *agbar) Login(ctx context.Context, creds Credentials) (string, error) {
	if creds.Username == "" {
		return "", fmt.Errorf("%w: missing username", ErrAuthentication)
	}
	if creds.Password == "" {
		return "", fmt.Errorf("%w: missing password", ErrAuthentication)
	}

	params := url.Values{}
	params.Set("lang", agbarLang)
	params.Set("recaptchaClientResponse", creds.Captcha)
	body := map[string]string{
		"scope":                 "ofex",
		"companyIdentification": "",
		"userIdentification":    creds.Username,
		"password":              creds.Password,
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Ocp-Apim-Subscription-Key", agbarLoginSubscriptionKey)

	res, err := a.d.query(ctx, http.MethodPost, agbarLoginPath, params, body, h)
	if err != nil {
		return "", err
	}

	var lr agbarLoginResult
	if err := res.decode(&lr); err != nil {
		return "", err
	}
	if lr.ErrorMessage != "" {
		log.Ctx(ctx).WarnContext(ctx, "agbar login rejected", slog.String("message", lr.ErrorMessage))
		return "", fmt.Errorf("%w: %s", ErrAuthentication, lr.ErrorMessage)
	}
	if lr.AccessToken == "" {
		log.Ctx(ctx).WarnContext(ctx, "agbar login returned no access token")
		return "", fmt.Errorf("%w: access token missing", ErrAuthentication)
	}
	log.Ctx(ctx).DebugContext(ctx, "agbar login success", slog.String("username", creds.Username))
	return lr.AccessToken, nil
}

func (a *agbar) Profile(ctx context.Context, user string) (types.Profile, bool, error) {
	h := http.Header{}
	h.Set("Ocp-Apim-Subscription-Key", agbarLoginSubscriptionKey)

	res, err := a.d.query(ctx, http.MethodPost, agbarProfilePath, a.userParams(a.user(ctx, user)), nil, h)
	if err != nil {
		return types.Profile{}, false, err
	}

	var pr struct {
		UserData map[string]any `json:"user_data"`
	}
	if err := res.decode(&pr); err != nil {
		return types.Profile{}, false, err
	}
	if len(pr.UserData) == 0 {
		return types.Profile{}, false, fmt.Errorf("%w: user data missing", ErrUnexpectedResponse)
	}
	return types.Profile{UserData: pr.UserData, Raw: res.Body}, true, nil
}

func (a *agbar) list(ctx context.Context, path string, params url.Values) ([]json.RawMessage, error) {
	res, err := a.d.query(ctx, http.MethodGet, path, params, nil, nil)
	if err != nil {
		return nil, err
	}
	if bytes.HasPrefix(res.Body, []byte("[")) {
		var bare []json.RawMessage
		if err := res.decode(&bare); err != nil {
			return nil, err
		}
		return bare, nil
	}
	var obj map[string]json.RawMessage
	if err := res.decode(&obj); err != nil {
		return nil, err
	}
	data, ok := obj["data"]
	if !ok {
		// a single result unwrapped by the dispatcher
		return []json.RawMessage{res.Body}, nil
	}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil, nil
	}
	var l []json.RawMessage
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("%w: invalid data list: %w", ErrUnexpectedResponse, err)
	}
	return l, nil
}

type agbarContract struct {
	ContractDetail    map[string]json.RawMessage `json:"contractDetail"`
	AssignationStatus string                     `json:"assignationStatus"`
}

func (a *agbar) Contracts(ctx context.Context, q ContractsQuery) ([]types.Contract, error) {
	statuses := q.Statuses
	if len(statuses) == 0 {
		statuses = types.DefaultAssignationStatuses
	}
	params := a.userParams(a.user(ctx, q.User))
	for i, s := range statuses {
		params.Set("assignationStatus["+strconv.Itoa(i)+"]", strings.ToUpper(string(s)))
	}

	data, err := a.list(ctx, agbarContractsPath, params)
	if err != nil {
		return nil, err
	}

	contracts := make([]types.Contract, 0, len(data))
	for _, raw := range data {
		var ac agbarContract
		if err := json.Unmarshal(raw, &ac); err != nil {
			return nil, fmt.Errorf("%w: invalid contract: %w", ErrUnexpectedResponse, err)
		}
		id := rawString(ac.ContractDetail["contractNumber"])
		if id == "" {
			log.Ctx(ctx).WarnContext(ctx, "agbar contract without number", slog.String("raw", string(raw)))
			continue
		}
		var detail map[string]any
		if err := json.Unmarshal(raw, &struct {
			ContractDetail *map[string]any `json:"contractDetail"`
		}{&detail}); err != nil {
			return nil, fmt.Errorf("%w: invalid contract detail: %w", ErrUnexpectedResponse, err)
		}
		contracts = append(contracts, types.Contract{
			ID:     id,
			Status: types.AssignationStatus(strings.ToUpper(ac.AssignationStatus)),
			Detail: detail,
			Raw:    raw,
		})
	}
	log.Ctx(ctx).DebugContext(ctx, "got agbar contracts", slog.Int("count", len(contracts)))
	return uniqueContracts(ctx, contracts), nil
}

type agbarInvoice struct {
	InvoiceNumber  json.RawMessage `json:"invoiceNumber"`
	ContractNumber json.RawMessage `json:"contractNumber"`
	TotalAmount    decimal         `json:"totalAmount"`
	IssueDate      string          `json:"issueDate"`
	Status         string          `json:"status"`
}

func (a *agbar) Invoices(ctx context.Context, q InvoicesQuery) ([]types.Invoice, error) {
	mode := q.Mode
	if mode == "" {
		mode = types.InvoiceModeAll
	}
	lastMonths := q.LastMonths
	if mode == types.InvoiceModeDebt {
		lastMonths = 0
	} else if lastMonths <= 0 {
		lastMonths = defaultLastMonths
	}

	params := a.userParams(a.user(ctx, q.User))
	params.Set("contractNumber", q.Contract)
	params.Set("lastMonths", strconv.Itoa(lastMonths))
	params.Set("mode", string(mode))

	data, err := a.list(ctx, agbarInvoicesPath, params)
	if err != nil {
		return nil, err
	}

	invoices := make([]types.Invoice, 0, len(data))
	for _, raw := range data {
		var ai agbarInvoice
		if err := json.Unmarshal(raw, &ai); err != nil {
			return nil, fmt.Errorf("%w: invalid invoice: %w", ErrUnexpectedResponse, err)
		}
		issued := DecodeTimestamp(ai.IssueDate)
		if !issued.Parsed && ai.IssueDate != "" {
			log.Ctx(ctx).WarnContext(ctx, "failed to parse agbar invoice date", slog.String("date", ai.IssueDate))
		}
		contract := rawString(ai.ContractNumber)
		if contract == "" {
			contract = q.Contract
		}
		invoices = append(invoices, types.Invoice{
			Number:     rawString(ai.InvoiceNumber),
			ContractID: contract,
			Amount:     float64(ai.TotalAmount),
			IssueDate:  issued.Time,
			Status:     ai.Status,
			Raw:        raw,
		})
	}
	if mode == types.InvoiceModeDebt {
		invoices = unpaid(invoices)
	}
	log.Ctx(ctx).DebugContext(ctx, "got agbar invoices", slog.Int("count", len(invoices)), slog.String("mode", string(mode)))
	return invoices, nil
}

type agbarConsumption struct {
	Datetime               string  `json:"datetime"`
	AccumulatedConsumption decimal `json:"accumulatedConsumption"`
	Consumption            decimal `json:"consumption"`
}

func (a *agbar) Consumptions(ctx context.Context, q ConsumptionsQuery) ([]types.ConsumptionSample, error) {
	freq := q.Frequency
	if freq == "" {
		freq = types.FrequencyHourly
	}
	if freq != types.FrequencyHourly && freq != types.FrequencyDaily {
		return nil, fmt.Errorf("invalid frequency: %s", freq)
	}
	to := q.To
	if to.IsZero() {
		to = q.From.AddDate(0, 0, 1)
	}

	params := a.userParams(a.user(ctx, q.User))
	params.Set("consumptionFrequency", string(freq))
	params.Set("contractNumber", q.Contract)
	params.Set("fromDate", q.From.Format(agbarDateLayout))
	params.Set("toDate", to.Format(agbarDateLayout))
	params.Set("showNegativeValues", "false")

	data, err := a.list(ctx, agbarConsumptionsPath, params)
	if err != nil {
		return nil, err
	}

	samples := make([]types.ConsumptionSample, 0, len(data))
	for _, raw := range data {
		var ac agbarConsumption
		if err := json.Unmarshal(raw, &ac); err != nil {
			return nil, fmt.Errorf("%w: invalid consumption: %w", ErrUnexpectedResponse, err)
		}
		ts := DecodeTimestamp(ac.Datetime)
		samples = append(samples, types.ConsumptionSample{
			AccumulatedConsumption: float64(ac.AccumulatedConsumption),
			Consumption:            float64(ac.Consumption),
			Datetime:               ac.Datetime,
			Time:                   ts.Time,
			Raw:                    raw,
		})
	}
	sortSamples(ctx, samples)
	log.Ctx(ctx).DebugContext(
		ctx,
		"got agbar consumptions",
		slog.Int("count", len(samples)),
		slog.Time("from", q.From),
		slog.Time("to", to),
		slog.String("frequency", string(freq)),
	)
	return samples, nil
}
