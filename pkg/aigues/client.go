package aigues

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aiguesbcn/aigues/pkg/common"
	"github.com/aiguesbcn/aigues/pkg/log"
	"github.com/aiguesbcn/aigues/pkg/types"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds every provider call.
const DefaultTimeout = 60 * time.Second

// Config describes one account at one provider.
type Config struct {
	Username string
	Password string
	// Contract is used when an operation isn't given one explicitly.
	Contract string
	Provider types.ProviderID
	// SessionCookie is the JSESSIONID the secondary provider needs since it has
	// no login flow.
	SessionCookie string
	// BaseURL overrides the provider host.
	BaseURL string
	Timeout time.Duration
	// MinRequestInterval paces requests to the provider. Zero disables pacing.
	MinRequestInterval time.Duration
}

// Validate checks that every credential the provider marks as required is set.
func (cfg Config) Validate() error {
	provider := cfg.Provider
	if provider == "" {
		provider = types.ProviderAgbar
	}
	info, err := types.LookupProvider(provider)
	if err != nil {
		return err
	}
	values := map[string]string{
		"username":      cfg.Username,
		"password":      cfg.Password,
		"contract":      cfg.Contract,
		"sessionCookie": cfg.SessionCookie,
	}
	var missing []string
	for _, cred := range info.Credentials {
		if cred.Required && values[cred.Field] == "" {
			missing = append(missing, cred.Field)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required %s credentials: %s", provider, strings.Join(missing, ", "))
	}
	return nil
}

// Client retrieves account, billing and consumption data for one account.
// Operations are serialized; use one Client per account to fetch concurrently.
type Client struct {
	mu      sync.Mutex
	cfg     Config
	session *Session
	driver  Driver
}

// New builds a client. httpClient may be nil, in which case a default client
// with cfg.Timeout is used. A client without a cookie jar gets one.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	c := &Client{}
	if err := c.init(cfg, httpClient); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) init(cfg Config, httpClient *http.Client) error {
	if cfg.Provider == "" {
		cfg.Provider = types.ProviderAgbar
	}
	info, err := types.LookupProvider(cfg.Provider)
	if err != nil {
		return err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://" + info.Host
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("failed to parse base url (%s): %w", cfg.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("base url must be absolute: %s", cfg.BaseURL)
	}

	if httpClient == nil {
		httpClient = common.HTTPClient(cfg.Timeout)
	}
	session, err := newSession(httpClient, base)
	if err != nil {
		return err
	}

	var d Driver
	var disp *dispatcher
	switch cfg.Provider {
	case types.ProviderSorea:
		s := newSorea(session)
		d, disp = s, s.d
		if cfg.SessionCookie != "" {
			session.SetSessionCookie(cfg.SessionCookie)
		}
	default:
		a := newAgbar(session)
		d, disp = a, a.d
	}
	if cfg.MinRequestInterval > 0 {
		disp.limiter = rate.NewLimiter(rate.Every(cfg.MinRequestInterval), 1)
	}

	c.cfg = cfg
	c.session = session
	c.driver = d
	return nil
}

// Provider returns the configured provider.
func (c *Client) Provider() types.ProviderID {
	return c.cfg.Provider
}

// Contract returns the configured default contract, which may be empty.
func (c *Client) Contract() string {
	return c.cfg.Contract
}

// Session exposes the cookie state, mainly for diagnostics.
func (c *Client) Session() *Session {
	return c.session
}

// LastResponse returns the body of the most recent provider response.
func (c *Client) LastResponse() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.LastResponse()
}

// Login exchanges credentials with the provider. Empty user or password fall
// back to the configured ones. The token is returned for callers that want to
// install it with SetToken; the provider normally sets it as a cookie already.
func (c *Client) Login(ctx context.Context, user, password, captcha string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.login(ctx, user, password, captcha)
}

func (c *Client) login(ctx context.Context, user, password, captcha string) (string, error) {
	if user == "" {
		user = c.cfg.Username
	}
	if password == "" {
		password = c.cfg.Password
	}
	return c.driver.Login(ctx, Credentials{Username: user, Password: password, Captcha: captcha})
}

// SetToken installs a bearer token as the session cookie.
func (c *Client) SetToken(tok string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.SetToken(tok)
}

// IsTokenExpired reports whether the bearer token is missing or expired.
func (c *Client) IsTokenExpired(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.IsTokenExpired(ctx)
}

// ensureSession makes sure the session is usable before an operation,
// logging in again when the token is missing or expired.
func (c *Client) ensureSession(ctx context.Context) error {
	if c.driver.Authenticated(ctx) {
		return nil
	}
	log.Ctx(ctx).DebugContext(ctx, "session expired, logging in")
	tok, err := c.login(ctx, "", "", "")
	if err != nil {
		if errors.Is(err, ErrLoginUnsupported) {
			return ErrSessionCookieRequired
		}
		return fmt.Errorf("%w: %w", ErrNotAuthenticated, err)
	}
	if !c.driver.Authenticated(ctx) {
		// no usable Set-Cookie, fall back to the token from the body
		c.session.SetToken(tok)
		if !c.driver.Authenticated(ctx) {
			return fmt.Errorf("%w: provider token is not usable", ErrNotAuthenticated)
		}
	}
	log.Ctx(ctx).DebugContext(ctx, "logged in", slog.Duration("ttl", c.session.Claims(ctx).TTL(c.session.now())))
	return nil
}

// Profile returns the user profile. ok is false for providers without one.
func (c *Client) Profile(ctx context.Context, user string) (types.Profile, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureSession(ctx); err != nil {
		return types.Profile{}, false, err
	}
	return c.driver.Profile(ctx, user)
}

// Contracts lists the account's contracts.
func (c *Client) Contracts(ctx context.Context, q ContractsQuery) ([]types.Contract, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contracts(ctx, q)
}

func (c *Client) contracts(ctx context.Context, q ContractsQuery) ([]types.Contract, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	return c.driver.Contracts(ctx, q)
}

// ContractIDs returns the contract numbers of the account.
func (c *Client) ContractIDs(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contractIDs(ctx)
}

func (c *Client) contractIDs(ctx context.Context) ([]string, error) {
	contracts, err := c.contracts(ctx, ContractsQuery{})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(contracts))
	for i, ct := range contracts {
		ids[i] = ct.ID
	}
	return ids, nil
}

// FirstContract returns the only contract of the account. It fails with
// ErrAmbiguousContract when there isn't exactly one.
func (c *Client) FirstContract(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firstContract(ctx)
}

func (c *Client) firstContract(ctx context.Context) (string, error) {
	ids, err := c.contractIDs(ctx)
	if err != nil {
		return "", err
	}
	if len(ids) != 1 {
		return "", fmt.Errorf("%w: found %d contracts", ErrAmbiguousContract, len(ids))
	}
	return ids[0], nil
}

// ResolveContract returns the contract an operation given contract would use.
// It is empty for providers that don't need one.
func (c *Client) ResolveContract(ctx context.Context, contract string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolveContract(ctx, contract)
}

// resolveContract picks the explicit contract, then the configured one, then
// the account's only contract.
func (c *Client) resolveContract(ctx context.Context, contract string) (string, error) {
	if contract != "" {
		return contract, nil
	}
	if c.cfg.Contract != "" {
		return c.cfg.Contract, nil
	}
	if !c.driver.RequiresContract() {
		return "", nil
	}
	return c.firstContract(ctx)
}

// Invoices lists invoices. An empty mode is ALL; DEBT ignores LastMonths.
func (c *Client) Invoices(ctx context.Context, q InvoicesQuery) ([]types.Invoice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	contract, err := c.resolveContract(ctx, q.Contract)
	if err != nil {
		return nil, err
	}
	q.Contract = contract
	return c.driver.Invoices(log.WithAttrs(ctx, slog.String("contract", contract)), q)
}

// InvoicesDebt lists the unpaid invoices.
func (c *Client) InvoicesDebt(ctx context.Context, contract, user string) ([]types.Invoice, error) {
	return c.Invoices(ctx, InvoicesQuery{Contract: contract, User: user, Mode: types.InvoiceModeDebt})
}

// Consumptions returns the consumption series between From and To.
func (c *Client) Consumptions(ctx context.Context, q ConsumptionsQuery) ([]types.ConsumptionSample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if q.From.IsZero() {
		return nil, errors.New("consumptions require a start date")
	}
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	contract, err := c.resolveContract(ctx, q.Contract)
	if err != nil {
		return nil, err
	}
	q.Contract = contract
	return c.driver.Consumptions(log.WithAttrs(ctx, slog.String("contract", contract)), q)
}

// ConsumptionsWeek returns daily consumption for the Monday to Sunday week
// containing ref. A zero ref means now.
func (c *Client) ConsumptionsWeek(ctx context.Context, ref time.Time, contract, user string) ([]types.ConsumptionSample, error) {
	if ref.IsZero() {
		ref = time.Now().In(madridLocation)
	}
	monday, sunday := WeekRange(ref)
	return c.Consumptions(ctx, ConsumptionsQuery{
		From:      monday,
		To:        sunday,
		Contract:  contract,
		User:      user,
		Frequency: types.FrequencyDaily,
	})
}

// ConsumptionsMonth returns daily consumption for the month containing ref. A
// zero ref means now.
func (c *Client) ConsumptionsMonth(ctx context.Context, ref time.Time, contract, user string) ([]types.ConsumptionSample, error) {
	if ref.IsZero() {
		ref = time.Now().In(madridLocation)
	}
	first, last := MonthRange(ref)
	return c.Consumptions(ctx, ConsumptionsQuery{
		From:      first,
		To:        last,
		Contract:  contract,
		User:      user,
		Frequency: types.FrequencyDaily,
	})
}
