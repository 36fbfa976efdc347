package aigues

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/aiguesbcn/aigues/pkg/types"
)

// Credentials are what the standard provider's login exchanges for a token.
type Credentials struct {
	Username string
	Password string
	// Captcha is forwarded as recaptchaClientResponse. The provider doesn't
	// appear to validate it.
	Captcha string
}

// ContractsQuery filters the contract list.
type ContractsQuery struct {
	User     string
	Statuses []types.AssignationStatus
}

// InvoicesQuery selects invoices for one contract.
type InvoicesQuery struct {
	Contract   string
	User       string
	LastMonths int
	Mode       types.InvoiceMode
}

// ConsumptionsQuery selects a consumption series.
type ConsumptionsQuery struct {
	From      time.Time
	To        time.Time
	Contract  string
	User      string
	Frequency types.Frequency
}

const defaultLastMonths = 36

// Driver is one provider's implementation of the logical operations.
type Driver interface {
	// Login exchanges credentials for a session and returns the advisory
	// access token from the response body.
	Login(ctx context.Context, creds Credentials) (string, error)

	// Authenticated reports whether the session can be used without logging in.
	Authenticated(ctx context.Context) bool

	// RequiresContract reports whether invoice and consumption calls need a
	// contract number.
	RequiresContract() bool

	// Profile returns the user profile. ok is false when the provider has no
	// profile endpoint.
	Profile(ctx context.Context, user string) (profile types.Profile, ok bool, err error)

	Contracts(ctx context.Context, q ContractsQuery) ([]types.Contract, error)
	Invoices(ctx context.Context, q InvoicesQuery) ([]types.Invoice, error)
	Consumptions(ctx context.Context, q ConsumptionsQuery) ([]types.ConsumptionSample, error)
}

// rawString returns a JSON string or number as text.
func rawString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(raw)
}

// firstString returns the first non-empty field among keys.
func firstString(obj map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		if s := rawString(obj[k]); s != "" {
			return s
		}
	}
	return ""
}

// unpaid keeps the invoices that are not settled.
func unpaid(invoices []types.Invoice) []types.Invoice {
	out := make([]types.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if !inv.Paid() {
			out = append(out, inv)
		}
	}
	return out
}
