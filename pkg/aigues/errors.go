package aigues

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrServer is returned when the provider answers 500.
	ErrServer = errors.New("server error")
	// ErrNotFound is returned when the provider answers 404.
	ErrNotFound = errors.New("not found")
	// ErrDenied is returned when the provider answers 401.
	ErrDenied = errors.New("denied")
	// ErrBadRequest is returned when the provider answers 400.
	ErrBadRequest = errors.New("bad request")
	// ErrRateLimited is returned when the provider answers 429.
	ErrRateLimited = errors.New("rate limited")

	// ErrAuthentication is returned when login is rejected.
	ErrAuthentication = errors.New("authentication failed")
	// ErrNotAuthenticated is returned when no valid session could be established.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrLoginUnsupported is returned by providers without a login flow.
	ErrLoginUnsupported = errors.New("login not supported by provider")
	// ErrSessionCookieRequired is returned when a provider needs a pre-supplied
	// JSESSIONID cookie and none is configured.
	ErrSessionCookieRequired = errors.New("session cookie required")
	// ErrAmbiguousContract is returned when a single contract is needed but the
	// account doesn't have exactly one.
	ErrAmbiguousContract = errors.New("provide a contract id, the account does not have exactly one contract")
	// ErrUnexpectedResponse is returned when a response is missing required fields.
	ErrUnexpectedResponse = errors.New("unexpected response")
)

// tokenRevokedMessage is what the provider answers once a token is revoked.
const tokenRevokedMessage = "JWT Token Revoked"

// StatusError is a classified http failure from the provider.
type StatusError struct {
	StatusCode int
	Message    string
	kind       error
}

func (e *StatusError) Error() string {
	var prefix string
	switch e.kind {
	case ErrServer:
		prefix = "Server error"
	case ErrNotFound:
		prefix = "Not found"
	case ErrDenied:
		prefix = "Denied"
	case ErrBadRequest:
		prefix = "Bad response"
	case ErrRateLimited:
		prefix = "Rate-Limited"
	default:
		prefix = fmt.Sprintf("status %d", e.StatusCode)
	}
	return prefix + ": " + e.Message
}

// Unwrap returns the kind so errors.Is(err, ErrDenied) works.
func (e *StatusError) Unwrap() error {
	return e.kind
}

// TokenRevoked reports whether the provider rejected the call because the
// bearer token was revoked.
func (e *StatusError) TokenRevoked() bool {
	return e.kind == ErrDenied && e.Message == tokenRevokedMessage
}

// classifyStatus returns the kind for status codes the provider uses to signal
// failures or nil for everything else.
func classifyStatus(code int) error {
	switch code {
	case http.StatusInternalServerError:
		return ErrServer
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized:
		return ErrDenied
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	return nil
}
