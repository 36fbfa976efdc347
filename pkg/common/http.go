package common

import (
	_ "embed"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

//go:embed VERSION
var version string

// Version returns the release version embedded at build time.
func Version() string {
	return strings.TrimSpace(version)
}

// UserAgent is the descriptive user agent sent to the water providers.
func UserAgent() string {
	return "aigues/" + Version() + " (home automation)"
}

type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

// RoundTrip implements http.RoundTripper and sets the User-Agent header on a
// clone of the request.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.transport.RoundTrip(req)
}

// NewCookieJar returns a cookie jar that honors the public suffix list so a
// provider can only scope cookies to its own registrable domain.
func NewCookieJar() (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	return jar, nil
}

// HTTPClient returns an http client with the default user-agent set and a
// fresh cookie jar.
func HTTPClient(timeout time.Duration) *http.Client {
	// cookiejar.New never fails with a non-nil options struct
	jar, _ := NewCookieJar()
	return &http.Client{
		Transport: &userAgentTransport{
			transport: http.DefaultTransport,
			userAgent: UserAgent(),
		},
		Jar:     jar,
		Timeout: timeout,
	}
}
