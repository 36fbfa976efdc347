package aigues

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aiguesbcn/aigues/pkg/common"
	"github.com/aiguesbcn/aigues/pkg/log"
	"github.com/aiguesbcn/aigues/pkg/token"
)

const (
	// TokenCookieName is the cookie the standard provider keeps its bearer token in.
	TokenCookieName = "ofexTokenJwt"
	// SessionCookieName is the servlet session cookie the secondary provider uses.
	SessionCookieName = "JSESSIONID"
)

// Session owns the authenticated cookie state for one account. All reads of the
// token go through the cookie jar so cookies refreshed by the provider via
// Set-Cookie are always what gets inspected.
type Session struct {
	client  *http.Client
	baseURL *url.URL

	lastResponse []byte

	// now is swapped in tests
	now func() time.Time
}

func newSession(client *http.Client, baseURL *url.URL) (*Session, error) {
	if client.Jar == nil {
		jar, err := common.NewCookieJar()
		if err != nil {
			return nil, err
		}
		client.Jar = jar
	}
	return &Session{
		client:  client,
		baseURL: baseURL,
		now:     time.Now,
	}, nil
}

// cookieDomain returns the parent domain of the provider host, so the token is
// also sent to the provider's web frontends. Hosts that are IPs or have no
// parent get a host-only cookie.
func (s *Session) cookieDomain() string {
	host := s.baseURL.Hostname()
	if net.ParseIP(host) != nil {
		return ""
	}
	_, parent, ok := strings.Cut(host, ".")
	if !ok || !strings.Contains(parent, ".") {
		return ""
	}
	return "." + parent
}

func (s *Session) cookie(name string) string {
	for _, c := range s.client.Jar.Cookies(s.baseURL) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// Token returns the current bearer token or "".
func (s *Session) Token() string {
	return s.cookie(TokenCookieName)
}

// SetToken installs token as the bearer cookie, replacing any the provider
// set host-only.
func (s *Session) SetToken(tok string) {
	s.ClearToken()
	s.client.Jar.SetCookies(s.baseURL, []*http.Cookie{{
		Name:     TokenCookieName,
		Value:    tok,
		Domain:   s.cookieDomain(),
		Path:     "/",
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteNoneMode,
	}})
}

// ClearToken removes the bearer cookie, forcing the next operation to log in.
func (s *Session) ClearToken() {
	// the provider may have set it host-only through Set-Cookie
	s.client.Jar.SetCookies(s.baseURL, []*http.Cookie{
		{Name: TokenCookieName, Domain: s.cookieDomain(), Path: "/", MaxAge: -1},
		{Name: TokenCookieName, Path: "/", MaxAge: -1},
	})
}

// SessionCookie returns the JSESSIONID cookie or "".
func (s *Session) SessionCookie() string {
	return s.cookie(SessionCookieName)
}

// SetSessionCookie installs a JSESSIONID obtained out of band.
func (s *Session) SetSessionCookie(value string) {
	s.client.Jar.SetCookies(s.baseURL, []*http.Cookie{{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		Secure:   s.baseURL.Scheme == "https",
		HttpOnly: true,
	}})
}

// Claims decodes the current token. A missing or malformed token is logged and
// returns empty claims, which report as expired.
func (s *Session) Claims(ctx context.Context) token.Claims {
	c, err := token.Parse(s.Token())
	if err != nil {
		if errors.Is(err, token.ErrMissing) {
			log.Ctx(ctx).WarnContext(ctx, "token login missing")
		} else {
			log.Ctx(ctx).WarnContext(ctx, "failed to decode token", slog.Any("error", err))
		}
		return token.Claims{}
	}
	return c
}

// TokenField returns the claim at key or nil.
func (s *Session) TokenField(ctx context.Context, key string) any {
	return s.Claims(ctx).Field(key)
}

// IsTokenExpired reports whether the bearer token is absent, malformed,
// missing an expiry or past it.
func (s *Session) IsTokenExpired(ctx context.Context) bool {
	return s.Claims(ctx).ExpiredAt(s.now())
}

// LastResponse returns the body of the most recent response for diagnostics.
func (s *Session) LastResponse() []byte {
	return s.lastResponse
}
