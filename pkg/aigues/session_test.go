package aigues

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, base string) *Session {
	t.Helper()
	u, err := url.Parse(base)
	require.NoError(t, err)
	s, err := newSession(&http.Client{}, u)
	require.NoError(t, err)
	return s
}

func TestSessionToken(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, "https://api.aiguesdebarcelona.cat")

	t.Run("Missing", func(t *testing.T) {
		assert.Equal(t, "", s.Token())
		assert.True(t, s.IsTokenExpired(ctx), "missing token should be expired")
		assert.Nil(t, s.TokenField(ctx, "name"))
	})

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok := mintToken(t, "12345678Z", exp)
	s.SetToken(tok)

	t.Run("Set", func(t *testing.T) {
		assert.Equal(t, tok, s.Token())
		assert.Equal(t, "12345678Z", s.TokenField(ctx, "name"))
		assert.Equal(t, "12345678Z", s.Claims(ctx).Subject())
	})

	t.Run("Expiry", func(t *testing.T) {
		s.now = func() time.Time { return exp.Add(-time.Second) }
		assert.False(t, s.IsTokenExpired(ctx), "should be valid before exp")
		s.now = func() time.Time { return exp }
		assert.True(t, s.IsTokenExpired(ctx), "should be expired at exp")
		s.now = func() time.Time { return exp.Add(time.Minute) }
		assert.True(t, s.IsTokenExpired(ctx), "should be expired after exp")
		s.now = time.Now
	})

	t.Run("SharedWithParentDomain", func(t *testing.T) {
		u, err := url.Parse("https://www.aiguesdebarcelona.cat/ca/area-clientes")
		require.NoError(t, err)
		var found bool
		for _, c := range s.client.Jar.Cookies(u) {
			if c.Name == TokenCookieName {
				found = true
			}
		}
		assert.True(t, found, "token cookie should be scoped to the parent domain")
	})

	t.Run("Clear", func(t *testing.T) {
		s.ClearToken()
		assert.Equal(t, "", s.Token())
		assert.True(t, s.IsTokenExpired(ctx))
	})

	t.Run("Malformed", func(t *testing.T) {
		s.SetToken("not-a-token")
		assert.True(t, s.IsTokenExpired(ctx), "malformed token should be expired")
		assert.Nil(t, s.TokenField(ctx, "exp"))
	})
}

func TestSessionCookieDomain(t *testing.T) {
	tests := []struct {
		base   string
		domain string
	}{
		{"https://api.aiguesdebarcelona.cat", ".aiguesdebarcelona.cat"},
		{"https://api.soreaonline.cat", ".soreaonline.cat"},
		{"https://127.0.0.1:8443", ""},
		{"https://localhost:8443", ""},
		{"https://example.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			assert.Equal(t, tt.domain, newTestSession(t, tt.base).cookieDomain())
		})
	}
}

func TestSessionCookie(t *testing.T) {
	s := newTestSession(t, "https://api.soreaonline.cat")
	assert.Equal(t, "", s.SessionCookie())
	s.SetSessionCookie("ABC123")
	assert.Equal(t, "ABC123", s.SessionCookie())
	assert.Equal(t, "", s.Token(), "JSESSIONID is not a bearer token")
}

func TestSessionSetTokenReplacesHostOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, "https://api.aiguesdebarcelona.cat")
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	// what a Set-Cookie without Domain leaves in the jar
	old := mintToken(t, "OLD", exp)
	s.client.Jar.SetCookies(s.baseURL, []*http.Cookie{{Name: TokenCookieName, Value: old, Path: "/"}})
	require.Equal(t, old, s.Token())

	tok := mintToken(t, "NEW", exp)
	s.SetToken(tok)

	var count int
	for _, c := range s.client.Jar.Cookies(s.baseURL) {
		if c.Name == TokenCookieName {
			count++
		}
	}
	assert.Equal(t, 1, count, "exactly one bearer cookie should be sent")
	assert.Equal(t, tok, s.Token())
	assert.Equal(t, "NEW", s.Claims(ctx).Subject())
}
