package common

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, UserAgent(), r.Header.Get("User-Agent"), "User-Agent should match expected format")
		if r.URL.Path == "/set" {
			http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "abc", Path: "/"})
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	timeout := 5 * time.Second
	client := HTTPClient(timeout)

	assert.Equal(t, timeout, client.Timeout, "Timeout should be set correctly")
	require.NotNil(t, client.Transport)
	require.NotNil(t, client.Jar, "a cookie jar should be attached")

	resp, err := client.Get(server.URL + "/set")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	cookies := client.Jar.Cookies(u)
	require.Len(t, cookies, 1, "server cookie should be stored in the jar")
	assert.Equal(t, "abc", cookies[0].Value)
}

func TestUserAgent(t *testing.T) {
	assert.NotEmpty(t, Version())
	assert.Contains(t, UserAgent(), "aigues/"+Version())
}
