package token

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mint(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return s
}

func TestParse(t *testing.T) {
	exp := time.Unix(1_800_000_000, 0)
	raw := mint(t, jwt.MapClaims{"name": "12345678Z", "exp": exp.Unix()})

	c, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "12345678Z", c.Subject())
	assert.Equal(t, "12345678Z", c.Field("name"))
	assert.Nil(t, c.Field("missing"))

	got, ok := c.Expiry()
	require.True(t, ok)
	assert.True(t, exp.Equal(got))

	t.Run("ExpiredAt", func(t *testing.T) {
		assert.False(t, c.ExpiredAt(exp.Add(-time.Second)), "should be valid before expiry")
		assert.True(t, c.ExpiredAt(exp), "should be expired at expiry")
		assert.True(t, c.ExpiredAt(exp.Add(time.Second)), "should be expired after expiry")
	})

	t.Run("TTL", func(t *testing.T) {
		assert.Equal(t, time.Minute, c.TTL(exp.Add(-time.Minute)))
		assert.Equal(t, time.Duration(0), c.TTL(exp.Add(time.Minute)))
	})
}

func TestParsePadded(t *testing.T) {
	header := base64.URLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload := []byte(`{"name":"abc","exp":4102444800}`)
	// padded encoding as some upstreams emit it
	raw := header + "." + base64.URLEncoding.EncodeToString(payload) + ".sig"
	require.True(t, strings.Contains(raw, "="))

	c, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "abc", c.Subject())
	assert.False(t, c.ExpiredAt(time.Now()))
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse("")
	assert.ErrorIs(t, err, ErrMissing)

	for _, raw := range []string{"garbage", "a.b.c", "a.!!!.c"} {
		c, err := Parse(raw)
		assert.Error(t, err, raw)
		assert.True(t, c.ExpiredAt(time.Now()), "malformed tokens are always expired")
		assert.Equal(t, "", c.Subject())
	}
}

func TestParseUnknownAlg(t *testing.T) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"XX999","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"name":"u","exp":4102444800}`))

	c, err := Parse(header + "." + payload + ".sig")
	require.NoError(t, err)
	assert.Equal(t, "u", c.Subject())
}

func TestNoExpiry(t *testing.T) {
	c, err := Parse(mint(t, jwt.MapClaims{"name": "u"}))
	require.NoError(t, err)
	_, ok := c.Expiry()
	assert.False(t, ok)
	assert.True(t, c.ExpiredAt(time.Unix(0, 0)), "missing exp counts as expired")
}
