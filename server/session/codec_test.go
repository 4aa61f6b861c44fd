package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	c := NewCodec("secret", "econochat_session", false)
	id := uuid.NewString()

	got, ok := c.Decode(c.Encode(id))
	require.True(t, ok)
	assert.Equal(t, id, got)
}

func TestCodecRejectsTampering(t *testing.T) {
	c := NewCodec("secret", "econochat_session", false)
	id := uuid.NewString()
	value := c.Encode(id)

	tests := map[string]string{
		"empty":          "",
		"no signature":   id,
		"bad signature":  id + ".AAAA",
		"other id":       uuid.NewString() + value[strings.Index(value, "."):],
		"not a uuid":     "admin." + c.sign("admin"),
		"other secret":   NewCodec("other", "econochat_session", false).Encode(id),
		"trailing bytes": value + "x",
	}
	for name, v := range tests {
		t.Run(name, func(t *testing.T) {
			_, ok := c.Decode(v)
			assert.False(t, ok)
		})
	}
}

func TestCodecIdentify(t *testing.T) {
	c := NewCodec("secret", "econochat_session", true)

	// First request: no cookie, a new one is issued.
	rec := httptest.NewRecorder()
	id := c.Identify(rec, httptest.NewRequest(http.MethodGet, "/api/chat/history", nil))
	require.NotEmpty(t, id)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	cookie := cookies[0]
	assert.Equal(t, "econochat_session", cookie.Name)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	// Second request: same identity, no new cookie.
	req := httptest.NewRequest(http.MethodGet, "/api/chat/history", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	assert.Equal(t, id, c.Identify(rec, req))
	assert.Empty(t, rec.Result().Cookies())

	peeked, ok := c.Peek(req)
	assert.True(t, ok)
	assert.Equal(t, id, peeked)

	// Tampered cookie: fresh identity.
	req = httptest.NewRequest(http.MethodGet, "/api/chat/history", nil)
	req.AddCookie(&http.Cookie{Name: "econochat_session", Value: cookie.Value + "x"})
	rec = httptest.NewRecorder()
	assert.NotEqual(t, id, c.Identify(rec, req))
	assert.Len(t, rec.Result().Cookies(), 1)
}
