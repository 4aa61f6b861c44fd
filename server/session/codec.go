package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Codec issues and verifies the session cookie. The cookie carries a random
// id and an HMAC-SHA256 signature of it; nothing else is stored client side.
type Codec struct {
	secret []byte
	name   string
	secure bool
}

// NewCodec creates a codec signing with secret.
func NewCodec(secret, cookieName string, secure bool) *Codec {
	return &Codec{secret: []byte(secret), name: cookieName, secure: secure}
}

// Encode returns the signed cookie value for id.
func (c *Codec) Encode(id string) string {
	return id + "." + c.sign(id)
}

// Decode verifies value and returns the session id it carries.
func (c *Codec) Decode(value string) (string, bool) {
	id, sig, ok := strings.Cut(value, ".")
	if !ok {
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	if !hmac.Equal([]byte(sig), []byte(c.sign(id))) {
		return "", false
	}
	return id, true
}

// Peek returns the session id of r without issuing one.
func (c *Codec) Peek(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(c.name)
	if err != nil {
		return "", false
	}
	return c.Decode(cookie.Value)
}

// Identify returns the session id of r. Requests without a valid cookie get
// a fresh id and the cookie is set on w.
func (c *Codec) Identify(w http.ResponseWriter, r *http.Request) string {
	if id, ok := c.Peek(r); ok {
		return id
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    c.Encode(id),
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func (c *Codec) sign(id string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
