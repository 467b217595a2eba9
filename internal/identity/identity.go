// Package identity decides which user a request belongs to.
package identity

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	// HeaderName carries a caller-supplied user id.
	HeaderName = "X-User-ID"
	// CookieName carries the id minted for a browser on an earlier visit.
	CookieName = "uid"

	prefix   = "user_"
	idLength = 13
)

// Resolver maps a request (plus whatever id the body claimed) to a user id.
type Resolver interface {
	Resolve(r *http.Request, claimed string) string
}

// Default trusts the body claim first, then the header, then the cookie,
// and mints a fresh id when none is present. It performs no authentication.
type Default struct{}

func (Default) Resolve(r *http.Request, claimed string) string {
	if id := strings.TrimSpace(claimed); id != "" {
		return id
	}
	if r != nil {
		if id := strings.TrimSpace(r.Header.Get(HeaderName)); id != "" {
			return id
		}
		if c, err := r.Cookie(CookieName); err == nil && strings.TrimSpace(c.Value) != "" {
			return strings.TrimSpace(c.Value)
		}
	}
	return NewID()
}

// NewID mints an anonymous user id of the form "user_" + 13 random characters.
func NewID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + hex[:idLength]
}
