package authctx

import (
	"net/http"
	"strings"
)

// securePrefix is the cookie-name prefix browsers only accept over HTTPS
// with the Secure flag set.
const securePrefix = "__Secure-"

// CookieStore is a SessionStore that carries values in hardened cookies:
// HttpOnly, SameSite=Lax, session-lived, path-scoped to the application
// root. Over HTTPS the cookie name gains the __Secure- prefix and the
// Secure flag, binding it to the secure origin.
type CookieStore struct {
	// Path scopes the cookies; defaults to "/".
	Path string

	// TrustProxyHeader enables X-Forwarded-Proto based scheme detection.
	// Only set this when a trusted proxy terminates TLS in front of the
	// host.
	TrustProxyHeader bool
}

// Get implements SessionStore. A secure-prefixed cookie presented over a
// non-HTTPS request is discarded and treated as absent, so a context
// minted on a secure origin can never be replayed across a protocol
// downgrade.
func (s *CookieStore) Get(r *http.Request, key string) (string, bool) {
	if c, err := r.Cookie(securePrefix + key); err == nil {
		if !s.isSecure(r) {
			return "", false
		}
		return c.Value, true
	}
	if c, err := r.Cookie(key); err == nil {
		return c.Value, true
	}
	return "", false
}

// Set implements SessionStore.
func (s *CookieStore) Set(w http.ResponseWriter, r *http.Request, key, value string) {
	secure := s.isSecure(r)
	name := key
	if secure {
		name = securePrefix + key
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     s.path(),
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear implements SessionStore. Both name variants are expired, since
// the scheme may differ between the write and the clear.
func (s *CookieStore) Clear(w http.ResponseWriter, r *http.Request, key string) {
	for _, name := range []string{key, securePrefix + key} {
		if name == securePrefix+key && !s.isSecure(r) {
			// a browser won't accept a __Secure- expiry over http anyway
			continue
		}
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     s.path(),
			MaxAge:   -1,
			Secure:   strings.HasPrefix(name, securePrefix),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func (s *CookieStore) path() string {
	if s.Path != "" {
		return s.Path
	}
	return "/"
}

// isSecure reports whether the request arrived over HTTPS, consulting the
// X-Forwarded-Proto header only when a trusted proxy fronts the host.
func (s *CookieStore) isSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if s.TrustProxyHeader && strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return false
}
