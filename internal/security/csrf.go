package security

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"time"
)

const (
	// DefaultCSRFCookie is the cookie carrying the double-submit token. Not
	// HttpOnly: the client must read it back to echo it in the header.
	DefaultCSRFCookie = "renthaven_csrf"
	// DefaultCSRFHeader is the header the client echoes the token in.
	DefaultCSRFHeader = "X-Renthaven-CSRF"

	csrfTokenBytes  = 32
	csrfMinTokenLen = 40
)

// CSRFGuard issues and validates double-submit CSRF tokens. No server-side
// registry: forgery would require cross-origin script to both set and read
// the cookie.
type CSRFGuard struct {
	cookieName string
	headerName string
	ttl        time.Duration
	secure     bool
}

// NewCSRFGuard constructs a guard. Zero values fall back to the package
// defaults (30 minute cookie lifetime).
func NewCSRFGuard(cookieName, headerName string, ttl time.Duration, secure bool) *CSRFGuard {
	if cookieName == "" {
		cookieName = DefaultCSRFCookie
	}
	if headerName == "" {
		headerName = DefaultCSRFHeader
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &CSRFGuard{cookieName: cookieName, headerName: headerName, ttl: ttl, secure: secure}
}

// CookieName returns the configured cookie identifier.
func (g *CSRFGuard) CookieName() string { return g.cookieName }

// HeaderName returns the configured header identifier.
func (g *CSRFGuard) HeaderName() string { return g.headerName }

// Issue returns the request's existing token when it is still well formed,
// minting and setting a fresh one otherwise or when force is set. Idempotent
// within the cookie lifetime so clients can call the bootstrap endpoint
// freely.
func (g *CSRFGuard) Issue(w http.ResponseWriter, r *http.Request, force bool) (string, error) {
	if !force {
		if cookie, err := r.Cookie(g.cookieName); err == nil && tokenWellFormed(cookie.Value) {
			return cookie.Value, nil
		}
	}

	token, err := mintToken()
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     g.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(g.ttl / time.Second),
		Secure:   g.secure,
		SameSite: http.SameSiteStrictMode,
	})
	return token, nil
}

// Validate checks the double-submit pair: both values must pass the format
// check and match byte for byte.
func (g *CSRFGuard) Validate(headerToken, cookieToken string) error {
	if headerToken == "" || cookieToken == "" {
		return ErrCSRFTokenMissing
	}
	if !tokenWellFormed(headerToken) || !tokenWellFormed(cookieToken) {
		return ErrCSRFTokenMalformed
	}
	if !hmac.Equal([]byte(headerToken), []byte(cookieToken)) {
		return ErrCSRFTokenMismatch
	}
	return nil
}

func mintToken() (string, error) {
	buf := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// tokenWellFormed restricts tokens to the base64url alphabet and a minimum
// length, rejecting anything an attacker could inject through header
// smuggling or cookie tossing.
func tokenWellFormed(token string) bool {
	if len(token) < csrfMinTokenLen {
		return false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}
