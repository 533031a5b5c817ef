package ratelimit

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
)

// KeyFunc derives the counter key for a request. An empty key tells the
// limiter to let the request through uncounted.
type KeyFunc func(r *http.Request) string

// KeyByIP keys on the client address. chi's RealIP middleware runs earlier in
// the stack, so RemoteAddr already reflects X-Forwarded-For when trusted.
func KeyByIP(scope string) KeyFunc {
	return func(r *http.Request) string {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		return scope + ":ip:" + host
	}
}

// KeyBySubject keys on an authenticated subject header set by the session
// layer, falling back to the client IP for anonymous traffic.
func KeyBySubject(scope, subjectHeader string) KeyFunc {
	byIP := KeyByIP(scope)
	return func(r *http.Request) string {
		if subject := strings.TrimSpace(r.Header.Get(subjectHeader)); subject != "" {
			return scope + ":subject:" + subject
		}
		return byIP(r)
	}
}

// maxKeyBodyBytes caps how much of a body the key derivation will inspect.
const maxKeyBodyBytes = 1 << 20

// KeyByBodyField keys on a JSON body field such as email or phone, giving
// login/OTP/password-reset endpoints per-account limits that an attacker
// cannot dodge by rotating source addresses. The body is restored for
// downstream handlers; bodies over the inspection cap pass through unkeyed
// and byte-for-byte intact.
func KeyByBodyField(scope, field string) KeyFunc {
	return func(r *http.Request) string {
		if r.Body == nil {
			return ""
		}
		orig := r.Body
		raw, err := io.ReadAll(io.LimitReader(orig, maxKeyBodyBytes+1))
		if err != nil {
			return ""
		}
		// Stitch the read prefix back in front of whatever is still unread,
		// so downstream handlers always see the full body.
		r.Body = replayBody{Reader: io.MultiReader(bytes.NewReader(raw), orig), Closer: orig}
		if len(raw) > maxKeyBodyBytes {
			return ""
		}

		var payload map[string]any
		if err := json.Unmarshal(raw, &payload); err != nil {
			return ""
		}
		value, ok := payload[field].(string)
		if !ok || strings.TrimSpace(value) == "" {
			return ""
		}
		return scope + ":" + field + ":" + strings.ToLower(strings.TrimSpace(value))
	}
}

type replayBody struct {
	io.Reader
	io.Closer
}
