package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/renthaven/renthaven/internal/platform/httpx"
)

// Limiter binds a Store to a maximum, a window and a key derivation, and
// enforces the quota as HTTP middleware.
type Limiter struct {
	Store  Store
	Max    int64
	Window time.Duration
	Key    KeyFunc
	Logger *slog.Logger
}

// Handler rejects requests over quota with 429 and a Retry-After hint before
// the wrapped handler runs.
func (l Limiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := l.Key(r)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		entry, err := l.Store.Increment(r.Context(), key, l.Window)
		if err != nil {
			// The store is an availability dependency, not a correctness one:
			// on backend failure requests pass through unthrottled.
			if l.Logger != nil {
				l.Logger.Error("rate limit increment", slog.Any("error", err))
			}
			next.ServeHTTP(w, r)
			return
		}

		remaining := l.Max - entry.Count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(l.Max, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(entry.ResetAt.Unix(), 10))

		if entry.Count > l.Max {
			if l.Logger != nil {
				l.Logger.Warn("rate limit exceeded",
					slog.String("key", key),
					slog.Int64("count", entry.Count))
			}
			httpx.RespondRateLimited(w, entry.RetryAfter(time.Now()))
			return
		}

		next.ServeHTTP(w, r)
	})
}
