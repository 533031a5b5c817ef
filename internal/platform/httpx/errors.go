// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
	"strconv"
	"time"
)

// Sentinel errors for the domain and security layers.
var (
	ErrNotFound        = errors.New("resource not found")
	ErrDuplicate       = errors.New("duplicate entry")
	ErrValidation      = errors.New("validation failed")
	ErrForbidden       = errors.New("forbidden")
	ErrUnauthenticated = errors.New("request could not be validated")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrEncryption      = errors.New("encryption error")
	ErrPayloadTooLarge = errors.New("request body too large")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", "")
	case errors.Is(err, ErrUnauthenticated):
		// Deliberately generic: never reveal which check rejected the request.
		Problem(w, http.StatusUnauthorized, "Unauthorized", ErrUnauthenticated.Error())
	case errors.Is(err, ErrRateLimited):
		Problem(w, http.StatusTooManyRequests, "Too Many Requests", err.Error())
	case errors.Is(err, ErrEncryption):
		Problem(w, http.StatusBadRequest, "Invalid Payload", ErrEncryption.Error())
	case errors.Is(err, ErrPayloadTooLarge):
		Problem(w, http.StatusRequestEntityTooLarge, "Payload Too Large", ErrPayloadTooLarge.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// RespondRateLimited writes a 429 with the Retry-After hint callers need to
// back off correctly.
func RespondRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int(retryAfter / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	Problem(w, http.StatusTooManyRequests, "Too Many Requests", "retry after "+strconv.Itoa(secs)+"s")
}
