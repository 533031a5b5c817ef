package security

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/renthaven/renthaven/internal/observability"
	"github.com/renthaven/renthaven/internal/platform/httpx"
)

// maxBodyBytes bounds how much of a request body the pipeline will buffer for
// signature verification and envelope decryption. Larger bodies are rejected
// outright: truncating would hand handlers a corrupted prefix and make valid
// signatures unverifiable.
const maxBodyBytes = 4 << 20

var errBodyTooLarge = errors.New("security: request body exceeds limit")

// Pipeline wires the request-security guards into HTTP middleware. Order for
// mutating requests: rate limit (installed separately, first) → CSRF →
// signature → envelope decrypt → handler → envelope encrypt on the way out.
type Pipeline struct {
	Logger            *slog.Logger
	CSRF              *CSRFGuard
	Signer            *Signer
	SigningEnabled    bool
	Envelope          *Envelope
	EncryptionEnabled bool
	Metrics           *observability.Metrics
}

func mutating(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

func (p Pipeline) reject(w http.ResponseWriter, r *http.Request, check string, err error) {
	if p.Logger != nil {
		p.Logger.Warn("request rejected",
			slog.String("check", check),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	p.Metrics.ObserveRejection(check)
	// One generic rejection for every guard so probing cannot tell which
	// check tripped. Oversized bodies are the exception: 413 tells legitimate
	// clients to shrink the payload and reveals nothing about the guards.
	if errors.Is(err, errBodyTooLarge) {
		httpx.RespondError(w, httpx.ErrPayloadTooLarge)
		return
	}
	httpx.RespondError(w, httpx.ErrUnauthenticated)
}

// CSRFMiddleware enforces the double-submit check on mutating requests.
func (p Pipeline) CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !mutating(r) || p.CSRF == nil {
			next.ServeHTTP(w, r)
			return
		}

		var cookieToken string
		if cookie, err := r.Cookie(p.CSRF.CookieName()); err == nil {
			cookieToken = cookie.Value
		}
		if err := p.CSRF.Validate(r.Header.Get(p.CSRF.HeaderName()), cookieToken); err != nil {
			p.reject(w, r, "csrf", err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SignatureMiddleware verifies the HMAC signature and replay headers on
// mutating requests. Disabled deployments pass through untouched.
func (p Pipeline) SignatureMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !mutating(r) || !p.SigningEnabled || p.Signer == nil {
			next.ServeHTTP(w, r)
			return
		}

		body, err := readBody(r)
		if err != nil {
			p.reject(w, r, "signature", err)
			return
		}

		err = p.Signer.Verify(r.Context(), r.Method, r.URL.Path, body,
			r.Header.Get(HeaderSignature),
			r.Header.Get(HeaderTimestamp),
			r.Header.Get(HeaderNonce))
		if err != nil {
			p.reject(w, r, "signature", err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// EnvelopeMiddleware verifies and decrypts enveloped request bodies, swapping
// in the plaintext for downstream handlers, and re-encrypts JSON responses.
func (p Pipeline) EnvelopeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !p.EncryptionEnabled || p.Envelope == nil {
			next.ServeHTTP(w, r)
			return
		}

		if mutating(r) && r.Body != nil {
			body, err := readBody(r)
			if err != nil {
				p.reject(w, r, "envelope", err)
				return
			}
			if payload, ok := decodeEnvelope(body); ok {
				plaintext, err := p.Envelope.Open(payload)
				if err != nil {
					p.Metrics.ObserveRejection("envelope")
					httpx.RespondError(w, httpx.ErrEncryption)
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(plaintext))
				r.ContentLength = int64(len(plaintext))
			}
		}

		ew := &encryptingWriter{ResponseWriter: w, envelope: p.Envelope, logger: p.Logger}
		next.ServeHTTP(ew, r)
		ew.flush()
	})
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	// Read one byte past the cap so an oversized body is detected instead of
	// silently buffered as a truncated prefix.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBodyBytes {
		return nil, errBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// decodeEnvelope reports whether body is a complete wire envelope. Partial
// shapes fall through as plaintext so mixed clients keep working during
// rollout.
func decodeEnvelope(body []byte) (EncryptedPayload, bool) {
	var payload EncryptedPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return EncryptedPayload{}, false
	}
	if payload.IV == "" || payload.EncryptedData == "" || payload.Signature == "" {
		return EncryptedPayload{}, false
	}
	return payload, true
}

// encryptingWriter buffers a JSON response and replaces it with its encrypted
// envelope on flush. Non-JSON responses pass through untouched.
type encryptingWriter struct {
	http.ResponseWriter
	envelope *Envelope
	logger   *slog.Logger
	buf      bytes.Buffer
	status   int
	passthru bool
}

func (w *encryptingWriter) WriteHeader(statusCode int) {
	if w.status == 0 {
		w.status = statusCode
	}
	if ct := w.Header().Get("Content-Type"); ct != "" && !isJSONContentType(ct) {
		w.passthru = true
		w.ResponseWriter.WriteHeader(statusCode)
	}
}

// isJSONContentType matches on the parsed media type, so parameterized
// headers like "application/json; charset=utf-8" still get encrypted.
func isJSONContentType(ct string) bool {
	mediaType, _, err := mime.ParseMediaType(ct)
	return err == nil && mediaType == "application/json"
}

func (w *encryptingWriter) Write(data []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	if w.passthru {
		return w.ResponseWriter.Write(data)
	}
	return w.buf.Write(data)
}

func (w *encryptingWriter) flush() {
	if w.passthru {
		return
	}
	status := w.status
	if status == 0 {
		status = http.StatusOK
	}
	if w.buf.Len() == 0 {
		w.ResponseWriter.WriteHeader(status)
		return
	}

	payload, err := w.envelope.Encrypt(w.buf.Bytes())
	if err != nil {
		if w.logger != nil {
			w.logger.Error("response encryption", slog.Any("error", err))
		}
		w.ResponseWriter.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.ResponseWriter.WriteHeader(status)
	_ = json.NewEncoder(w.ResponseWriter).Encode(payload)
}
