package security

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/renthaven/renthaven/internal/platform/httpx"
)

// Handler exposes the security bootstrap endpoints: CSRF token issuance and
// the envelope verification key.
type Handler struct {
	logger   *slog.Logger
	csrf     *CSRFGuard
	envelope *Envelope
}

// NewHandler constructs the bootstrap handler.
func NewHandler(logger *slog.Logger, csrf *CSRFGuard, envelope *Envelope) *Handler {
	return &Handler{logger: logger, csrf: csrf, envelope: envelope}
}

// Routes mounts the bootstrap endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/csrf", h.issueCSRF)
	r.Get("/keys", h.publicKey)
}

// issueCSRF returns the caller's CSRF token, minting one when needed.
// ?refresh=1 forces a new token.
func (h *Handler) issueCSRF(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("refresh") == "1"
	token, err := h.csrf.Issue(w, r, force)
	if err != nil {
		h.logger.Error("issue csrf token", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{
		"token":  token,
		"header": h.csrf.HeaderName(),
	})
}

// publicKey returns the process's envelope verification key.
func (h *Handler) publicKey(w http.ResponseWriter, r *http.Request) {
	if h.envelope == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "encryption disabled")
		return
	}
	key, err := h.envelope.PublicKey()
	if err != nil {
		h.logger.Error("envelope public key", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"publicKey": key})
}
