package rbac

import (
	"net/http"

	"log/slog"

	"github.com/renthaven/renthaven/internal/platform/httpx"
	"github.com/renthaven/renthaven/internal/shared"
)

// Middleware wires RBAC authorization guards for HTTP handlers.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// Require ensures the current subject holds an unconditional permission for
// action on resource. The check runs with no resource instance, so
// conditional grants fail closed here; routes whose access depends on
// instance data call Service.Authorize from the handler once the instance is
// loaded, instead of mounting Require. No subject or no matching permission
// means 403 before the handler runs.
func (m Middleware) Require(action, resource string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := shared.SubjectFromContext(r.Context())
			if subject == nil {
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}

			decision, err := m.Service.Authorize(r.Context(), subject.TenantID, subject.Roles, action, resource, nil)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("rbac require",
						slog.String("action", action),
						slog.String("resource", resource),
						slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			if !decision.Allowed {
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
