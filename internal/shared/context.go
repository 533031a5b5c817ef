// Package shared holds request-scoped types passed between the security
// layer and handlers.
package shared

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// Subject identifies the authenticated caller as resolved by the (external)
// authentication layer: tenant, user and granted role names.
type Subject struct {
	TenantID int64
	UserID   string
	Roles    []string
}

type subjectContextKey struct{}

// ContextWithSubject stores the subject in context.
func ContextWithSubject(ctx context.Context, subject *Subject) context.Context {
	return context.WithValue(ctx, subjectContextKey{}, subject)
}

// SubjectFromContext extracts the subject from context, nil when the request
// is unauthenticated.
func SubjectFromContext(ctx context.Context) *Subject {
	subject, _ := ctx.Value(subjectContextKey{}).(*Subject)
	return subject
}

// Subject propagation headers used by the gateway/auth layer in front of this
// service. The auth layer itself is out of scope here.
const (
	HeaderSubjectTenant = "X-Renthaven-Tenant"
	HeaderSubjectUser   = "X-Renthaven-User"
	HeaderSubjectRoles  = "X-Renthaven-Roles"
)

// SubjectMiddleware populates the request context from the gateway's subject
// headers. Requests without a user header stay anonymous.
func SubjectMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(HeaderSubjectUser))
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}

		tenantID, _ := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderSubjectTenant)), 10, 64)

		var roles []string
		for _, role := range strings.Split(r.Header.Get(HeaderSubjectRoles), ",") {
			if role = strings.TrimSpace(role); role != "" {
				roles = append(roles, role)
			}
		}

		ctx := ContextWithSubject(r.Context(), &Subject{TenantID: tenantID, UserID: userID, Roles: roles})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
