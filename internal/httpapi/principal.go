package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/vetlab/bloodwork-analyzer/internal/domain"
)

// Authentication happens in front of this service; the gateway forwards the
// caller in these headers.
const (
	HeaderPrincipalID   = "X-Principal-ID"
	HeaderPrincipalKind = "X-Principal-Kind"
)

type contextKey string

const principalKey contextKey = "principal"

// principalFromHeaders attaches the forwarded caller to the request context.
// Requests without one are rejected.
func principalFromHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderPrincipalID))
		if id == "" {
			writeError(w, http.StatusUnauthorized, "missing principal", HeaderPrincipalID+" header is required")
			return
		}

		var p domain.Principal
		switch domain.PrincipalKind(strings.ToLower(r.Header.Get(HeaderPrincipalKind))) {
		case domain.PrincipalUser, "":
			p = domain.User{UserID: id}
		case domain.PrincipalAdmin:
			p = domain.Admin{AdminID: id}
		case domain.PrincipalSystem:
			p = domain.System{Name: id}
		default:
			writeError(w, http.StatusUnauthorized, "unknown principal kind", r.Header.Get(HeaderPrincipalKind))
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	})
}

// PrincipalFrom returns the caller attached by the principal middleware.
func PrincipalFrom(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey).(domain.Principal)
	return p, ok
}
