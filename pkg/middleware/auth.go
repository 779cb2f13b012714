package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/platinummonkey/loanadmin/pkg/apperrors"
	"github.com/platinummonkey/loanadmin/pkg/auth"
	"github.com/platinummonkey/loanadmin/pkg/contextkeys"
	"github.com/platinummonkey/loanadmin/pkg/httputil"
)

// PrincipalResolver turns a bearer token into a principal
type PrincipalResolver interface {
	Resolve(ctx context.Context, token string) (*auth.Principal, error)
}

// AuthMiddleware provides authentication middleware
type AuthMiddleware struct {
	resolver PrincipalResolver
	optional bool // If true, allow requests without auth
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(resolver PrincipalResolver, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		resolver: resolver,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Format: "Bearer <token>"
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		principal, err := m.resolver.Resolve(r.Context(), parts[1])
		if err != nil {
			if apperrors.Is(err, apperrors.KindUnauthorized) {
				httputil.WriteUnauthorized(w, "invalid or expired token")
				return
			}
			httputil.WriteAppError(w, err)
			return
		}

		ctx := contextkeys.WithPrincipal(r.Context(), principal)
		ctx = contextkeys.WithUserID(ctx, strconv.FormatInt(principal.UserID, 10))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetPrincipal extracts the principal from the request
func GetPrincipal(r *http.Request) *auth.Principal {
	return PrincipalFromContext(r.Context())
}

// PrincipalFromContext extracts the principal from a context
func PrincipalFromContext(ctx context.Context) *auth.Principal {
	principal, ok := ctx.Value(contextkeys.PrincipalKey).(*auth.Principal)
	if !ok {
		return nil
	}
	return principal
}
