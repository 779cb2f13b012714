package rbac

import (
	"context"
	"net/http"
	"strings"

	"github.com/platinummonkey/loanadmin/pkg/audit"
	"github.com/platinummonkey/loanadmin/pkg/auth"
	"github.com/platinummonkey/loanadmin/pkg/contextkeys"
	"github.com/platinummonkey/loanadmin/pkg/httputil"
	"github.com/platinummonkey/loanadmin/pkg/middleware"
	"github.com/platinummonkey/loanadmin/pkg/observability"
)

// CapabilityLoader resolves a role's capabilities
type CapabilityLoader interface {
	Capabilities(ctx context.Context, roleID int64) (*RoleCapabilities, error)
}

// Guard builds authorization middleware. Denials always render as
// "access denied" so the missing permission is never disclosed.
type Guard struct {
	loader  CapabilityLoader
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewGuard creates a guard. metrics may be nil.
func NewGuard(loader CapabilityLoader, metrics *observability.Metrics, logger *observability.Logger) *Guard {
	return &Guard{
		loader:  loader,
		metrics: metrics,
		logger:  logger,
	}
}

// RequireAuthenticated rejects requests without a principal with 401
func (g *Guard) RequireAuthenticated() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if middleware.GetPrincipal(r) == nil {
				g.metrics.RecordAuthz("authenticated", false)
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireScope admits only principals whose role has the given scope
func (g *Guard) RequireScope(scope auth.Scope) func(http.Handler) http.Handler {
	check := "scope:" + string(scope)
	return g.require(check, func(p *auth.Principal, _ *RoleCapabilities) bool {
		return p.RoleScope == scope
	}, false)
}

// RequirePermission admits principals whose role holds name
func (g *Guard) RequirePermission(name string) func(http.Handler) http.Handler {
	return g.require("permission:"+name, func(_ *auth.Principal, caps *RoleCapabilities) bool {
		return caps.Has(name)
	}, true)
}

// RequireAnyPermission admits principals whose role holds at least one of names
func (g *Guard) RequireAnyPermission(names ...string) func(http.Handler) http.Handler {
	return g.require("any:"+strings.Join(names, ","), func(_ *auth.Principal, caps *RoleCapabilities) bool {
		return caps.HasAny(names...)
	}, true)
}

// RequireTenantContext rejects principals without a tenant with 400 and
// otherwise pins the tenant id into the request context
func (g *Guard) RequireTenantContext() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := middleware.GetPrincipal(r)
			if principal == nil {
				g.metrics.RecordAuthz("tenant_context", false)
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			if !principal.HasTenant() {
				g.metrics.RecordAuthz("tenant_context", false)
				httputil.WriteBadRequest(w, "tenant context required")
				return
			}
			g.metrics.RecordAuthz("tenant_context", true)
			ctx := contextkeys.WithTenantID(r.Context(), *principal.TenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (g *Guard) require(check string, allowed func(*auth.Principal, *RoleCapabilities) bool, needsCaps bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := middleware.GetPrincipal(r)
			if principal == nil {
				g.metrics.RecordAuthz(check, false)
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			ctx := r.Context()
			var caps *RoleCapabilities
			if needsCaps {
				var err error
				ctx, caps, err = g.capabilities(ctx, principal)
				if err != nil {
					g.logger.WithError(err).WithField("role_id", principal.RoleID).Error("failed to load role capabilities")
					httputil.WriteAppError(w, err)
					return
				}
			}

			if !allowed(principal, caps) {
				g.deny(ctx, w, r, check)
				return
			}

			g.metrics.RecordAuthz(check, true)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// capabilities loads the caller's capabilities once per request
func (g *Guard) capabilities(ctx context.Context, principal *auth.Principal) (context.Context, *RoleCapabilities, error) {
	if caps, ok := CapabilitiesFromContext(ctx); ok && caps.RoleID() == principal.RoleID {
		return ctx, caps, nil
	}
	caps, err := g.loader.Capabilities(ctx, principal.RoleID)
	if err != nil {
		return ctx, nil, err
	}
	return contextkeys.WithCapabilities(ctx, caps), caps, nil
}

func (g *Guard) deny(ctx context.Context, w http.ResponseWriter, r *http.Request, check string) {
	g.metrics.RecordAuthz(check, false)

	err := audit.FromContext(ctx).LogAuthorization(ctx,
		audit.EventTypeAuthzAccessDenied,
		audit.ResourceTypeRequest,
		r.URL.Path,
		audit.EventStatusDenied,
		"access denied",
		map[string]interface{}{"check": check, "method": r.Method},
	)
	if err != nil {
		g.logger.WithError(err).Warn("failed to record access denial")
	}

	httputil.WriteForbidden(w, "access denied")
}
