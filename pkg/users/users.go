// Package users lists the users of the caller's tenant.
package users

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/loanadmin/pkg/apperrors"
	"github.com/platinummonkey/loanadmin/pkg/auth"
	"github.com/platinummonkey/loanadmin/pkg/contextkeys"
	"github.com/platinummonkey/loanadmin/pkg/httputil"
	"github.com/platinummonkey/loanadmin/pkg/observability"
	"github.com/platinummonkey/loanadmin/pkg/rbac"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// User is a tenant staff member
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	TenantID  int64     `json:"tenant_id"`
	RoleID    int64     `json:"role_id"`
	RoleName  string    `json:"role_name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Store reads users
type Store struct {
	db *sql.DB
}

// NewStore creates a new user store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListUsers returns one tenant's users ordered by id
func (s *Store) ListUsers(ctx context.Context, tenantID int64, limit, offset int) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.email, u.full_name, u.tenant_id, u.role_id, r.name, u.is_active, u.created_at
		FROM users u
		JOIN roles r ON r.id = u.role_id
		WHERE u.tenant_id = $1
		ORDER BY u.id
		LIMIT $2 OFFSET $3`,
		tenantID, limit, offset,
	)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to list users")
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.FullName, &u.TenantID, &u.RoleID, &u.RoleName, &u.IsActive, &u.CreatedAt); err != nil {
			return nil, apperrors.Internal(err, "failed to scan user")
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Internal(err, "failed to list users")
	}
	return users, nil
}

// FindByEmail looks a user up by email. A nil tenantID matches platform
// users. Platform users come back with a zero TenantID.
func (s *Store) FindByEmail(ctx context.Context, email string, tenantID *int64) (*User, error) {
	var (
		u      User
		tenant sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.full_name, u.tenant_id, u.role_id, r.name, u.is_active, u.created_at
		FROM users u
		JOIN roles r ON r.id = u.role_id
		WHERE lower(u.email) = lower($1) AND u.tenant_id IS NOT DISTINCT FROM $2`,
		email, tenantID,
	).Scan(&u.ID, &u.Email, &u.FullName, &tenant, &u.RoleID, &u.RoleName, &u.IsActive, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("user not found: %s", email)
	}
	if err != nil {
		return nil, apperrors.Internal(err, "failed to find user")
	}
	u.TenantID = tenant.Int64
	return &u, nil
}

// Handlers serves the users endpoints
type Handlers struct {
	store  *Store
	guard  *rbac.Guard
	logger *observability.Logger
}

// NewHandlers creates user handlers
func NewHandlers(store *Store, guard *rbac.Guard, logger *observability.Logger) *Handlers {
	return &Handlers{store: store, guard: guard, logger: logger}
}

// RegisterRoutes registers GET /users for tenant principals holding
// view_users or manage_users
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	chain := httputil.Chain(
		h.guard.RequireAuthenticated(),
		h.guard.RequireScope(auth.ScopeTenant),
		h.guard.RequireTenantContext(),
		h.guard.RequireAnyPermission(rbac.PermViewUsers, rbac.PermManageUsers),
	)
	router.Handle("/users", chain(http.HandlerFunc(h.ListUsers))).Methods(http.MethodGet)
}

// ListUsers lists the caller's tenant users. ?limit= and ?offset= page the
// result.
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := contextkeys.GetTenantID(r.Context())
	if !ok {
		httputil.WriteBadRequest(w, "tenant context required")
		return
	}

	limit, offset, err := pagination(r)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	users, err := h.store.ListUsers(r.Context(), tenantID, limit, offset)
	if err != nil {
		h.logger.WithError(err).WithField("tenant_id", tenantID).Warn("failed to list users")
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, users)
}

func pagination(r *http.Request) (int, int, error) {
	limit := defaultLimit
	if v, ok, err := httputil.ParseQueryInt64(r, "limit"); err != nil {
		return 0, 0, apperrors.BadRequest("invalid limit")
	} else if ok {
		if v < 1 || v > maxLimit {
			return 0, 0, apperrors.BadRequest("limit must be between 1 and %d", maxLimit)
		}
		limit = int(v)
	}

	offset := 0
	if v, ok, err := httputil.ParseQueryInt64(r, "offset"); err != nil {
		return 0, 0, apperrors.BadRequest("invalid offset")
	} else if ok {
		if v < 0 {
			return 0, 0, apperrors.BadRequest("offset cannot be negative")
		}
		offset = int(v)
	}
	return limit, offset, nil
}
