package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/loanadmin/pkg/apperrors"
)

const (
	// TokenPrefix identifies loanadmin tokens
	TokenPrefix = "la_"
	// TokenLength is the number of random bytes (32 bytes = 256 bits)
	TokenLength = 32
)

// TokenGenerator generates and validates bearer tokens
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateToken creates a new token.
// Format: la_<base64url(32 random bytes)>
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, tokenPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(randomBytes)
	token = TokenPrefix + encoded

	return token, tg.HashToken(token), tg.ExtractPrefix(token), nil
}

// HashToken computes the SHA256 hash of a token for lookup
func (tg *TokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks if a token has the correct format
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}

	encoded := strings.TrimPrefix(token, TokenPrefix)
	if encoded == "" {
		return fmt.Errorf("token is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encoded); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}

	return nil
}

// ExtractPrefix returns the displayable prefix of a token (first 8 encoded chars)
func (tg *TokenGenerator) ExtractPrefix(token string) string {
	if !strings.HasPrefix(token, TokenPrefix) {
		return ""
	}

	encoded := strings.TrimPrefix(token, TokenPrefix)
	if len(encoded) >= 8 {
		return TokenPrefix + encoded[:8]
	}

	return token
}

// TokenStore resolves bearer tokens to principals using the api_tokens table
type TokenStore struct {
	db        *sql.DB
	generator *TokenGenerator
}

// NewTokenStore creates a new database-backed token store
func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{
		db:        db,
		generator: NewTokenGenerator(),
	}
}

// Issue creates a token for a user and returns the plaintext exactly once.
// A zero ttl issues a token that never expires.
func (s *TokenStore) Issue(ctx context.Context, userID int64, ttl time.Duration) (string, *APIToken, error) {
	token, tokenHash, tokenPrefix, err := s.generator.GenerateToken()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}

	record := &APIToken{
		UserID:      userID,
		TokenHash:   tokenHash,
		TokenPrefix: tokenPrefix,
	}
	if ttl > 0 {
		expiresAt := time.Now().UTC().Add(ttl)
		record.ExpiresAt = &expiresAt
	}

	query := `
		INSERT INTO api_tokens (user_id, token_hash, token_prefix, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err = s.db.QueryRowContext(ctx, query, userID, tokenHash, tokenPrefix, record.ExpiresAt).
		Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return "", nil, apperrors.FromDB(err, "token already exists")
	}

	return token, record, nil
}

// Resolve validates a token and loads the principal behind it.
// Revoked or expired tokens, inactive users, and users of tenants that
// cannot authenticate all resolve to Unauthorized.
func (s *TokenStore) Resolve(ctx context.Context, token string) (*Principal, error) {
	if err := s.generator.ValidateTokenFormat(token); err != nil {
		return nil, apperrors.Unauthorized("invalid or expired token")
	}

	query := `
		SELECT t.id, u.id, u.email, u.tenant_id, u.is_active, r.id, r.scope, tn.status
		FROM api_tokens t
		JOIN users u ON u.id = t.user_id
		JOIN roles r ON r.id = u.role_id
		LEFT JOIN tenants tn ON tn.id = u.tenant_id
		WHERE t.token_hash = $1
		  AND t.revoked_at IS NULL
		  AND (t.expires_at IS NULL OR t.expires_at > NOW())
	`

	var (
		tokenID      int64
		principal    Principal
		tenantID     sql.NullInt64
		userActive   bool
		tenantStatus sql.NullString
	)

	err := s.db.QueryRowContext(ctx, query, s.generator.HashToken(token)).Scan(
		&tokenID,
		&principal.UserID,
		&principal.Email,
		&tenantID,
		&userActive,
		&principal.RoleID,
		&principal.RoleScope,
		&tenantStatus,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.Unauthorized("invalid or expired token")
	}
	if err != nil {
		return nil, apperrors.Internal(err, "failed to resolve token")
	}

	if !userActive {
		return nil, apperrors.Unauthorized("user is inactive")
	}

	if tenantID.Valid {
		principal.TenantID = &tenantID.Int64
		if !TenantStatus(tenantStatus.String).CanAuthenticate() {
			return nil, apperrors.Unauthorized("tenant is not active")
		}
	}

	if _, err := s.db.ExecContext(ctx, "UPDATE api_tokens SET last_used_at = NOW() WHERE id = $1", tokenID); err != nil {
		return nil, apperrors.Internal(err, "failed to touch token")
	}

	return &principal, nil
}

// Revoke marks a token as revoked
func (s *TokenStore) Revoke(ctx context.Context, tokenID int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_tokens SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL",
		tokenID,
	)
	if err != nil {
		return apperrors.Internal(err, "failed to revoke token")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.Internal(err, "failed to revoke token")
	}
	if rows == 0 {
		return apperrors.NotFound("token not found: %d", tokenID)
	}

	return nil
}
