// Package auth resolves bearer tokens to the principal the authorization
// layer works with.
//
// # Principal
//
// A Principal carries the user id, the optional tenant id, and the role id
// and scope. Authorization is derived from the role alone.
//
//	principal, err := tokens.Resolve(ctx, "la_...")
//	if principal.IsPlatform() { ... }
//
// # Tokens
//
// Tokens have the form la_<base64url(32 random bytes)>. Only the SHA-256 hash
// and an 8 character display prefix are stored.
//
//	plaintext, record, err := tokens.Issue(ctx, userID, 90*24*time.Hour)
//	// plaintext is returned once and never again
//
// Resolve rejects revoked or expired tokens, inactive users, and users whose
// tenant is neither active nor in trial. Every rejection is Unauthorized.
//
// # Related Packages
//
//   - pkg/middleware: attaches the resolved principal to the request
//   - pkg/rbac: turns the principal's role into permission decisions
package auth
