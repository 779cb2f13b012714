// Package cli implements loanadmin-seed, the operator CLI that prepares a
// database for the API server.
//
// # Commands
//
// migrate: Apply pending schema migrations
//
//	loanadmin-seed migrate
//
// apply: Seed permissions, the permission hierarchy, default roles and
// default menus from a catalog. Only roles created by the run receive the
// catalog's default permissions and menus, so edits made through the API
// survive a re-apply.
//
//	loanadmin-seed apply -catalog ./catalog.yaml -prune-menus
//
// Keep a development database in sync with a catalog being edited:
//
//	loanadmin-seed apply -catalog ./catalog.yaml -watch
//
// issue-token: Print a new API token for an active user
//
//	loanadmin-seed issue-token -email ops@example.com
//	loanadmin-seed issue-token -email ada@example.com -tenant 3 -ttl 24h
//
// Every apply and token issue is written to the audit log.
package cli
