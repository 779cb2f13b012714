// Package audit records who changed which role, permission or menu.
//
// # Loggers
//
// Every implementation satisfies Logger:
//
//   - DBLogger writes to the audit_logs table (details as JSONB)
//   - LogrusLogger writes structured log lines
//   - MultiLogger fans out to several loggers
//
// Handlers pull the logger from the request context:
//
//	audit.FromContext(ctx).LogDataMutation(ctx, audit.EventTypeDataRoleCreate,
//		audit.ResourceTypeRole, strconv.FormatInt(role.ID, 10), "role created",
//		map[string]interface{}{"name": role.Name})
//
// Tenant, user and request id are filled from the context.
//
// # Retention
//
// Retention.Run exports rows older than the configured number of days as
// NDJSON, uploads them through an Archiver when one is configured, and
// deletes them. Schedule registers the run on a robfig/cron scheduler.
package audit
