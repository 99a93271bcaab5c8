// Package audit records the authorization audit trail.
//
// # Overview
//
// Every successful mutation of the permission model (role changes,
// role-permission links, user-role assignments, per-user overrides, catalog
// additions) and every access denial raised by the service layer produces an
// AuditEvent. Events are written through the Logger interface.
//
// # Implementations
//
//   - NoOpLogger discards events.
//   - DBLogger writes to the authz_audit_log table and supports Query, Purge
//     and Export.
//   - WebhookLogger posts events, signed with HMAC-SHA256 in the
//     X-Permit-Signature header, to an HTTP endpoint from a bounded worker
//     pool and retries failed deliveries with exponential backoff.
//   - MultiLogger fans an event out to several loggers.
//
// # Usage Example
//
//	event := audit.NewEvent(ctx, audit.EventTypeRoleCreate)
//	event.ActorID = &principal.UserID
//	event.RoleID = &role.ID
//	event.Message = "role created"
//	if err := logger.Log(ctx, event); err != nil {
//		log.WithError(err).Warn("audit write failed")
//	}
//
// # Retention
//
// DBLogger.Purge deletes events older than a retention window. permitd runs
// it on a cron schedule.
//
// # Export
//
// Export writes the matching events as newline-delimited JSON (or CSV) and is
// used by permit-admin to ship the trail to S3.
package audit
