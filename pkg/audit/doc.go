// Package audit records authorization denials and membership mutations.
//
// # Event Types
//
// Authorization: access_denied, role_change
// Membership: workspace/org/team add, remove, role_change
// Data: workspace create, visibility change, soft delete
// Retention: purge
//
// # Usage Example
//
//	logger := audit.NewMultiLogger(audit.NewLogLogger(log), dbLogger)
//	ctx = audit.WithLogger(ctx, logger)
//
//	audit.FromContext(ctx).LogAdminAction(ctx, audit.EventTypeWorkspaceMemberAdd,
//		&actorID, &targetID, audit.ResourceTypeWorkspace, "42", nil, "member added")
//
// FromContext returns a no-op logger when none is installed, so callers never
// nil-check.
//
// # Related Packages
//
//   - pkg/access: emits every event
//   - pkg/softdelete: purge events via cmd/trellis-purger
package audit
