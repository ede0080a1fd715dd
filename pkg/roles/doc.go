// Package roles defines the per-scope role enums and their rank tables.
//
// # Overview
//
// Each level of the hierarchy has its own closed role type:
//
//	workspace:    viewer < editor < admin
//	organization: member < admin  < owner
//	team:         member < lead
//
// Sufficient compares two roles of the same type. Mixing scopes does not
// compile:
//
//	var have *roles.WorkspaceRole = membershipRole // nil when no row exists
//	if roles.Sufficient(have, roles.WorkspaceEditor) {
//		// may edit
//	}
//
// A nil role means "no membership" and is never sufficient; it is not the
// lowest role.
package roles
