package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authorization events
	EventTypeAuthzAccessDenied EventType = "authz.access_denied"
	EventTypeAuthzRoleChange   EventType = "authz.role_change"

	// Membership events, one set per scope
	EventTypeWorkspaceMemberAdd        EventType = "membership.workspace_add"
	EventTypeWorkspaceMemberRemove     EventType = "membership.workspace_remove"
	EventTypeWorkspaceMemberRoleChange EventType = "membership.workspace_role_change"
	EventTypeOrgMemberAdd              EventType = "membership.org_add"
	EventTypeOrgMemberRemove           EventType = "membership.org_remove"
	EventTypeOrgMemberRoleChange       EventType = "membership.org_role_change"
	EventTypeTeamMemberAdd             EventType = "membership.team_add"
	EventTypeTeamMemberRemove          EventType = "membership.team_remove"
	EventTypeTeamMemberRoleChange      EventType = "membership.team_role_change"

	// Workspace lifecycle events
	EventTypeWorkspaceCreate     EventType = "data.workspace_create"
	EventTypeWorkspaceVisibility EventType = "data.workspace_visibility"
	EventTypeWorkspaceDelete     EventType = "data.workspace_delete"

	// Retention
	EventTypeSoftDeletePurge EventType = "retention.purge"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being accessed
type ResourceType string

const (
	ResourceTypeWorkspace    ResourceType = "workspace"
	ResourceTypeOrganization ResourceType = "organization"
	ResourceTypeTeam         ResourceType = "team"
	ResourceTypeMembership   ResourceType = "membership"
	ResourceTypeIssue        ResourceType = "issue"
	ResourceTypeTable        ResourceType = "table"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor
	UserID *int64 `json:"user_id,omitempty"`

	// Resource
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	RequestID string `json:"request_id,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Before/after for role changes
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
