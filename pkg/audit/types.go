package audit

import (
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authorization events
	EventTypeAuthzAccessDenied     EventType = "authz.access_denied"
	EventTypeAuthzPermissionAssign EventType = "authz.permission_assign"
	EventTypeAuthzPermissionToggle EventType = "authz.permission_toggle"
	EventTypeAuthzMenuAssign       EventType = "authz.menu_assign"
	EventTypeAuthzMenuUnassign     EventType = "authz.menu_unassign"

	// Data mutation events
	EventTypeDataRoleCreate  EventType = "data.role_create"
	EventTypeDataRoleUpdate  EventType = "data.role_update"
	EventTypeDataRoleDelete  EventType = "data.role_delete"
	EventTypeDataMenuUpdate  EventType = "data.menu_update"
	EventTypeDataMenuReorder EventType = "data.menu_reorder"
	EventTypeDataMenuDelete  EventType = "data.menu_delete"

	// Catalog and token events
	EventTypeAdminCatalogSeed EventType = "admin.catalog_seed"
	EventTypeAdminTokenIssue  EventType = "admin.token_issue"

	// Failed mutating request recorded by the middleware
	EventTypeHTTPMutationFailed EventType = "http.mutation_failed"
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
	ResourceTypeRole       ResourceType = "role"
	ResourceTypePermission ResourceType = "permission"
	ResourceTypeMenu       ResourceType = "menu"
	ResourceTypeUser       ResourceType = "user"
	ResourceTypeToken      ResourceType = "token"
	ResourceTypeCatalog    ResourceType = "catalog"
	ResourceTypeRequest    ResourceType = "request"
)

// AuditEvent is a single audit record. TenantID, UserID, Action (EventType),
// ResourceType, ResourceID and Details form the record every mutating action
// emits; the remaining fields describe the HTTP request when there is one.
type AuditEvent struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor
	TenantID *int64 `json:"tenant_id,omitempty"`
	UserID   *int64 `json:"user_id,omitempty"`

	// Resource
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	// Request context
	IPAddress  string `json:"ip_address,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	Method     string `json:"method,omitempty"`
	Path       string `json:"path,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`

	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}
