package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a permission-model mutation.
type EventType string

const (
	EventRoleCreate       EventType = "role.create"
	EventRoleUpdate       EventType = "role.update"
	EventRolePublish      EventType = "role.publish"
	EventRoleDeactivate   EventType = "role.deactivate"
	EventGrantSet         EventType = "grant.set"
	EventGrantCategorySet EventType = "grant.category_set"
	EventOverrideGrant    EventType = "override.grant"
	EventOverrideRevoke   EventType = "override.revoke"
	EventUserRoleChange   EventType = "user.role_change"
	EventAccessDenied     EventType = "authz.access_denied"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being changed
type ResourceType string

const (
	ResourceRole       ResourceType = "role"
	ResourceGrant      ResourceType = "grant"
	ResourceOverride   ResourceType = "override"
	ResourceUser       ResourceType = "user"
	ResourcePermission ResourceType = "permission"
)

// Event is a single audit log entry.
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// ActorID is nil for events raised outside a request, such as worker purges
	ActorID *uuid.UUID `json:"actor_id,omitempty"`

	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`
	RequestID    string       `json:"request_id,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	// Changes tracking (before/after for updates)
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	ActorID      *uuid.UUID
	EventTypes   []EventType
	ResourceType ResourceType
	ResourceID   string

	Limit  int
	Offset int
}

// Default and maximum page sizes for Search.
const (
	DefaultSearchLimit = 100
	MaxSearchLimit     = 1000
)

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson"
)
