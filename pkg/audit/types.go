package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/permit/pkg/contextkeys"
)

// EventType represents the category of audit event
type EventType string

const (
	// Override writes
	EventTypePermissionGrant  EventType = "authz.permission_grant"
	EventTypePermissionRevoke EventType = "authz.permission_revoke"
	EventTypeOverrideClear    EventType = "authz.override_clear"

	// Role registry
	EventTypeRoleCreate           EventType = "authz.role_create"
	EventTypeRoleUpdate           EventType = "authz.role_update"
	EventTypeRoleDelete           EventType = "authz.role_delete"
	EventTypeRolePermissionAssign EventType = "authz.role_permission_assign"
	EventTypeRolePermissionRemove EventType = "authz.role_permission_remove"

	// Users and catalog
	EventTypeUserRoleChange   EventType = "authz.user_role_change"
	EventTypePermissionCreate EventType = "authz.permission_create"

	EventTypeAccessDenied EventType = "authz.access_denied"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Who acted, and on what
	ActorID      *int64 `json:"actor_id,omitempty"`
	TargetUserID *int64 `json:"target_user_id,omitempty"`
	RoleID       *int64 `json:"role_id,omitempty"`
	Permission   string `json:"permission,omitempty"`

	RequestID string                 `json:"request_id,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent creates a successful event stamped with a fresh ID, the current
// time and the request ID carried by ctx
func NewEvent(ctx context.Context, eventType EventType) *AuditEvent {
	return &AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    EventStatusSuccess,
		RequestID: contextkeys.GetRequestID(ctx),
	}
}

// WithMetadata sets a metadata entry and returns the event
func (e *AuditEvent) WithMetadata(key string, value interface{}) *AuditEvent {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*AuditEvent, error) {
	var event AuditEvent
	err := json.Unmarshal(data, &event)
	return &event, err
}

// Filter selects audit events. Zero fields match everything.
type Filter struct {
	ActorID      *int64
	TargetUserID *int64
	EventTypes   []EventType
	Since        *time.Time
	Until        *time.Time

	Limit  int
	Offset int
}

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
	ExportFormatCSV    ExportFormat = "csv"
)
