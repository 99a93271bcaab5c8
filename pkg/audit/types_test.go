package audit

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/permit/pkg/contextkeys"
)

func TestNewEvent(t *testing.T) {
	ctx := contextkeys.WithRequestID(context.Background(), "req-1")

	event := NewEvent(ctx, EventTypeUserRoleChange)

	_, err := uuid.Parse(event.ID)
	assert.NoError(t, err)
	assert.False(t, event.Timestamp.IsZero())
	assert.Equal(t, EventTypeUserRoleChange, event.EventType)
	assert.Equal(t, EventStatusSuccess, event.Status)
	assert.Equal(t, "req-1", event.RequestID)
}

func TestNewEvent_UniqueIDs(t *testing.T) {
	a := NewEvent(context.Background(), EventTypeRoleCreate)
	b := NewEvent(context.Background(), EventTypeRoleCreate)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestAuditEvent_JSON(t *testing.T) {
	actor := int64(42)
	event := NewEvent(context.Background(), EventTypePermissionRevoke)
	event.ActorID = &actor
	event.Permission = "document:write"
	event.WithMetadata("granted", false)

	data, err := event.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"event_type":"authz.permission_revoke"`)
	assert.NotContains(t, string(data), "target_user_id")

	parsed, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, event.ID, parsed.ID)
	assert.Equal(t, int64(42), *parsed.ActorID)
	assert.Equal(t, false, parsed.Metadata["granted"])
}

func TestFromContext(t *testing.T) {
	assert.IsType(t, NoOpLogger{}, FromContext(context.Background()))

	logger := &mockLogger{}
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
}

func TestNoOpLogger(t *testing.T) {
	logger := NewNoOpLogger()
	assert.NoError(t, logger.Log(context.Background(), &AuditEvent{}))
	assert.NoError(t, logger.Close())
}
