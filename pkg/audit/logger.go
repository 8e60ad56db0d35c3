package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/curator/pkg/contextkeys"
	"github.com/platinummonkey/curator/pkg/observability"
)

// Logger records audit events.
type Logger interface {
	Log(ctx context.Context, event *Event) error
	Close() error
}

// NewEvent builds a successful event with the actor and request ID taken
// from ctx.
func NewEvent(ctx context.Context, eventType EventType, resourceType ResourceType, resourceID string) *Event {
	return &Event{
		Timestamp:    time.Now().UTC(),
		EventType:    eventType,
		Status:       EventStatusSuccess,
		ActorID:      ActorFromContext(ctx),
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    observability.GetRequestID(ctx),
		Metadata:     make(map[string]interface{}),
	}
}

// ActorFromContext returns the user recorded by the auth middleware, or nil.
func ActorFromContext(ctx context.Context) *uuid.UUID {
	if actor, ok := ctx.Value(contextkeys.AuditActorKey).(uuid.UUID); ok {
		return &actor
	}
	return nil
}

// NopLogger discards events.
type NopLogger struct{}

func (NopLogger) Log(ctx context.Context, event *Event) error { return nil }

func (NopLogger) Close() error { return nil }
