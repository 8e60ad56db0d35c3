package audit

import (
	"context"

	"github.com/platinummonkey/curator/pkg/observability"
)

// SlogLogger writes audit events to the structured application log.
type SlogLogger struct {
	logger *observability.Logger
}

// NewSlogLogger creates a logger writing through logger.
func NewSlogLogger(logger *observability.Logger) *SlogLogger {
	return &SlogLogger{logger: logger}
}

func (l *SlogLogger) Log(ctx context.Context, event *Event) error {
	fields := map[string]interface{}{
		"audit_event":   string(event.EventType),
		"audit_status":  string(event.Status),
		"resource_type": string(event.ResourceType),
		"resource_id":   event.ResourceID,
	}
	if event.ActorID != nil {
		fields["actor_id"] = event.ActorID.String()
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	entry := l.logger.WithFields(fields)
	if event.ErrorMessage != "" {
		entry = entry.WithField("error", event.ErrorMessage)
	}
	msg := event.Message
	if msg == "" {
		msg = "Audit event"
	}
	if event.Status == EventStatusSuccess {
		entry.Info(msg)
	} else {
		entry.Warn(msg)
	}
	return nil
}

func (l *SlogLogger) Close() error {
	return nil
}
