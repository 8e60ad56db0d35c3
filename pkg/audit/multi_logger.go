package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/curator/pkg/observability"
)

// MultiLogger writes every event to a primary logger, the audit record of
// truth, and then to any number of mirrors. Only primary failures are
// returned; mirror failures are logged.
type MultiLogger struct {
	primary Logger
	mirrors []Logger
}

// NewMultiLogger creates a MultiLogger. A nil primary makes the first
// non-nil mirror the primary; nil mirrors are skipped.
func NewMultiLogger(primary Logger, mirrors ...Logger) *MultiLogger {
	m := &MultiLogger{primary: primary}
	for _, l := range mirrors {
		switch {
		case l == nil:
		case m.primary == nil:
			m.primary = l
		default:
			m.mirrors = append(m.mirrors, l)
		}
	}
	if m.primary == nil {
		m.primary = NopLogger{}
	}
	return m
}

// Log writes event to the primary first. Mirrors receive the event even
// when the primary fails.
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	err := m.primary.Log(ctx, event)
	for i, mirror := range m.mirrors {
		if merr := mirror.Log(ctx, event); merr != nil {
			observability.FromContext(ctx).
				WithFields(map[string]interface{}{"mirror": i, "event_type": string(event.EventType)}).
				WithError(merr).Warn("Audit mirror write failed")
		}
	}
	if err != nil {
		return fmt.Errorf("audit %s: %w", event.EventType, err)
	}
	return nil
}

// Close closes the primary and every mirror.
func (m *MultiLogger) Close() error {
	errs := []error{m.primary.Close()}
	for _, mirror := range m.mirrors {
		errs = append(errs, mirror.Close())
	}
	return errors.Join(errs...)
}
