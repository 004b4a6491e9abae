package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Logger records audit events.
type Logger interface {
	Log(ctx context.Context, event *Event) error
	Close() error
}

// Stamp fills in the event's id and timestamp if unset.
func Stamp(e *Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
}

// NopLogger discards every event.
type NopLogger struct{}

func (NopLogger) Log(context.Context, *Event) error { return nil }
func (NopLogger) Close() error                      { return nil }

// LogrusLogger writes audit events into the application log stream as
// structured fields. Useful in development and as a fallback sink.
type LogrusLogger struct {
	log logrus.FieldLogger
}

// NewLogrusLogger creates a logger writing into log.
func NewLogrusLogger(log logrus.FieldLogger) *LogrusLogger {
	return &LogrusLogger{log: log}
}

func (l *LogrusLogger) Log(_ context.Context, e *Event) error {
	Stamp(e)
	fields := logrus.Fields{
		"audit_id":      e.ID,
		"event_type":    e.Type,
		"status":        e.Status,
		"principal_id":  e.PrincipalID,
		"resource_kind": e.ResourceKind,
		"resource_id":   e.ResourceID,
	}
	if e.TargetPrincipalID != "" {
		fields["target_principal_id"] = e.TargetPrincipalID
	}
	if e.ReasonCode != "" {
		fields["reason_code"] = e.ReasonCode
	}
	l.log.WithFields(fields).Info(e.Message)
	return nil
}

func (l *LogrusLogger) Close() error { return nil }
