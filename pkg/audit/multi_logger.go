package audit

import (
	"context"
	"errors"
)

// MultiLogger fans events out to several sinks. Every sink is attempted;
// errors are joined.
type MultiLogger struct {
	sinks []Logger
}

// NewMultiLogger creates a logger writing to all sinks.
func NewMultiLogger(sinks ...Logger) *MultiLogger {
	return &MultiLogger{sinks: sinks}
}

func (m *MultiLogger) Log(ctx context.Context, e *Event) error {
	Stamp(e)
	var errs []error
	for _, s := range m.sinks {
		if err := s.Log(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiLogger) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
