package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileLogger appends events as newline-delimited JSON, rotating when the
// current file exceeds MaxSize.
type FileLogger struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder

	path     string
	maxSize  int64
	maxFiles int
}

// FileLoggerConfig configures a FileLogger.
type FileLoggerConfig struct {
	Path     string // audit log file path
	MaxSize  int64  // bytes before rotation, default 100MB
	MaxFiles int    // rotated files kept, default 10
}

// NewFileLogger opens (or creates) the audit log file.
func NewFileLogger(cfg FileLoggerConfig) (*FileLogger, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit file path is required")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 100 * 1024 * 1024
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 10
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}

	l := &FileLogger{path: cfg.Path, maxSize: cfg.MaxSize, maxFiles: cfg.MaxFiles}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) open() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	l.file = f
	l.encoder = json.NewEncoder(f)
	return nil
}

func (l *FileLogger) Log(_ context.Context, e *Event) error {
	Stamp(e)

	l.mu.Lock()
	defer l.mu.Unlock()

	if info, err := l.file.Stat(); err == nil && info.Size() >= l.maxSize {
		if err := l.rotate(); err != nil {
			return err
		}
	}
	if err := l.encoder.Encode(e); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	return nil
}

// rotate shifts audit.log -> audit.log.1 -> ... dropping the oldest.
func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("closing audit log for rotation: %w", err)
	}
	for i := l.maxFiles - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", l.path, i)
		to := fmt.Sprintf("%s.%d", l.path, i+1)
		if _, err := os.Stat(from); err == nil {
			os.Rename(from, to)
		}
	}
	if err := os.Rename(l.path, l.path+".1"); err != nil {
		return fmt.Errorf("rotating audit log: %w", err)
	}
	return l.open()
}

func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
