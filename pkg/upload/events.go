package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// EventLogger records one event per upload request for auditing.
type EventLogger interface {
	LogUpload(ctx context.Context, event *UploadEvent) error
}

// UploadEvent summarises one upload request.
type UploadEvent struct {
	Timestamp  time.Time     `json:"timestamp"`
	ID         string        `json:"id"`
	Identity   string        `json:"identity,omitempty"`
	RemoteAddr string        `json:"remote_addr"`
	Status     int           `json:"status"`
	Duration   time.Duration `json:"duration_ns"`
	Fields     int           `json:"fields"`
	Files      []File        `json:"files,omitempty"`
	Error      string        `json:"error,omitempty"`
}

func (e *UploadEvent) bytes() int64 {
	var n int64
	for _, f := range e.Files {
		n += f.Size
	}
	return n
}

func (e *UploadEvent) toJSON() ([]byte, error) {
	return json.Marshal(e)
}

// SlogEventLogger writes upload events as structured log records.
type SlogEventLogger struct {
	logger *slog.Logger
}

// NewSlogEventLogger returns an event logger backed by logger.
func NewSlogEventLogger(logger *slog.Logger) *SlogEventLogger {
	return &SlogEventLogger{logger: logger}
}

func (l *SlogEventLogger) LogUpload(ctx context.Context, event *UploadEvent) error {
	attrs := []slog.Attr{
		slog.String("id", event.ID),
		slog.String("identity", event.Identity),
		slog.String("remote_addr", event.RemoteAddr),
		slog.Int("status", event.Status),
		slog.Duration("duration", event.Duration),
		slog.Int("fields", event.Fields),
		slog.Int("files", len(event.Files)),
		slog.Int64("bytes", event.bytes()),
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	l.logger.LogAttrs(ctx, slog.LevelInfo, "upload", attrs...)
	return nil
}

// MultiEventLogger fans events out to several loggers. Every logger is
// called even if an earlier one fails.
type MultiEventLogger struct {
	loggers []EventLogger
}

// NewMultiEventLogger combines loggers.
func NewMultiEventLogger(loggers ...EventLogger) *MultiEventLogger {
	return &MultiEventLogger{loggers: loggers}
}

func (m *MultiEventLogger) LogUpload(ctx context.Context, event *UploadEvent) error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.LogUpload(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("upload event logging: %w", err)
	}
	return nil
}

// NoopEventLogger drops every event.
type NoopEventLogger struct{}

// NewNoopEventLogger returns a logger that does nothing.
func NewNoopEventLogger() *NoopEventLogger {
	return &NoopEventLogger{}
}

func (*NoopEventLogger) LogUpload(ctx context.Context, event *UploadEvent) error {
	return nil
}
