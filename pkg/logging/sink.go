package logging

import (
	"context"
	"log/slog"
)

// Sink consumes structured events. Implementations must be safe for
// concurrent use and must not modify the event.
type Sink interface {
	Write(event *Event) error
	Close() error
}

// SlogSink mirrors events into a slog.Logger at debug level.
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger.With("component", "events")}
}

func (s *SlogSink) Write(event *Event) error {
	attrs := []slog.Attr{
		slog.String("event_type", event.EventType),
		slog.String("run_id", event.RunID),
	}
	if event.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", event.RequestID))
	}
	if len(event.Data) > 0 {
		attrs = append(attrs, slog.String("data", string(event.Data)))
	}
	s.logger.LogAttrs(context.Background(), slog.LevelDebug, event.Summary, attrs...)
	return nil
}

func (s *SlogSink) Close() error { return nil }
