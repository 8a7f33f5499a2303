package logging

import (
	"encoding/json"
	"time"

	"github.com/netstub/netstub/internal/errx"
)

// EmitterConfig holds metadata stamped onto every event.
type EmitterConfig struct {
	RunID   string // caller-supplied; identifies one test run
	Service string // defaults to "netstub"
}

// Emitter stamps events with static metadata and dispatches them to sinks.
//
// A nil *Emitter is valid and drops every event, so callers can hold one
// unconditionally.
type Emitter struct {
	config EmitterConfig
	sinks  []Sink
}

func NewEmitter(cfg EmitterConfig, sinks ...Sink) *Emitter {
	if cfg.Service == "" {
		cfg.Service = "netstub"
	}
	return &Emitter{
		config: cfg,
		sinks:  sinks,
	}
}

// Emit builds an event and writes it to every sink, stopping at the first
// sink error. data is marshalled to JSON; nil means no payload.
//
// Emission is best-effort: callers discard the error with _ =.
func (e *Emitter) Emit(eventType, summary, requestID string, tags []string, data any) error {
	if e == nil {
		return nil
	}

	var rawData json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return errx.Wrap(ErrMarshalData, err)
		}
		rawData = b
	}

	event := &Event{
		Timestamp: time.Now().UTC(),
		RunID:     e.config.RunID,
		Service:   e.config.Service,
		EventType: eventType,
		Summary:   summary,
		RequestID: requestID,
		Tags:      tags,
		Data:      rawData,
	}

	for _, sink := range e.sinks {
		if err := sink.Write(event); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all sinks and returns the first error.
func (e *Emitter) Close() error {
	if e == nil {
		return nil
	}
	var firstErr error
	for _, sink := range e.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
