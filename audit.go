package guardspan

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// AuditEvent is one security-relevant state transition: a denial, a token
// lifecycle step, or a conflict. Metadata carries event-specific detail and
// must not contain token values.
type AuditEvent struct {
	Timestamp  time.Time         `json:"timestamp"`
	EventType  string            `json:"event_type"`
	OwnerID    string            `json:"owner_id,omitempty"`
	TenantID   string            `json:"tenant_id,omitempty"`
	ClientAddr string            `json:"client_addr,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

const (
	auditEventRateDenied      = "rate.denied"
	auditEventTokenIssued     = "token.issued"
	auditEventTokenConsumed   = "token.consumed"
	auditEventTokenExpired    = "token.expired"
	auditEventTokenSuperseded = "token.superseded"
	auditEventTokenResent     = "token.resent"
	auditEventEmailConflict   = "email.conflict"
)

// AuditSink receives events from the engine's dispatcher. Emit must be safe
// for concurrent use and should not block; slow sinks are absorbed by the
// dispatcher buffer up to its size.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards all events.
type NoOpSink struct{}

// Emit discards the event.
func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink forwards events to a channel, for tests and in-process
// consumers.
type ChannelSink struct {
	events chan AuditEvent
}

// NewChannelSink creates a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan AuditEvent, buffer)}
}

// Emit sends the event, giving up when ctx is done.
func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events exposes the receive side of the sink.
func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line to an io.Writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink creates a sink writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

// Emit marshals and writes the event. Encoding failures are dropped; an
// audit sink must never take the engine down.
func (s *JSONWriterSink) Emit(_ context.Context, event AuditEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	_, _ = s.writer.Write(data)
	s.mu.Unlock()
}
