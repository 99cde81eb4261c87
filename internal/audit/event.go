package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Event is one audited security occurrence.
type Event struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Type       string            `json:"type"`
	IdentityID string            `json:"identity_id,omitempty"`
	TenantID   string            `json:"tenant_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	IP         string            `json:"ip,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Sink receives dispatched events. Emit is called from a single goroutine.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops events.
type NoOpSink struct{}

// Emit implements [Sink].
func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink forwards events into a buffered channel, mostly for tests.
type ChannelSink struct {
	events chan Event
}

// NewChannelSink returns a ChannelSink with the given buffer (minimum 1).
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{events: make(chan Event, max(buffer, 1))}
}

// Emit implements [Sink]. It blocks until the event is buffered or ctx ends.
func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events returns the receive side of the channel.
func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewJSONWriterSink returns a sink writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

// Emit implements [Sink]. Encoding and write errors are dropped.
func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.writer.Write(data)
}

// SlogSink logs events. Failed events are logged at warn level.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink returns a sink logging to logger, or to slog.Default when nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Emit implements [Sink].
func (s *SlogSink) Emit(ctx context.Context, event Event) {
	attrs := []slog.Attr{
		slog.String("audit_id", event.ID),
		slog.String("type", event.Type),
		slog.Bool("success", event.Success),
	}
	if event.IdentityID != "" {
		attrs = append(attrs, slog.String("identity_id", event.IdentityID))
	}
	if event.TenantID != "" {
		attrs = append(attrs, slog.String("tenant_id", event.TenantID))
	}
	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", event.SessionID))
	}
	if event.IP != "" {
		attrs = append(attrs, slog.String("ip", event.IP))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String("meta."+k, v))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	s.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// Fanout forwards every event to each sink in order.
type Fanout []Sink

// Emit implements [Sink].
func (f Fanout) Emit(ctx context.Context, event Event) {
	for _, sink := range f {
		if sink != nil {
			sink.Emit(ctx, event)
		}
	}
}
