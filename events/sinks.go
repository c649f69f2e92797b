package events

import (
	"context"

	"github.com/rs/zerolog/log"
)

// ChannelSink exposes events on a channel, feeding the admin event stream
// and tests. A slow consumer drops events rather than stalling the
// dispatcher goroutine.
type ChannelSink struct {
	events chan Event
}

// NewChannelSink creates a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

// Emit implements Sink.
func (s *ChannelSink) Emit(_ context.Context, event Event) {
	select {
	case s.events <- event:
	default:
	}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// LogSink writes events to the structured log, as an always-on observer.
type LogSink struct{}

// Emit implements Sink.
func (LogSink) Emit(_ context.Context, event Event) {
	log.Info().
		Str("type", string(event.Type)).
		Str("principal", event.Principal).
		Str("device_id", event.DeviceID).
		Str("session_id", event.SessionID).
		Str("reason", event.Reason).
		Msg("lifecycle event")
}
