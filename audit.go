package goToken

import (
	"io"
	"log/slog"

	"github.com/MrEthical07/goToken/internal/audit"
)

// AuditEvent is one token lifecycle event. Raw tokens never appear in it.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
type AuditSink = audit.Sink

// NoOpSink drops every event.
type NoOpSink = audit.NoOpSink

// ChannelSink buffers events into a channel read through Events.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = audit.JSONWriterSink

// SlogSink logs events through a [slog.Logger].
type SlogSink = audit.SlogSink

// MultiSink fans events out to several sinks in order.
type MultiSink = audit.MultiSink

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	return audit.NewSlogSink(logger)
}
