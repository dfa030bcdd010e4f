// Package emitter fans sync loop events out to sinks off the loop
// goroutine.
package emitter

import (
	"context"
	"log/slog"

	"github.com/vietddude/ethmirror/internal/core/domain"
)

// Emitter delivers events somewhere outside the process.
type Emitter interface {
	// Emit sends a single event
	Emit(ctx context.Context, event domain.Event) error

	// Close releases the emitter's resources
	Close() error
}

// LogEmitter writes events to a logger. Chunk commits are logged at debug
// level since there is one per chunk.
type LogEmitter struct {
	log *slog.Logger
}

// NewLogEmitter creates an emitter writing to log.
func NewLogEmitter(log *slog.Logger) *LogEmitter {
	if log == nil {
		log = slog.Default()
	}
	return &LogEmitter{log: log.With("component", "events")}
}

func (e *LogEmitter) Emit(ctx context.Context, ev domain.Event) error {
	if ev.Type == domain.EventChunkCommitted {
		e.log.Debug("event", "type", ev.Type, "from", ev.FromHeight, "to", ev.ToHeight)
		return nil
	}
	e.log.Info("event",
		"type", ev.Type,
		"from", ev.FromHeight,
		"to", ev.ToHeight,
		"depth", ev.Depth,
		"meta", ev.Metadata,
	)
	return nil
}

func (e *LogEmitter) Close() error { return nil }
