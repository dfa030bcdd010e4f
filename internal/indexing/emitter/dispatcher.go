package emitter

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/ethmirror/internal/core/domain"
	"github.com/vietddude/ethmirror/internal/indexing/metrics"
)

// DefaultBuffer is the queue length used when none is given.
const DefaultBuffer = 256

// Dispatcher queues events and hands them to every emitter from its own
// goroutine. Publish never blocks: when the queue is full the event is
// dropped and counted.
type Dispatcher struct {
	emitters []Emitter
	queue    chan domain.Event
	timeout  time.Duration
	log      *slog.Logger

	startOnce sync.Once
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
}

// NewDispatcher creates a dispatcher with a queue of buffer events.
func NewDispatcher(buffer int, log *slog.Logger, emitters ...Emitter) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		emitters: emitters,
		queue:    make(chan domain.Event, buffer),
		timeout:  5 * time.Second,
		log:      log.With("component", "dispatcher"),
		done:     make(chan struct{}),
	}
}

// Start launches the delivery goroutine. It runs until Close.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		go d.loop(context.WithoutCancel(ctx))
	})
}

// Publish queues ev. It is safe to call from any goroutine and after Close.
func (d *Dispatcher) Publish(ev domain.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.EventsPublished.WithLabelValues(string(ev.Type), "dropped").Inc()
		return
	}
	select {
	case d.queue <- ev:
	default:
		metrics.EventsPublished.WithLabelValues(string(ev.Type), "dropped").Inc()
		d.log.Warn("event queue full, dropping event", "type", ev.Type, "from", ev.FromHeight)
	}
}

// Close stops accepting events, delivers what is queued and closes every
// emitter. Close must follow Start.
func (d *Dispatcher) Close() error {
	var errs []error
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
		<-d.done

		for _, e := range d.emitters {
			if err := e.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.done)
	for ev := range d.queue {
		d.deliver(ctx, ev)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev domain.Event) {
	outcome := "delivered"
	for _, e := range d.emitters {
		ectx, cancel := context.WithTimeout(ctx, d.timeout)
		err := e.Emit(ectx, ev)
		cancel()
		if err != nil {
			outcome = "failed"
			d.log.Warn("failed to emit event", "type", ev.Type, "error", err)
		}
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Type), outcome).Inc()
}
