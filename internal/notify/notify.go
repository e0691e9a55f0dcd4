// Package notify delivers conversation events to dashboards and subscribers.
package notify

import (
	"sync"

	"github.com/dennisdiepolder/monti/convo/internal/metrics"
	"github.com/dennisdiepolder/monti/convo/internal/types"
	"github.com/rs/zerolog"
)

// Sink receives conversation events. Implementations must not block for long.
type Sink interface {
	Notify(event types.Event)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(types.Event)

// Notify calls f(event)
func (f SinkFunc) Notify(event types.Event) { f(event) }

// Multi fans an event out to every sink
type Multi []Sink

// Notify delivers to each sink in order
func (m Multi) Notify(event types.Event) {
	for _, s := range m {
		s.Notify(event)
	}
}

// Dispatcher decouples producers from sinks through a bounded buffer.
// Notify never blocks: when the buffer is full the event is dropped.
type Dispatcher struct {
	sink    Sink
	events  chan types.Event
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher creates a dispatcher. Call Run in its own goroutine.
func NewDispatcher(sink Sink, buffer int, logger zerolog.Logger, m *metrics.Metrics) *Dispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	return &Dispatcher{
		sink:    sink,
		events:  make(chan types.Event, buffer),
		logger:  logger.With().Str("component", "notify").Logger(),
		metrics: m,
		done:    make(chan struct{}),
	}
}

// Notify enqueues the event or drops it
func (d *Dispatcher) Notify(event types.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.events <- event:
		if d.metrics != nil {
			d.metrics.NotificationsSent.WithLabelValues(string(event.Type)).Inc()
		}
	default:
		if d.metrics != nil {
			d.metrics.NotificationsDropped.WithLabelValues("dispatcher").Inc()
		}
		d.logger.Warn().
			Str("type", string(event.Type)).
			Str("call_id", event.CallID).
			Msg("notification buffer full, dropping event")
	}
}

// Run delivers events until Close is called and the buffer is drained
func (d *Dispatcher) Run() {
	defer close(d.done)
	for event := range d.events {
		d.deliver(event)
	}
}

func (d *Dispatcher) deliver(event types.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Str("type", string(event.Type)).Msg("sink panicked")
		}
	}()
	d.sink.Notify(event)
}

// Close stops accepting events and waits for Run to drain the buffer
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	close(d.events)
	d.mu.Unlock()
	<-d.done
}
