// Package events fans verification events out to downstream sinks. Delivery is best
// effort: the gateway never waits on a sink.
package events

import (
	"context"
	"sync"
	"time"

	"zkdpp/internal/domain"
	"zkdpp/pkg/logger"
)

// Sink delivers events to one downstream system.
type Sink interface {
	Name() string
	Publish(ctx context.Context, event domain.VerificationEvent) error
}

// Observer counts deliveries and drops.
type Observer interface {
	EventPublished(sink string)
	EventDropped(sink string)
}

const sinkTimeout = 5 * time.Second

var (
	_ Sink = (*Hub)(nil)
	_ Sink = (*RabbitPublisher)(nil)
	_ Sink = (*LogSink)(nil)
)

// Dispatcher buffers events in a bounded queue drained by a single worker.
type Dispatcher struct {
	queue    chan domain.VerificationEvent
	sinks    []Sink
	logger   logger.Logger
	observer Observer

	mu      sync.RWMutex
	closed  bool
	started bool
	done    chan struct{}
}

// NewDispatcher builds a dispatcher. observer may be nil.
func NewDispatcher(size int, log logger.Logger, observer Observer, sinks ...Sink) *Dispatcher {
	if size <= 0 {
		size = 1024
	}
	return &Dispatcher{
		queue:    make(chan domain.VerificationEvent, size),
		sinks:    sinks,
		logger:   log,
		observer: observer,
		done:     make(chan struct{}),
	}
}

// Publish enqueues the event or drops it when the queue is full.
func (d *Dispatcher) Publish(event domain.VerificationEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- event:
	default:
		d.logger.Warn("Event queue full, dropping verification event", map[string]interface{}{
			"receipt_id":   event.ReceiptID.String(),
			"predicate_id": event.PredicateID,
		})
		d.dropped("queue")
	}
}

// Start launches the delivery worker.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	go d.run()
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.queue {
		for _, sink := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			err := sink.Publish(ctx, event)
			cancel()
			if err != nil {
				d.logger.Warn("Event sink failed", map[string]interface{}{
					"sink":       sink.Name(),
					"receipt_id": event.ReceiptID.String(),
					"error":      err.Error(),
				})
				d.dropped(sink.Name())
				continue
			}
			if d.observer != nil {
				d.observer.EventPublished(sink.Name())
			}
		}
	}
}

// Close stops accepting events and waits for the queue to drain until ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) dropped(sink string) {
	if d.observer != nil {
		d.observer.EventDropped(sink)
	}
}
