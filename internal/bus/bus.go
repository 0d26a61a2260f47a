package bus

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mentionrelay/internal/domain"
)

const publishTimeout = 10 * time.Second

// Envelope tags a session event with the client generation that produced it,
// so the consumer can ignore stragglers from a torn-down client.
type Envelope struct {
	Generation uint64
	Event      domain.SessionEvent
}

// InMemoryBus is a bounded channel between chat clients and the controller.
type InMemoryBus struct {
	events  chan Envelope
	mu      sync.RWMutex
	closed  bool
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		events:  make(chan Envelope, bufferSize),
		timeout: publishTimeout,
		logger:  logger,
	}
}

// Publish blocks up to publishTimeout if the bus is full instead of dropping.
func (b *InMemoryBus) Publish(env Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "event", eventName(env.Event))
		return
	}

	select {
	case b.events <- env:
	default:
		b.logger.Warn("session bus full, waiting...", "event", eventName(env.Event), "generation", env.Generation)
		timer := time.NewTimer(b.timeout)
		defer timer.Stop()
		select {
		case b.events <- env:
			b.logger.Info("event delivered after wait", "event", eventName(env.Event))
		case <-timer.C:
			b.logger.Error("event dropped: bus full",
				"event", eventName(env.Event),
				"generation", env.Generation,
				"waited", b.timeout,
			)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan Envelope {
	return b.events
}

// Sink returns an EventSink that stamps every event with gen.
func (b *InMemoryBus) Sink(gen uint64) domain.EventSink {
	return sink{bus: b, gen: gen}
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.events)
	}
}

type sink struct {
	bus *InMemoryBus
	gen uint64
}

func (s sink) Emit(evt domain.SessionEvent) {
	s.bus.Publish(Envelope{Generation: s.gen, Event: evt})
}

func eventName(evt domain.SessionEvent) string {
	switch e := evt.(type) {
	case domain.PairingCodeIssued:
		return "pairing"
	case domain.ConnectionStateChanged:
		return "connection." + string(e.State)
	case domain.MessageBatchReceived:
		return "messages." + string(e.Batch.Type)
	default:
		return fmt.Sprintf("%T", evt)
	}
}
