// Package bus provides an in-process pub/sub event bus with durable
// journaling and bounded SSE fan-out. It decouples producers (the engine,
// workers, the ops monitor) from observers (SSE streams, in-process
// subscribers) the same way the original service's PostgreSQL NOTIFY/LISTEN
// bus decoupled producers from listeners, but without a second connection:
// publish persists a journal row through the store and then dispatches
// in-process, so there is nothing external to listen on.
package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Systemsaholic/nexaas/internal/logging"
	"github.com/Systemsaholic/nexaas/internal/metrics"
	"github.com/Systemsaholic/nexaas/internal/store"
)

const sseQueueCapacity = 256

// wildcard matches every event type.
const wildcard = "*"

// Handler is invoked for a published event. A panicking handler is recovered
// and logged, and never poisons the publish for other subscribers.
type Handler func(ctx context.Context, eventType string, data map[string]any)

// Bus is an in-process publish/subscribe hub with durable journaling.
type Bus struct {
	store *store.Store
	log   *logging.Logger
	met   *metrics.Metrics

	subMu       chan struct{} // binary semaphore guarding subscribers/queues
	subscribers map[string][]Handler
	queues      []*SSEQueue
}

// New creates a Bus backed by st for journal persistence.
func New(st *store.Store, log *logging.Logger, met *metrics.Metrics) *Bus {
	return &Bus{
		store:       st,
		log:         log,
		met:         met,
		subMu:       make(chan struct{}, 1),
		subscribers: make(map[string][]Handler),
	}
}

func (b *Bus) lock()   { b.subMu <- struct{}{} }
func (b *Bus) unlock() { <-b.subMu }

// Subscribe registers a callback for an event type; "*" matches every type.
func (b *Bus) Subscribe(eventType string, h Handler) {
	b.lock()
	defer b.unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], h)
}

// Unsubscribe removes every handler registered for eventType. Handlers are
// plain functions in Go and cannot be compared for identity, so — unlike the
// Python original's callback-identity removal — this clears the whole slot.
func (b *Bus) Unsubscribe(eventType string) {
	b.lock()
	defer b.unlock()
	delete(b.subscribers, eventType)
}

// Publish persists a journal row for the event, then dispatches to
// subscribers of eventType and of the wildcard, then pushes onto every
// attached SSE queue non-blockingly. A journal failure is logged but does
// not prevent dispatch; a panicking handler is recovered and logged.
func (b *Bus) Publish(ctx context.Context, eventType string, data map[string]any, source *string) {
	if data == nil {
		data = map[string]any{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		b.log.WithError(err).Error("bus: marshal event data")
		payload = []byte("{}")
	}

	if _, err := b.store.Bus().Append(ctx, eventType, source, string(payload)); err != nil {
		b.log.WithError(err).Error("bus: persist journal row")
	}
	if b.met != nil {
		b.met.BusPublishTotal.WithLabelValues(eventType).Inc()
	}

	b.lock()
	handlers := append(append([]Handler{}, b.subscribers[eventType]...), b.subscribers[wildcard]...)
	queues := append([]*SSEQueue{}, b.queues...)
	b.unlock()

	for _, h := range handlers {
		b.invoke(ctx, h, eventType, data)
	}

	for _, q := range queues {
		if !q.offer(SSEEvent{Type: eventType, Source: source, Data: data}) {
			b.log.Warn("bus: SSE queue full, dropping event")
			if b.met != nil {
				b.met.SSEDroppedTotal.Inc()
			}
		}
	}
}

func (b *Bus) invoke(ctx context.Context, h Handler, eventType string, data map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithError(fmt.Errorf("panic: %v", r)).Error("bus: subscriber callback panicked")
		}
	}()
	h(ctx, eventType, data)
}

// SSEEvent is a payload pushed to attached SSE queues.
type SSEEvent struct {
	Type   string
	Source *string
	Data   map[string]any
}

// SSEQueue is a bounded, drop-on-full fan-out queue for a single observer.
type SSEQueue struct {
	ch chan SSEEvent
}

func newSSEQueue() *SSEQueue {
	return &SSEQueue{ch: make(chan SSEEvent, sseQueueCapacity)}
}

func (q *SSEQueue) offer(e SSEEvent) bool {
	select {
	case q.ch <- e:
		return true
	default:
		return false
	}
}

// Events returns the channel observers should range over.
func (q *SSEQueue) Events() <-chan SSEEvent { return q.ch }

// CreateSSEQueue attaches a new bounded SSE queue to the bus.
func (b *Bus) CreateSSEQueue() *SSEQueue {
	q := newSSEQueue()
	b.lock()
	b.queues = append(b.queues, q)
	if b.met != nil {
		b.met.SSEQueuesActive.Set(float64(len(b.queues)))
	}
	b.unlock()
	return q
}

// RemoveSSEQueue detaches a queue previously returned by CreateSSEQueue.
func (b *Bus) RemoveSSEQueue(q *SSEQueue) {
	b.lock()
	defer b.unlock()
	for i, existing := range b.queues {
		if existing == q {
			b.queues = append(b.queues[:i], b.queues[i+1:]...)
			break
		}
	}
	if b.met != nil {
		b.met.SSEQueuesActive.Set(float64(len(b.queues)))
	}
}
