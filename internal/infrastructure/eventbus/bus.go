package eventbus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is anything publishable on the bus.
type Event interface {
	Type() string
	Timestamp() time.Time
	Payload() any
}

// BaseEvent is the default Event implementation.
type BaseEvent struct {
	EventType      string
	EventTimestamp time.Time
	EventPayload   any
}

func (e *BaseEvent) Type() string         { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time { return e.EventTimestamp }
func (e *BaseEvent) Payload() any         { return e.EventPayload }

// NewEvent builds a BaseEvent stamped with the current time.
func NewEvent(eventType string, payload any) *BaseEvent {
	return &BaseEvent{
		EventType:      eventType,
		EventTimestamp: time.Now(),
		EventPayload:   payload,
	}
}

// Handler reacts to one event. Panics inside a handler are recovered and
// logged by the bus; they never escape to the publisher.
type Handler func(ctx context.Context, event Event)

// Bus is the minimal pub/sub surface the daemon's components depend on.
type Bus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(eventType string, handler Handler)
	Unsubscribe(eventType string, handler Handler)
	Close()
}

// InMemoryBus is a single-process bus: a buffered channel feeds one
// dispatch goroutine that fans each event out to its type's handlers (plus
// any "*" wildcard handlers) concurrently.
type InMemoryBus struct {
	mu        sync.RWMutex
	handlers  map[string][]Handler
	eventChan chan eventWrapper
	closed    bool
	logger    *zap.Logger
	wg        sync.WaitGroup
}

type eventWrapper struct {
	ctx   context.Context
	event Event
}

// NewInMemoryBus starts the dispatch goroutine and returns a ready bus.
// bufferSize bounds how many unprocessed events Publish will queue before
// it starts dropping (Publish never blocks the caller).
func NewInMemoryBus(logger *zap.Logger, bufferSize int) *InMemoryBus {
	bus := &InMemoryBus{
		handlers:  make(map[string][]Handler),
		eventChan: make(chan eventWrapper, bufferSize),
		logger:    logger,
	}

	bus.wg.Add(1)
	go bus.dispatch()

	return bus
}

// Publish enqueues event for dispatch. Non-blocking: if the buffer is full
// the event is dropped and logged, matching spec's "errors in a loop
// iteration never terminate the loop" policy for glue code.
func (b *InMemoryBus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	b.mu.RUnlock()

	select {
	case b.eventChan <- eventWrapper{ctx: ctx, event: event}:
		b.logger.Debug("event published", zap.String("type", event.Type()))
	default:
		b.logger.Warn("event buffer full, dropping event", zap.String("type", event.Type()))
	}
}

func (b *InMemoryBus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.logger.Debug("handler subscribed", zap.String("event_type", eventType))
}

// Unsubscribe removes the most recently registered handler for eventType.
// Go has no function-pointer equality, so exact-handler removal isn't
// possible; last-registered-first is the documented, predictable behavior.
func (b *InMemoryBus) Unsubscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := b.handlers[eventType]
	if len(handlers) == 0 {
		return
	}
	b.handlers[eventType] = handlers[:len(handlers)-1]
	if len(b.handlers[eventType]) == 0 {
		delete(b.handlers, eventType)
	}
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	b.closed = true
	close(b.eventChan)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("event bus closed")
}

func (b *InMemoryBus) dispatch() {
	defer b.wg.Done()

	for wrapper := range b.eventChan {
		b.dispatchEvent(wrapper.ctx, wrapper.event)
	}
}

func (b *InMemoryBus) dispatchEvent(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[event.Type()])+len(b.handlers["*"]))
	handlers = append(handlers, b.handlers[event.Type()]...)
	handlers = append(handlers, b.handlers["*"]...)
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("handler panicked",
						zap.String("event_type", event.Type()),
						zap.Any("panic", r),
					)
				}
			}()
			h(ctx, event)
		}(handler)
	}
	wg.Wait()
}

// Event types published by the daemon's components.
const (
	EventTypeThinkCycleCompleted = "think.cycle.completed"
	EventTypeDecisionExecuted    = "decision.executed"
	EventTypeHealthRestartIssued = "health.restart.issued"
	EventTypeHealthRestartVerify = "health.restart.verify" // schedules a 30s-later re-check
	EventTypeSessionEnded        = "session.ended"
	EventTypeAutonomyChanged     = "autonomy.changed"
)

// HealthRestartVerifyPayload carries what's needed to re-probe a service
// after a restart without HealthController holding a reference back into
// the scan loop's timer.
type HealthRestartVerifyPayload struct {
	ServiceName string
	RestartedAt time.Time
}

// SessionEndedPayload triggers SessionEvaluator's judge pass.
type SessionEndedPayload struct {
	Project   string
	SessionID string
	Kind      string // "completed" or "error", as reported by the signal protocol
	StartedAt time.Time
	StoppedAt time.Time
}

// AutonomyChangedPayload records an operator-driven level transition, used
// to reset TrustTracker's promotion latch.
type AutonomyChangedPayload struct {
	From string
	To   string
}
