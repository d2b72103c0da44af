package bus

import (
	"errors"
	"fmt"
	"sync"

	"github.com/appliance-health/healthd/internal/models"
)

// TopicValidateAll is published once at start so every rule evaluates the
// current state with no previous cycle.
const TopicValidateAll = "validate_new_system_state"

// ChangeTopic returns the topic published when a component changes.
func ChangeTopic(name models.ComponentName) string {
	return string(name) + "_changed"
}

// Handler is called with the new state and the previous one (nil on the first cycle).
type Handler interface {
	Handle(newState, oldState *models.SystemState) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(newState, oldState *models.SystemState) error

func (f HandlerFunc) Handle(newState, oldState *models.SystemState) error {
	return f(newState, oldState)
}

// Bus delivers state pairs to subscribers synchronously, in subscription order.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Handler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string][]Handler)}
}

// Subscribe registers h for topic. Subscribing the same handler twice is a no-op.
func (b *Bus) Subscribe(h Handler, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.subscribers[topic] {
		if sameHandler(existing, h) {
			return
		}
	}
	b.subscribers[topic] = append(b.subscribers[topic], h)
}

// Unsubscribe removes h from topic. A topic left without handlers is dropped.
func (b *Bus) Unsubscribe(h Handler, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := b.subscribers[topic]
	for i, existing := range handlers {
		if sameHandler(existing, h) {
			handlers = append(handlers[:i:i], handlers[i+1:]...)
			break
		}
	}
	if len(handlers) == 0 {
		delete(b.subscribers, topic)
		return
	}
	b.subscribers[topic] = handlers
}

// sameHandler compares comparable handlers; function adapters never match.
func sameHandler(a, b Handler) (same bool) {
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}

// Publish calls every subscriber of topic. A failing subscriber does not stop
// the others; all errors are returned joined.
func (b *Bus) Publish(topic string, newState, oldState *models.SystemState) error {
	b.mu.RLock()
	handlers := make([]Handler, len(b.subscribers[topic]))
	copy(handlers, b.subscribers[topic])
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h.Handle(newState, oldState); err != nil {
			errs = append(errs, fmt.Errorf("topic %s: %w", topic, err))
		}
	}
	return errors.Join(errs...)
}

// Subscribers returns the number of handlers subscribed to topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// Topics lists topics with at least one subscriber.
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	topics := make([]string, 0, len(b.subscribers))
	for topic := range b.subscribers {
		topics = append(topics, topic)
	}
	return topics
}
