// Package eventbus publishes usage events so external dashboards can follow
// spend in near real time without polling the database. Publication is
// fire-and-forget: a full buffer or unreachable broker never fails or delays
// the usage write it mirrors.
package eventbus

import (
	"context"
	"sync"
	"time"
)

// Event mirrors one recorded usage log entry.
type Event struct {
	ID          string    `json:"id"`
	APIKeyID    string    `json:"api_key_id"`
	Feature     string    `json:"feature"`
	Endpoint    string    `json:"endpoint"`
	Model       string    `json:"model"`
	TotalTokens int       `json:"total_tokens"`
	TotalCost   float64   `json:"total_cost"`
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher publishes events without blocking the caller.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// EventBus is a Publisher whose events can also be consumed in-process.
type EventBus interface {
	Publisher
	Subscribe() <-chan Event
}

// NopPublisher discards all events. Used when the event bus is disabled.
type NopPublisher struct{}

// Publish discards the event.
func (NopPublisher) Publish(context.Context, Event) {}

// InMemoryEventBus is a basic EventBus backed by a buffered channel.
type InMemoryEventBus struct {
	ch   chan Event
	once sync.Once
}

// NewInMemoryEventBus creates an in-memory bus with the given buffer size.
func NewInMemoryEventBus(bufferSize int) *InMemoryEventBus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &InMemoryEventBus{ch: make(chan Event, bufferSize)}
}

// Publish sends an event to the bus, dropping it if the buffer is full.
func (b *InMemoryEventBus) Publish(_ context.Context, evt Event) {
	select {
	case b.ch <- evt:
	default:
		// drop event if buffer is full
	}
}

// Subscribe returns the channel events are delivered on.
func (b *InMemoryEventBus) Subscribe() <-chan Event {
	b.once.Do(func() {
		if b.ch == nil {
			b.ch = make(chan Event, 1)
		}
	})
	return b.ch
}

// Compile-time interface checks
var (
	_ Publisher = NopPublisher{}
	_ EventBus  = (*InMemoryEventBus)(nil)
)
