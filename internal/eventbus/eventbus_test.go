package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryPublishSubscribe(t *testing.T) {
	bus := NewInMemoryEventBus(10)

	evt := Event{
		ID:          "log-1",
		APIKeyID:    "key-1",
		Feature:     "description",
		Model:       "claude-sonnet-4-5",
		TotalTokens: 150,
		TotalCost:   0.0045,
		Status:      "SUCCESS",
		Timestamp:   time.Now().UTC(),
	}
	bus.Publish(context.Background(), evt)

	select {
	case got := <-bus.Subscribe():
		assert.Equal(t, evt, got)
	case <-time.After(time.Second):
		t.Fatal("expected event on subscription channel")
	}
}

func TestInMemoryDropsWhenFull(t *testing.T) {
	bus := NewInMemoryEventBus(1)
	ctx := context.Background()

	bus.Publish(ctx, Event{ID: "first"})
	// Buffer is full; this must not block or panic.
	done := make(chan struct{})
	go func() {
		bus.Publish(ctx, Event{ID: "second"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on full buffer")
	}

	got := <-bus.Subscribe()
	assert.Equal(t, "first", got.ID)
}

func TestInMemoryZeroBuffer(t *testing.T) {
	bus := NewInMemoryEventBus(0)
	bus.Publish(context.Background(), Event{ID: "only"})

	require.NotNil(t, bus.Subscribe())
	got := <-bus.Subscribe()
	assert.Equal(t, "only", got.ID)
}

func TestNopPublisher(t *testing.T) {
	// Must be safe to call; nothing to observe.
	NopPublisher{}.Publish(context.Background(), Event{ID: "ignored"})
}
