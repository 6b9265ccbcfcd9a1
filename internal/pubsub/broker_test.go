package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_PublishDeliversToSubscriber(t *testing.T) {
	b := NewBroker[string]()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx)
	b.Publish(LogEvent, "hello")

	select {
	case ev := <-ch:
		assert.Equal(t, LogEvent, ev.Type)
		assert.Equal(t, "hello", ev.Payload)
		assert.WithinDuration(t, time.Now(), ev.Timestamp, time.Second)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroker_MultipleSubscribers(t *testing.T) {
	b := NewBroker[int]()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch1 := b.Subscribe(ctx)
	ch2 := b.Subscribe(ctx)
	require.Equal(t, 2, b.SubscriberCount())

	b.Publish(StateEvent, 42)

	for _, ch := range []<-chan Event[int]{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, 42, ev.Payload)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBroker_UnsubscribeOnContextCancel(t *testing.T) {
	b := NewBroker[string]()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Subscribe(ctx)
	cancel()

	// The cleanup goroutine closes the channel.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBroker_PublishAfterCloseIsNoop(t *testing.T) {
	b := NewBroker[string]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx)
	b.Close()

	// Channel must be closed and publish must not panic.
	b.Publish(LogEvent, "dropped")
	_, ok := <-ch
	assert.False(t, ok)
}

func TestBroker_SubscribeAfterCloseReturnsClosedChannel(t *testing.T) {
	b := NewBroker[string]()
	b.Close()

	ch := b.Subscribe(context.Background())
	_, ok := <-ch
	assert.False(t, ok)
}

func TestBroker_FullSubscriberDropsEvents(t *testing.T) {
	b := NewBrokerWithBuffer[int](1)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx)
	b.Publish(StateEvent, 1)
	b.Publish(StateEvent, 2) // dropped: buffer full

	ev := <-ch
	assert.Equal(t, 1, ev.Payload)
	select {
	case ev := <-ch:
		t.Fatalf("expected no further events, got %v", ev.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}
