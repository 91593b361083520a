package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerPublishDelivers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&Event{
		Type:    EventMapAdvanced,
		Message: "visible map advanced",
		Metadata: map[string]string{
			"epoch": "5",
		},
	})

	select {
	case got := <-sub:
		assert.Equal(t, EventMapAdvanced, got.Type)
		assert.Equal(t, "5", got.Metadata["epoch"])
		assert.False(t, got.Timestamp.IsZero(), "publish should stamp the event")
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBrokerFanOut(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	first := broker.Subscribe()
	second := broker.Subscribe()
	defer broker.Unsubscribe(first)
	defer broker.Unsubscribe(second)

	require.Equal(t, 2, broker.SubscriberCount())

	broker.Publish(&Event{Type: EventNodeBooted})

	for _, sub := range []Subscriber{first, second} {
		select {
		case got := <-sub:
			assert.Equal(t, EventNodeBooted, got.Type)
		case <-time.After(2 * time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.Unsubscribe(sub)

	_, open := <-sub
	assert.False(t, open, "unsubscribed channel should be closed")
	assert.Equal(t, 0, broker.SubscriberCount())
}

func TestBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	// Never drained: fills past its buffer while publishing proceeds.
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			broker.Publish(&Event{Type: EventPGAdvanced})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
