package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishDeliversToEverySubscriber(t *testing.T) {
	bus := New()
	_, a := bus.Subscribe(1)
	_, b := bus.Subscribe(1)

	bus.PublishNew(TypeTaskResolved, "T1", "resolved", map[string]string{"status": "RESOLVED"})

	for _, ch := range []<-chan *Event{a, b} {
		ev := <-ch
		require.NotNil(t, ev)
		assert.Equal(t, TypeTaskResolved, ev.Type)
		assert.Equal(t, "T1", ev.ResourceID)
		assert.Equal(t, "RESOLVED", ev.Metadata["status"])
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.CreatedAt.IsZero())
	}
}

func TestBus_PublishDropsWhenBufferFull(t *testing.T) {
	bus := New()
	_, ch := bus.Subscribe(1)

	bus.PublishNew(TypeTaskListUpdated, "", "first", nil)
	bus.PublishNew(TypeTaskListUpdated, "", "second", nil)

	ev := <-ch
	assert.Equal(t, "first", ev.Payload)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %q", ev.Payload)
	default:
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := New()
	id, ch := bus.Subscribe(1)
	bus.Unsubscribe(id)

	_, open := <-ch
	assert.False(t, open)

	// publishing after unsubscribe must not panic
	bus.PublishNew(TypeSessionExpired, "", "", nil)
	bus.Unsubscribe(id)
}

func TestBus_NilIsNoop(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() {
		bus.PublishNew(TypeNotification, "", "hello", nil)
	})
}
