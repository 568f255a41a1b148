package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: CycleFinished, Data: 1})

	ea := <-a
	ec := <-c
	assert.Equal(t, CycleFinished, ea.Type)
	assert.Equal(t, CycleFinished, ec.Type)
	assert.False(t, ea.Time.IsZero())
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: DispatchSent})
	b.Publish(Event{Type: DispatchFailed})

	assert.Equal(t, uint64(1), b.Dropped())
	assert.Equal(t, DispatchSent, (<-ch).Type)
}

func TestUnsubscribeClosesAndStopsDelivery(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4)
	unsub()
	unsub()

	_, ok := <-ch
	require.False(t, ok)
	b.Publish(Event{Type: CycleFinished})
	assert.Zero(t, b.Dropped())
}
