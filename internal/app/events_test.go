package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusFanOutAndUnsubscribe(t *testing.T) {
	b := NewBus()
	a, cancelA := b.Subscribe(4)
	c, cancelC := b.Subscribe(4)

	b.Publish(Event{Type: EventPeerLeft, Peer: "x"})
	assert.Equal(t, EventPeerLeft, (<-a).Type)
	assert.Equal(t, EventPeerLeft, (<-c).Type)

	cancelC()
	cancelC()
	b.Publish(Event{Type: EventMessage})
	assert.Equal(t, EventMessage, (<-a).Type)
	_, open := <-c
	assert.False(t, open)
	cancelA()
}

func TestBusDropsWhenFull(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	defer cancel()
	b.Publish(Event{Type: EventMessage})
	b.Publish(Event{Type: EventChannels})
	assert.Equal(t, EventMessage, (<-ch).Type)
	assert.Empty(t, ch)

	var nilBus *Bus
	assert.NotPanics(t, func() { nilBus.Publish(Event{}) })
}
