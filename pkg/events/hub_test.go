package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	assert.Equal(t, 1, h.Subscribers())

	h.Publish(OutputState, OutputStateEvent{Enabled: true, Ts: 42})

	ev := <-ch
	assert.Equal(t, OutputState, ev.Name)
	payload, err := DecodeAs[OutputStateEvent](ev)
	require.NoError(t, err)
	assert.Equal(t, OutputStateEvent{Enabled: true, Ts: 42}, payload)

	h.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, h.Subscribers())
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()

	for i := 0; i < 100; i++ {
		h.Publish(SequenceStep, SequenceStepEvent{Index: i})
	}
	assert.Len(t, ch, cap(ch))
}

func TestClose(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	h.Close()

	_, ok := <-ch
	assert.False(t, ok)

	late := h.Subscribe()
	_, ok = <-late
	assert.False(t, ok)

	h.Publish(OutputState, OutputStateEvent{})
}

func TestDecodeEmpty(t *testing.T) {
	v, err := DecodeAs[SequenceStepEvent](Event{Name: SequenceStep})
	require.NoError(t, err)
	assert.Zero(t, v)
}
