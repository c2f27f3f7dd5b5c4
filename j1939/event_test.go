package j1939

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvent_singleListener(t *testing.T) {
	var event Event[int]
	received := 0
	event.Subscribe(func(v int) { received = v })

	event.Emit(42)

	assert.Equal(t, 42, received)
}

func TestEvent_multipleListeners_preserveSubscriptionOrder(t *testing.T) {
	var event Event[int]
	var order []int
	event.Subscribe(func(int) { order = append(order, 1) })
	event.Subscribe(func(int) { order = append(order, 2) })
	event.Subscribe(func(int) { order = append(order, 3) })

	event.Emit(0)
	event.Emit(0)

	assert.Equal(t, []int{1, 2, 3, 1, 2, 3}, order)
}

func TestEvent_listenersAddedDuringEmit_doNotFireThatEmission(t *testing.T) {
	var event Event[int]
	fired := 0
	event.Subscribe(func(int) {
		fired++
		event.Subscribe(func(int) { fired++ })
	})

	event.Emit(0)
	assert.Equal(t, 1, fired)

	event.Emit(0)
	assert.Equal(t, 3, fired) // both listeners fire on the second emission
}

func TestEvent_unsubscribe(t *testing.T) {
	var event Event[int]
	received := 0
	token := event.Subscribe(func(v int) { received = v })

	event.Unsubscribe(token)
	event.Emit(5)

	assert.Equal(t, 0, received)
}

func TestEvent_clear(t *testing.T) {
	var event Event[int]
	val := 0
	event.Subscribe(func(v int) { val = v })

	event.Clear()
	event.Emit(99)

	assert.Equal(t, 0, val)
	assert.Equal(t, 0, event.Len())
}

func TestEvent_len(t *testing.T) {
	var event Event[int]
	assert.Equal(t, 0, event.Len())

	event.Subscribe(func(int) {})
	assert.Equal(t, 1, event.Len())

	event.Subscribe(func(int) {})
	assert.Equal(t, 2, event.Len())
}
