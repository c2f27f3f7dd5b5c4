package j1939

import "sync"

// Listener is an opaque subscription token returned by Event.Subscribe,
// used to Unsubscribe later.
type Listener uint64

// Event is a synchronous, ordered, multi-listener dispatch primitive used
// throughout this stack (address claim, transport completion, heartbeat
// misses, DM1 reception, ...). Emit invokes each listener in subscription
// order, synchronously, on the caller's goroutine; listeners added during
// Emit do not fire on that emission, since Emit iterates a snapshot taken
// at entry. Unsubscribe is safe to call from within a listener.
type Event[T any] struct {
	mu        sync.Mutex
	nextToken Listener
	listeners []eventEntry[T]
}

type eventEntry[T any] struct {
	token    Listener
	callback func(T)
}

// Subscribe registers callback and returns a token that can later be passed
// to Unsubscribe.
func (e *Event[T]) Subscribe(callback func(T)) Listener {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextToken++
	token := e.nextToken
	e.listeners = append(e.listeners, eventEntry[T]{token: token, callback: callback})
	return token
}

// Unsubscribe removes the listener registered under token, if still
// present. Safe to call during Emit.
func (e *Event[T]) Unsubscribe(token Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, entry := range e.listeners {
		if entry.token == token {
			e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
			return
		}
	}
}

// Emit invokes every currently-subscribed listener, in subscription order,
// with args. A snapshot of the listener list is taken before any callback
// runs, so subscriptions added mid-emission do not fire on this emission,
// and a listener unsubscribed mid-emission is still called on this
// emission; both changes take effect from the next Emit.
func (e *Event[T]) Emit(args T) {
	e.mu.Lock()
	snapshot := make([]eventEntry[T], len(e.listeners))
	copy(snapshot, e.listeners)
	e.mu.Unlock()

	for _, entry := range snapshot {
		entry.callback(args)
	}
}

// Clear removes all listeners.
func (e *Event[T]) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.listeners = nil
}

// Len returns the number of currently-subscribed listeners.
func (e *Event[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.listeners)
}
