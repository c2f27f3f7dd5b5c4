// Package j1939test provides small deterministic helpers shared by this
// module's tests, mirroring the teacher's own "test" helper package
// (UTCTime) plus a fake network.Endpoint so transport/claim/network tests
// can drive tick(elapsed_ms) without a real CAN bus.
package j1939test

import (
	"sync"
	"time"

	"github.com/isoagnet/go-j1939/j1939"
)

// UTCTime creates a time.Time in UTC so tests behave the same regardless
// of the machine's local timezone.
func UTCTime(sec int64) time.Time {
	return time.Unix(sec, 0).In(time.UTC)
}

// FakeEndpoint is an in-memory network.Endpoint: SendFrame appends to Sent
// instead of touching real hardware, and Deliver lets a test inject an
// inbound frame as if it had arrived from the bus.
type FakeEndpoint struct {
	mu   sync.Mutex
	Sent []j1939.Frame

	onReceive func(j1939.Frame)

	// FailSend, when non-nil, is returned by every SendFrame call instead
	// of actually recording the frame.
	FailSend error
}

func (f *FakeEndpoint) SendFrame(frame j1939.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailSend != nil {
		return f.FailSend
	}
	f.Sent = append(f.Sent, frame)
	return nil
}

func (f *FakeEndpoint) SetReceiveCallback(callback func(j1939.Frame)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.onReceive = callback
}

// Deliver invokes the registered receive callback with frame, as if it had
// just arrived from the bus.
func (f *FakeEndpoint) Deliver(frame j1939.Frame) {
	f.mu.Lock()
	cb := f.onReceive
	f.mu.Unlock()

	if cb != nil {
		cb(frame)
	}
}

// SentCount returns how many frames have been sent so far.
func (f *FakeEndpoint) SentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.Sent)
}

// LastSent returns the most recently sent frame, or the zero Frame if none
// has been sent.
func (f *FakeEndpoint) LastSent() j1939.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.Sent) == 0 {
		return j1939.Frame{}
	}
	return f.Sent[len(f.Sent)-1]
}
