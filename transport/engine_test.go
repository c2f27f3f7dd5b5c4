package transport

import (
	"testing"

	"github.com/isoagnet/go-j1939/j1939"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBus wires two engines together: SendFrame from one is delivered
// synchronously to the other's HandleFrame.
type fakeBus struct {
	a, b *Engine
}

func payload(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i)
	}
	return out
}

func newPair(t *testing.T) (*Engine, *Engine) {
	t.Helper()
	bus := &fakeBus{}
	bus.a = NewEngine(Config{}, func(f j1939.Frame) error { return bus.b.HandleFrame(f) })
	bus.b = NewEngine(Config{}, func(f j1939.Frame) error { return bus.a.HandleFrame(f) })
	return bus.a, bus.b
}

// TestEngine_TP_RoundTrip is spec.md §8 scenario 3: a 100-byte payload sent
// destination-specific over classic TP completes with the receiver getting
// back exactly what was sent, no abort on either side.
func TestEngine_TP_RoundTrip(t *testing.T) {
	sender, receiver := newPair(t)

	var got CompletedTransfer
	completed := 0
	receiver.OnComplete.Subscribe(func(ct CompletedTransfer) {
		got = ct
		completed++
	})
	abortedSender := 0
	abortedReceiver := 0
	sender.OnAborted.Subscribe(func(AbortedTransfer) { abortedSender++ })
	receiver.OnAborted.Subscribe(func(AbortedTransfer) { abortedReceiver++ })

	data := payload(100)
	require.NoError(t, sender.Send(0x28, 0x29, 0xFE00, data))

	for ticked := 0; ticked < 5000; ticked += 10 {
		require.NoError(t, sender.Tick(10))
		require.NoError(t, receiver.Tick(10))
	}

	require.Equal(t, 1, completed)
	assert.Equal(t, data, got.Data)
	assert.Equal(t, 0, abortedSender)
	assert.Equal(t, 0, abortedReceiver)

	key := Key{Source: 0x28, Destination: 0x29, PGN: 0xFE00, Role: RoleSender}
	sess := sender.sessions[key]
	if sess != nil {
		assert.Equal(t, stateComplete, sess.state)
	}
}

// TestEngine_TP_Timeout is spec.md §8 scenario 4: the sender emits RTS and
// never receives a CTS; after SenderWaitReplyMs it aborts with
// AbortReasonTimeout and OnAborted fires exactly once.
func TestEngine_TP_Timeout(t *testing.T) {
	sent := 0
	sender := NewEngine(Config{}, func(j1939.Frame) error {
		sent++
		return nil // frame vanishes, no CTS ever arrives
	})

	var gotReason j1939.AbortReason
	aborted := 0
	sender.OnAborted.Subscribe(func(ev AbortedTransfer) {
		aborted++
		gotReason = ev.Reason
	})

	require.NoError(t, sender.Send(0x28, 0x29, 0xFE00, payload(100)))
	assert.Equal(t, 1, sent)

	for ticked := int64(0); ticked < SenderWaitReplyMs; ticked += 10 {
		require.NoError(t, sender.Tick(10))
		if aborted > 0 {
			break
		}
	}

	require.Equal(t, 1, aborted)
	assert.Equal(t, j1939.AbortReasonTimeout, gotReason)
}

// TestEngine_BAM_Broadcast covers broadcast delivery: no CTS/EoMA
// handshake, just BAM followed by paced DT frames.
func TestEngine_BAM_Broadcast(t *testing.T) {
	sender, receiver := newPair(t)

	var got CompletedTransfer
	completed := 0
	receiver.OnComplete.Subscribe(func(ct CompletedTransfer) {
		got = ct
		completed++
	})

	data := payload(50)
	require.NoError(t, sender.Send(0x10, j1939.AddressGlobal, 0xFE00, data))

	for ticked := 0; ticked < 3000; ticked += 10 {
		require.NoError(t, sender.Tick(10))
		require.NoError(t, receiver.Tick(10))
	}

	require.Equal(t, 1, completed)
	assert.Equal(t, data, got.Data)
}

// TestEngine_ETP_RoundTrip exercises the Extended Transport Protocol path
// for a payload larger than TP's 1785-byte ceiling.
func TestEngine_ETP_RoundTrip(t *testing.T) {
	sender, receiver := newPair(t)

	var got CompletedTransfer
	completed := 0
	receiver.OnComplete.Subscribe(func(ct CompletedTransfer) {
		got = ct
		completed++
	})

	data := payload(2000)
	require.NoError(t, sender.Send(0x28, 0x29, 0xFE00, data))

	for ticked := 0; ticked < 60000; ticked += 10 {
		require.NoError(t, sender.Tick(10))
		require.NoError(t, receiver.Tick(10))
		if completed > 0 {
			break
		}
	}

	require.Equal(t, 1, completed)
	assert.Equal(t, data, got.Data)
}

// TestEngine_Send_rejectsOversizePayload covers the ETP ceiling check.
func TestEngine_Send_rejectsOversizePayload(t *testing.T) {
	sender := NewEngine(Config{}, func(j1939.Frame) error { return nil })
	err := sender.Send(0x28, 0x29, 0xFE00, make([]byte, j1939.MaxETPPayload+1))
	require.Error(t, err)
	var cfgErr j1939.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

// TestEngine_Send_rejectsDuplicateSession covers the "already in session"
// guard when a second Send targets the same (source, destination, pgn).
func TestEngine_Send_rejectsDuplicateSession(t *testing.T) {
	sender := NewEngine(Config{}, func(j1939.Frame) error { return nil })
	require.NoError(t, sender.Send(0x28, 0x29, 0xFE00, payload(100)))
	err := sender.Send(0x28, 0x29, 0xFE00, payload(100))
	require.Error(t, err)
}
