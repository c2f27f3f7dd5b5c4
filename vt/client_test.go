package vt

import (
	"testing"

	"github.com/isoagnet/go-j1939/internal/j1939test"
	"github.com/isoagnet/go-j1939/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWiredPair(t *testing.T) (*network.Manager, *network.Manager, *j1939test.FakeEndpoint, *j1939test.FakeEndpoint) {
	t.Helper()
	epA := &j1939test.FakeEndpoint{}
	epB := &j1939test.FakeEndpoint{}
	mgrA := network.NewManager(network.Config{Port: 0}, epA)
	mgrB := network.NewManager(network.Config{Port: 0}, epB)
	return mgrA, mgrB, epA, epB
}

// wireBus relays every frame sent by either endpoint to the other, looping
// until a round produces no new traffic, so a single flush() carries a
// request/response/ack chain all the way through.
type wireBus struct {
	epA, epB     *j1939test.FakeEndpoint
	seenA, seenB int
}

func (w *wireBus) flush() {
	for {
		progressed := false
		for w.seenA < w.epA.SentCount() {
			w.epB.Deliver(w.epA.Sent[w.seenA])
			w.seenA++
			progressed = true
		}
		for w.seenB < w.epB.SentCount() {
			w.epA.Deliver(w.epB.Sent[w.seenB])
			w.seenB++
			progressed = true
		}
		if !progressed {
			return
		}
	}
}

func TestClient_Connect_reachesConnected(t *testing.T) {
	mgrClient, mgrServer, epClient, epServer := newWiredPair(t)
	bus := &wireBus{epA: epClient, epB: epServer}

	pool := make([]byte, 8)
	client := NewClient(mgrClient, 0x10, 0x26, pool)
	server := NewServer(mgrServer, 0x26)

	var states []ClientState
	client.OnStateChanged.Subscribe(func(s ClientState) { states = append(states, s) })

	require.NoError(t, client.Connect())
	assert.Equal(t, ClientWaitForVTStatus, client.State())
	bus.flush()

	// Server's periodic status broadcast is what moves the client forward
	// through Get Memory, object pool upload and End of Object Pool.
	require.NoError(t, server.Tick(StatusBroadcastIntervalMs))
	bus.flush()

	assert.Equal(t, ClientConnected, client.State())
	assert.Contains(t, states, ClientWaitForGetMemoryResponse)
	assert.Contains(t, states, ClientUploadingObjectPool)
	assert.Contains(t, states, ClientConnected)

	assert.Equal(t, ServerClientActive, server.ClientState(0x10))
}

func TestClient_IssueCommand_rejectedBeforeConnected(t *testing.T) {
	mgrClient, _, _, _ := newWiredPair(t)
	client := NewClient(mgrClient, 0x10, 0x26, []byte{1, 2, 3})

	err := client.IssueCommand([]byte{0x01})
	require.Error(t, err)
}

func TestClient_Tick_dropsToDisconnectedOnSilence(t *testing.T) {
	mgrClient, _, _, _ := newWiredPair(t)
	client := NewClient(mgrClient, 0x10, 0x26, nil)
	require.NoError(t, client.Connect())

	for ticked := 0; ticked < InactivityTimeoutMs+100; ticked += 100 {
		client.Tick(100)
	}
	assert.Equal(t, ClientDisconnected, client.State())
}
