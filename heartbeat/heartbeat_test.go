package heartbeat

import (
	"testing"

	"github.com/isoagnet/go-j1939/internal/j1939test"
	"github.com/isoagnet/go-j1939/j1939"
	"github.com/isoagnet/go-j1939/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSender_Tick_broadcastsOnInterval(t *testing.T) {
	ep := &j1939test.FakeEndpoint{}
	mgr := network.NewManager(network.Config{Port: 0}, ep)
	sender := NewSender(mgr, 0x28, 100)

	for i := 0; i < 9; i++ {
		require.NoError(t, sender.Tick(10))
	}
	assert.Equal(t, 0, ep.SentCount())

	require.NoError(t, sender.Tick(10))
	require.Equal(t, 1, ep.SentCount())
	assert.Equal(t, []byte{0}, ep.LastSent().Data)

	for i := 0; i < 10; i++ {
		require.NoError(t, sender.Tick(10))
	}
	require.Equal(t, 2, ep.SentCount())
	assert.Equal(t, []byte{1}, ep.LastSent().Data)
}

func TestMonitor_detectsMissedHeartbeatFromNeverHeardPeer(t *testing.T) {
	ep := &j1939test.FakeEndpoint{}
	mgr := network.NewManager(network.Config{Port: 0}, ep)
	monitor := NewMonitor(mgr, 100)

	var missed MissedHeartbeat
	n := 0
	monitor.OnMissed.Subscribe(func(m MissedHeartbeat) { missed = m; n++ })

	// No frame ever arrives from 0x30: only Track arms the watchdog.
	monitor.Track(0x30)

	monitor.Tick(299)
	assert.Equal(t, 0, n)

	monitor.Tick(1) // 300ms total: first miss, at MissFactor*intervalMs
	require.Equal(t, 1, n)
	assert.Equal(t, j1939.Address(0x30), missed.Source)
	assert.Equal(t, 1, missed.MissCount)

	monitor.Tick(99) // 399ms total: still just the one miss
	assert.Equal(t, 1, n)

	monitor.Tick(1) // 400ms total: second miss, one intervalMs after the first
	require.Equal(t, 2, n)
	assert.Equal(t, 2, missed.MissCount)
}

func TestMonitor_receivedHeartbeatResetsMissWatchdog(t *testing.T) {
	ep := &j1939test.FakeEndpoint{}
	mgr := network.NewManager(network.Config{Port: 0}, ep)
	monitor := NewMonitor(mgr, 100)

	n := 0
	monitor.OnMissed.Subscribe(func(m MissedHeartbeat) { n++ })

	id := j1939.Identifier{Priority: 6, PGN: j1939.PGNHeartbeat, Source: 0x30, Destination: j1939.AddressGlobal}
	ep.Deliver(j1939.Frame{ID: id.Encode(), Data: []byte{5}})

	monitor.Tick(290)
	assert.Equal(t, 0, n)

	monitor.Tick(20)
	assert.Equal(t, 1, n)
}
