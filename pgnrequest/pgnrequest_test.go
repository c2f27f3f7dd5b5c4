package pgnrequest

import (
	"testing"

	"github.com/isoagnet/go-j1939/internal/j1939test"
	"github.com/isoagnet/go-j1939/j1939"
	"github.com/isoagnet/go-j1939/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_answersRegisteredPGN(t *testing.T) {
	ep := &j1939test.FakeEndpoint{}
	mgr := network.NewManager(network.Config{Port: 0}, ep)
	registry := NewRegistry(mgr, 0x28)

	registry.Register(j1939.PGNHeartbeat, func(requester j1939.Address) ([]byte, bool) {
		return []byte{9}, true
	})

	requester := NewRequester(mgr, 0x30)
	require.NoError(t, requester.Request(0x28, j1939.PGNHeartbeat))

	ep.Deliver(ep.LastSent())

	require.Equal(t, 2, ep.SentCount())
	reply := ep.LastSent()
	id := j1939.DecodeIdentifier(reply.ID)
	assert.Equal(t, j1939.PGNHeartbeat, id.PGN)
	// PGNHeartbeat is a PDU2 PGN: its identifier has no destination field,
	// so the reply decodes as global.
	assert.Equal(t, j1939.AddressGlobal, id.Destination)
	assert.Equal(t, []byte{9}, reply.Data)
}

func TestRegistry_negativeAckForUnknownPGN(t *testing.T) {
	ep := &j1939test.FakeEndpoint{}
	mgr := network.NewManager(network.Config{Port: 0}, ep)
	NewRegistry(mgr, 0x28)

	requester := NewRequester(mgr, 0x30)
	require.NoError(t, requester.Request(0x28, j1939.PGNDM1))
	ep.Deliver(ep.LastSent())

	reply := ep.LastSent()
	id := j1939.DecodeIdentifier(reply.ID)
	assert.Equal(t, j1939.PGNAcknowledge, id.PGN)
	assert.Equal(t, byte(ackNegative), reply.Data[0])
}
