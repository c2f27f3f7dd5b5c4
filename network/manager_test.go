package network

import (
	"testing"

	"github.com/isoagnet/go-j1939/internal/j1939test"
	"github.com/isoagnet/go-j1939/j1939"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testName(t *testing.T, identity uint32) j1939.Name {
	t.Helper()
	name, err := j1939.NewName(j1939.Name{IdentityNumber: identity, ManufacturerCode: 7, ArbitraryAddressCapable: true})
	require.NoError(t, err)
	return name
}

func TestManager_AddInternalControlFunction_claimsAddress(t *testing.T) {
	ep := &j1939test.FakeEndpoint{}
	mgr := NewManager(Config{Port: 0}, ep)

	cf, err := mgr.AddInternalControlFunction(testName(t, 1), 0x28)
	require.NoError(t, err)

	for i := 0; i < 30; i++ {
		require.NoError(t, mgr.Tick(10))
	}

	assert.Equal(t, j1939.ClaimStateClaimed, cf.State)
	assert.Equal(t, j1939.Address(0x28), cf.Address)
}

func TestManager_SendMessage_singleFrame(t *testing.T) {
	ep := &j1939test.FakeEndpoint{}
	mgr := NewManager(Config{Port: 0}, ep)

	err := mgr.SendMessage(j1939.Message{PGN: j1939.PGNHeartbeat, Source: 0x28, Destination: j1939.AddressGlobal, Data: []byte{1}})
	require.NoError(t, err)
	assert.Equal(t, 1, ep.SentCount())
}

func TestManager_handleAddressClaimed_tracksExternalCF(t *testing.T) {
	ep := &j1939test.FakeEndpoint{}
	mgr := NewManager(Config{Port: 0}, ep)

	name := testName(t, 99)
	id := j1939.Identifier{Priority: 6, PGN: j1939.PGNAddressClaimed, Source: 0x50, Destination: j1939.AddressGlobal}
	ep.Deliver(j1939.Frame{ID: id.Encode(), Data: name.Bytes()})

	external := mgr.ExternalControlFunctions()
	require.Len(t, external, 1)
	assert.Equal(t, j1939.Address(0x50), external[0].Address)

	addr, found := mgr.ControlFunctionByName(name)
	assert.True(t, found)
	assert.Equal(t, j1939.Address(0x50), addr)
}

func TestManager_AddPartnerControlFunction_firesOnFound(t *testing.T) {
	ep := &j1939test.FakeEndpoint{}
	mgr := NewManager(Config{Port: 0}, ep)

	partner := mgr.AddPartnerControlFunction(j1939.NameFilterIdentityNumber(42))

	found := 0
	mgr.OnPartnerFound().Subscribe(func(cf *j1939.PartnerControlFunction) { found++ })

	name := testName(t, 42)
	id := j1939.Identifier{Priority: 6, PGN: j1939.PGNAddressClaimed, Source: 0x60, Destination: j1939.AddressGlobal}
	ep.Deliver(j1939.Frame{ID: id.Encode(), Data: name.Bytes()})

	assert.Equal(t, 1, found)
	assert.True(t, partner.Found)
	assert.Equal(t, j1939.Address(0x60), partner.Address)
}

func TestManager_externalCF_prunedAfterTimeout(t *testing.T) {
	ep := &j1939test.FakeEndpoint{}
	mgr := NewManager(Config{Port: 0, ExternalCFTimeoutMs: 100}, ep)

	name := testName(t, 7)
	id := j1939.Identifier{Priority: 6, PGN: j1939.PGNAddressClaimed, Source: 0x70, Destination: j1939.AddressGlobal}
	ep.Deliver(j1939.Frame{ID: id.Encode(), Data: name.Bytes()})
	require.Len(t, mgr.ExternalControlFunctions(), 1)

	for i := 0; i < 20; i++ {
		require.NoError(t, mgr.Tick(10))
	}
	assert.Empty(t, mgr.ExternalControlFunctions())
}

func TestManager_OnMessage_dispatchesByPGN(t *testing.T) {
	ep := &j1939test.FakeEndpoint{}
	mgr := NewManager(Config{Port: 0}, ep)

	received := 0
	mgr.OnMessage(j1939.PGNHeartbeat, func(j1939.Message) { received++ })

	id := j1939.Identifier{Priority: 6, PGN: j1939.PGNHeartbeat, Source: 0x10, Destination: j1939.AddressGlobal}
	ep.Deliver(j1939.Frame{ID: id.Encode(), Data: []byte{1}})

	assert.Equal(t, 1, received)
}
