package speed

import (
	"encoding/binary"
	"testing"

	"github.com/isoagnet/go-j1939/internal/j1939test"
	"github.com/isoagnet/go-j1939/j1939"
	"github.com/isoagnet/go-j1939/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpeed_EncodeDecodeRoundTrip(t *testing.T) {
	data := EncodeWheelBased(j1939.Some(42.5), j1939.Some(100.25))
	r, err := decode(0x10, data)
	require.NoError(t, err)

	v, ok := r.SpeedMs.Get()
	require.True(t, ok)
	assert.InDelta(t, 42.5, v, 0.001)

	d, ok := r.DistanceM.Get()
	require.True(t, ok)
	assert.InDelta(t, 100.25, d, 0.125)
}

func TestSpeed_encodesSpecExample_5msAs5000Raw(t *testing.T) {
	data := EncodeWheelBased(j1939.Some(5.0), j1939.None[float64]())
	assert.Equal(t, uint16(5000), binary.LittleEndian.Uint16(data[0:2]))

	r, err := decode(0x10, data)
	require.NoError(t, err)
	v, ok := r.SpeedMs.Get()
	require.True(t, ok)
	assert.InDelta(t, 5.0, v, 0.001)
}

func TestSpeed_absentFieldsRoundTrip(t *testing.T) {
	data := EncodeWheelBased(j1939.None[float64](), j1939.None[float64]())
	r, err := decode(0x10, data)
	require.NoError(t, err)

	_, ok := r.SpeedMs.Get()
	assert.False(t, ok)
	_, ok = r.DistanceM.Get()
	assert.False(t, ok)
}

func TestMonitor_decodesGroundBased(t *testing.T) {
	ep := &j1939test.FakeEndpoint{}
	mgr := network.NewManager(network.Config{Port: 0}, ep)
	monitor := NewMonitor(mgr)

	var got Reading
	n := 0
	monitor.OnGroundBased.Subscribe(func(r Reading) { got = r; n++ })

	data := EncodeGroundBased(j1939.Some(10.0), j1939.None[float64]())
	id := j1939.Identifier{Priority: 6, PGN: j1939.PGNGroundBasedSpeed, Source: 0x22, Destination: j1939.AddressGlobal}
	ep.Deliver(j1939.Frame{ID: id.Encode(), Data: data})

	require.Equal(t, 1, n)
	assert.Equal(t, j1939.Address(0x22), got.Source)
}
