package guidance

import (
	"testing"

	"github.com/isoagnet/go-j1939/internal/j1939test"
	"github.com/isoagnet/go-j1939/j1939"
	"github.com/isoagnet/go-j1939/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand_EncodeDecodeRoundTrip(t *testing.T) {
	cmd := Command{CurvaturePerM: 1.25, RequestStatus: StatusReady, CommandStatus: StatusActive}
	data := EncodeCommand(cmd)

	got, err := DecodeCommand(0x10, data)
	require.NoError(t, err)
	assert.InDelta(t, cmd.CurvaturePerM, got.CurvaturePerM, curvatureScale)
	assert.Equal(t, cmd.RequestStatus, got.RequestStatus)
	assert.Equal(t, cmd.CommandStatus, got.CommandStatus)
}

func TestReceiver_firesOnTimeoutAfterSilence(t *testing.T) {
	ep := &j1939test.FakeEndpoint{}
	mgr := network.NewManager(network.Config{Port: 0}, ep)
	receiver := NewReceiver(mgr, 0x40, 100)

	id := j1939.Identifier{Priority: 3, PGN: j1939.PGNMachineGuidance, Source: 0x40, Destination: j1939.AddressGlobal}
	ep.Deliver(j1939.Frame{ID: id.Encode(), Data: EncodeCommand(Command{CurvaturePerM: 0})})

	timedOut := 0
	receiver.OnTimeout.Subscribe(func(struct{}) { timedOut++ })

	for ticked := 0; ticked < 90; ticked += 10 {
		receiver.Tick(10)
	}
	assert.Equal(t, 0, timedOut)

	for ticked := 0; ticked < 20; ticked += 10 {
		receiver.Tick(10)
	}
	assert.Equal(t, 1, timedOut)
}
