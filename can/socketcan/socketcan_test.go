package socketcan

import (
	"fmt"
	"testing"

	"github.com/isoagnet/go-j1939/j1939"
	"github.com/stretchr/testify/assert"
)

// sudo ip link set can0 down && sudo /sbin/ip link set can0 up type can bitrate 250000

// xTestEndpoint_Listen is a manual hardware check, not run by `go test`
// (prefix is deliberately not "Test"): it needs a real or vcan CAN
// interface named can0.
func xTestEndpoint_Listen(t *testing.T) {
	ep, err := NewEndpoint("can0")
	if err != nil {
		assert.NoError(t, err)
		return
	}
	defer ep.Close()

	ep.SetReceiveCallback(func(frame j1939.Frame) {
		fmt.Printf("frame: %+v\n", frame)
	})
	ep.Listen()

	frame, err := ep.readRawFrame()
	if err != nil {
		assert.NoError(t, err)
		return
	}
	fmt.Printf("frame: %+v\n", frame)
}
