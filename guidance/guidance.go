// Package guidance implements the ISO 11783-7 machine guidance (PGN
// 0xAC00) and system command (PGN 0xAD00) messages (spec.md §5.4
// supplement): signed curvature commands at 0.25 m^-1 resolution with an
// 8031.25 offset, plus a command-timeout watchdog on the receiving side.
package guidance

import (
	"encoding/binary"

	"github.com/isoagnet/go-j1939/j1939"
	"github.com/isoagnet/go-j1939/network"
)

const (
	curvatureScale  = 0.25
	curvatureOffset = 8031.25
)

// Status mirrors the guidance system's own readiness/engagement bits as
// carried on PGN 0xAC00 byte 0.
type Status uint8

const (
	StatusNotAvailable Status = iota
	StatusOff
	StatusActive
	StatusReady
)

// Command is a decoded machine-guidance command: requested curvature in
// 1/m plus a readiness status.
type Command struct {
	Source        j1939.Address
	CurvaturePerM float64
	RequestStatus Status
	CommandStatus Status
}

func encodeCurvature(curvaturePerM float64) uint16 {
	return uint16((curvaturePerM + curvatureOffset) / curvatureScale)
}

func decodeCurvature(raw uint16) float64 {
	return float64(raw)*curvatureScale - curvatureOffset
}

// EncodeCommand builds a PGN 0xAC00 payload.
func EncodeCommand(c Command) []byte {
	data := make([]byte, 8)
	for i := range data {
		data[i] = 0xFF
	}
	binary.LittleEndian.PutUint16(data[0:2], encodeCurvature(c.CurvaturePerM))
	data[2] = uint8(c.RequestStatus) & 0x3
	data[2] |= (uint8(c.CommandStatus) & 0x3) << 2
	return data
}

// DecodeCommand parses a PGN 0xAC00 payload.
func DecodeCommand(source j1939.Address, data []byte) (Command, error) {
	if len(data) < 3 {
		return Command{}, j1939.ConfigError{Reason: "guidance: command payload shorter than 3 bytes"}
	}
	raw := binary.LittleEndian.Uint16(data[0:2])
	return Command{
		Source:        source,
		CurvaturePerM: decodeCurvature(raw),
		RequestStatus: Status(data[2] & 0x3),
		CommandStatus: Status((data[2] >> 2) & 0x3),
	}, nil
}

// DefaultCommandTimeoutMs is how long a receiver waits for a new guidance
// command before treating the channel as stale: it emits OnTimeout and
// stops watching until the next command arrives (a supplement beyond
// spec.md's original scope, needed for a safe machine-guidance consumer).
const DefaultCommandTimeoutMs = 250

// Receiver tracks the most recent guidance command from a specific source
// and raises OnTimeout if none arrives within its timeout (the timeoutMs
// given to NewReceiver, or DefaultCommandTimeoutMs).
type Receiver struct {
	source     j1939.Address
	timeoutMs  int64
	remainingMs int64
	active     bool

	OnCommand j1939.Event[Command]
	OnTimeout j1939.Event[struct{}]
}

// NewReceiver subscribes to guidance commands from source on mgr.
func NewReceiver(mgr *network.Manager, source j1939.Address, timeoutMs int64) *Receiver {
	if timeoutMs <= 0 {
		timeoutMs = DefaultCommandTimeoutMs
	}
	r := &Receiver{source: source, timeoutMs: timeoutMs, remainingMs: timeoutMs}
	mgr.OnMessage(j1939.PGNMachineGuidance, func(msg j1939.Message) {
		if msg.Source != source {
			return
		}
		cmd, err := DecodeCommand(msg.Source, msg.Data)
		if err != nil {
			return
		}
		r.remainingMs = r.timeoutMs
		r.active = true
		r.OnCommand.Emit(cmd)
	})
	return r
}

// Tick advances the watchdog timer, firing OnTimeout once per silence
// window.
func (r *Receiver) Tick(elapsedMs int64) {
	if !r.active {
		return
	}
	r.remainingMs -= elapsedMs
	if r.remainingMs <= 0 {
		r.active = false
		r.OnTimeout.Emit(struct{}{})
	}
}

// Sender issues guidance commands as source.
type Sender struct {
	mgr    *network.Manager
	source j1939.Address
}

// NewSender constructs a Sender broadcasting guidance commands as source.
func NewSender(mgr *network.Manager, source j1939.Address) *Sender {
	return &Sender{mgr: mgr, source: source}
}

// Send broadcasts a guidance command.
func (s *Sender) Send(c Command) error {
	return s.mgr.SendMessage(j1939.Message{
		PGN: j1939.PGNMachineGuidance, Priority: 3, Source: s.source, Destination: j1939.AddressGlobal,
		Data: EncodeCommand(c),
	})
}
