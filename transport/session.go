// Package transport implements the ISO 11783-3 / SAE J1939-21 Transport
// Protocol (TP.CM / TP.DT) and Extended Transport Protocol (ETP.CM /
// ETP.DT) session engine: fragmentation and reassembly of multi-frame
// messages with flow control and timeouts (spec.md §4.2). A session whose
// timer expires is aborted; no retry CTS is sent.
package transport

import (
	"github.com/isoagnet/go-j1939/j1939"
	"github.com/rs/xid"
)

// Role distinguishes which side of a session this engine instance is
// playing.
type Role uint8

const (
	RoleSender Role = iota
	RoleReceiver
)

func (r Role) String() string {
	if r == RoleSender {
		return "sender"
	}
	return "receiver"
}

// Mode selects between the classic Transport Protocol (payloads 9..1785
// bytes) and the Extended Transport Protocol (1786..117440512 bytes).
type Mode uint8

const (
	ModeTP Mode = iota
	ModeETP
)

func (m Mode) String() string {
	if m == ModeTP {
		return "TP"
	}
	return "ETP"
}

// sessionState is the internal lifecycle position of a Session, driving
// which timer is currently armed.
type sessionState uint8

const (
	stateIdle sessionState = iota
	stateSenderWaitCTS
	stateSenderSendingData
	stateSenderWaitEOMA
	stateReceiverWaitData
	stateReceiverWaitDPO // ETP only: waiting for the data packet offset frame after CTS
	stateComplete
	stateAborted
)

// Key identifies a Session uniquely within an Engine: one session per
// (direction, source, destination, PGN), as spec.md §3 requires.
type Key struct {
	Source      j1939.Address
	Destination j1939.Address
	PGN         j1939.PGN
	Role        Role
}

// Session is one in-progress (or just-finished) TP/ETP transfer.
type Session struct {
	ID xid.ID

	Key  Key
	Mode Mode

	TotalSize    uint32
	TotalPackets uint16
	MaxPackets   uint8 // CTS/ETP.CM window size advertised/granted

	// ReceivedBitmap tracks, on the receiver side, which 1-based packet
	// numbers have arrived so far in the session.
	ReceivedBitmap map[uint32]bool
	// NextPacket is the next 1-based packet sequence number the sender
	// must emit.
	NextPacket uint32
	// WindowStart/WindowEnd bound the packet numbers granted by the most
	// recent CTS/ETP.CM-CTS (inclusive), 1-based.
	WindowStart uint32
	WindowEnd   uint32
	// DataPageOffset is the ETP 32-bit packet offset of the current
	// window, carried by the ETP.CM Data Packet Offset control frame.
	DataPageOffset uint32

	Data []byte

	state sessionState

	// remainingMs is the countdown for whichever timer is currently
	// armed for this session's state.
	remainingMs int64

	retryCount int
}

func (s *Session) String() string {
	return s.ID.String() + " " + s.Mode.String() + " " + s.Key.Role.String()
}

// IsActive reports whether the session is still in progress (neither
// completed nor aborted).
func (s *Session) IsActive() bool {
	return s.state != stateComplete && s.state != stateAborted
}
