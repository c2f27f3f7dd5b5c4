package j1939

import "time"

// MaxFrameDataLength is the maximum number of data bytes a single classic
// CAN 2.0B frame carries.
const MaxFrameDataLength = 8

// Frame is a single wire-level CAN frame: a 29-bit extended identifier and
// up to 8 data bytes. It is the unit exchanged with the host-provided CAN
// link driver (network.Endpoint); the driver's own bit-timing/arbitration
// concerns are out of scope for this stack.
type Frame struct {
	ID   uint32 // 29-bit extended identifier
	Data []byte // 0..8 bytes
	Time time.Time
}

// Identifier decodes the Frame's raw 29-bit ID into its J1939 fields.
func (f Frame) Identifier() Identifier {
	return DecodeIdentifier(f.ID)
}

// MaxSingleFramePayload is the largest payload that can be sent as one CAN
// frame; anything larger must go through the Transport Protocol engine.
const MaxSingleFramePayload = MaxFrameDataLength

// MaxTPPayload is the largest payload the classic Transport Protocol (TP.CM
// / TP.DT) can carry: 255 packets * 7 bytes.
const MaxTPPayload = 1785

// MaxETPPayload is the largest payload the Extended Transport Protocol
// (ETP.CM / ETP.DT) can carry: 2^24 packets (a 24-bit packet number) * 7
// bytes per packet = 117440512 bytes.
const MaxETPPayload = 117440512

// Message is a logical, reassembled (or not-yet-fragmented) application
// payload: a PGN plus up to ~117MB of data. Destination is AddressGlobal
// for broadcast PGNs.
type Message struct {
	PGN         PGN
	Priority    uint8
	Source      Address
	Destination Address
	Data        []byte
	Timestamp   time.Time
}

// RequiresTransportProtocol reports whether m.Data is too large for a
// single CAN frame and must be fragmented via TP or ETP.
func (m Message) RequiresTransportProtocol() bool {
	return len(m.Data) > MaxSingleFramePayload
}

// RequiresExtendedTransportProtocol reports whether m.Data exceeds the
// classic Transport Protocol's 1785-byte ceiling and must use ETP.
func (m Message) RequiresExtendedTransportProtocol() bool {
	return len(m.Data) > MaxTPPayload
}
