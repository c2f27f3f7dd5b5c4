package transport

import "github.com/isoagnet/go-j1939/j1939"

// TP.CM / ETP.CM control byte multiplexor values (first byte of the
// connection-management data field), SAE J1939-21 §5.10 / ISO 11783-3.
const (
	cmRTS    byte = 0x10
	cmCTS    byte = 0x11
	cmEOMA   byte = 0x13
	cmBAM    byte = 0x20
	cmAbort  byte = 0xFF
	etpRTS   byte = 0x14
	etpCTS   byte = 0x15
	etpDPO   byte = 0x16
	etpEOMA  byte = 0x17
	etpAbort byte = 0xFF
)

// maxDTPayload is the number of payload bytes a single TP.DT/ETP.DT frame
// carries (byte 0 of the frame is the 1-based sequence number).
const maxDTPayload = 7

// packetsFor returns how many maxDTPayload-sized packets are needed to
// carry n bytes.
func packetsFor(n int) uint32 {
	return uint32((n + maxDTPayload - 1) / maxDTPayload)
}

func le16(v uint16) (lo, hi byte) {
	return byte(v), byte(v >> 8)
}

func pgn3(pgn j1939.PGN) [3]byte {
	return [3]byte{byte(pgn), byte(pgn >> 8), byte(pgn >> 16)}
}

func pgnFrom3(b []byte) j1939.PGN {
	return j1939.PGN(b[0]) | j1939.PGN(b[1])<<8 | j1939.PGN(b[2])<<16
}

// encodeRTS builds a TP.CM_RTS (or ETP.CM_RTS) control frame payload.
func encodeRTS(mode Mode, totalSize uint32, totalPackets uint32, maxPackets uint8, pgn j1939.PGN) []byte {
	p := pgn3(pgn)
	if mode == ModeTP {
		sizeLo, sizeHi := le16(uint16(totalSize))
		return []byte{cmRTS, sizeLo, sizeHi, byte(totalPackets), maxPackets, p[0], p[1], p[2]}
	}
	return []byte{
		etpRTS,
		byte(totalSize), byte(totalSize >> 8), byte(totalSize >> 16), byte(totalSize >> 24),
		p[0], p[1], p[2],
	}
}

// encodeCTS builds a TP.CM_CTS (or ETP.CM_CTS) control frame payload
// granting numPackets packets starting at nextPacket (1-based).
func encodeCTS(mode Mode, numPackets uint8, nextPacket uint32, pgn j1939.PGN) []byte {
	p := pgn3(pgn)
	if mode == ModeTP {
		return []byte{cmCTS, numPackets, byte(nextPacket), 0xFF, 0xFF, p[0], p[1], p[2]}
	}
	return []byte{
		etpCTS, numPackets,
		byte(nextPacket), byte(nextPacket >> 8), byte(nextPacket >> 16),
		p[0], p[1], p[2],
	}
}

// encodeDPO builds an ETP.CM_DPO (Data Packet Offset) control frame: the
// 0-based offset added to each DT sequence number of the upcoming window
// (one less than the window's first 1-based packet number).
func encodeDPO(numPackets uint8, offset uint32, pgn j1939.PGN) []byte {
	p := pgn3(pgn)
	return []byte{
		etpDPO, numPackets,
		byte(offset), byte(offset >> 8), byte(offset >> 16),
		p[0], p[1], p[2],
	}
}

// encodeEOMA builds a TP.CM_End-of-Message-Acknowledge (or ETP equivalent)
// control frame payload.
func encodeEOMA(mode Mode, totalSize uint32, totalPackets uint32, pgn j1939.PGN) []byte {
	p := pgn3(pgn)
	if mode == ModeTP {
		sizeLo, sizeHi := le16(uint16(totalSize))
		return []byte{cmEOMA, sizeLo, sizeHi, byte(totalPackets), 0xFF, p[0], p[1], p[2]}
	}
	return []byte{
		etpEOMA,
		byte(totalSize), byte(totalSize >> 8), byte(totalSize >> 16), byte(totalSize >> 24),
		p[0], p[1], p[2],
	}
}

// encodeBAM builds a TP.CM_BAM control frame payload for a broadcast
// announce message.
func encodeBAM(totalSize uint32, totalPackets uint32, pgn j1939.PGN) []byte {
	p := pgn3(pgn)
	sizeLo, sizeHi := le16(uint16(totalSize))
	return []byte{cmBAM, sizeLo, sizeHi, byte(totalPackets), 0xFF, p[0], p[1], p[2]}
}

// encodeAbort builds a Connection Abort control frame payload for pgn with
// the given reason code.
func encodeAbort(reason j1939.AbortReason, pgn j1939.PGN) []byte {
	p := pgn3(pgn)
	return []byte{cmAbort, byte(reason), 0xFF, 0xFF, 0xFF, p[0], p[1], p[2]}
}

// encodeDT builds a TP.DT/ETP.DT data frame payload: 1-based sequence
// number followed by up to 7 payload bytes, padded with 0xFF.
func encodeDT(sequence uint8, chunk []byte) []byte {
	out := make([]byte, 8)
	out[0] = sequence
	for i := 1; i < 8; i++ {
		out[i] = 0xFF
	}
	copy(out[1:], chunk)
	return out
}
