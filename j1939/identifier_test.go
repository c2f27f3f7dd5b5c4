package j1939

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsBroadcastPGN(t *testing.T) {
	var testCases = []struct {
		name   string
		pgn    PGN
		expect bool
	}{
		{name: "ok, destination specific, TP.CM", pgn: PGNTPConnManagement, expect: false},
		{name: "ok, destination specific, request", pgn: PGNRequest, expect: false},
		{name: "ok, destination specific by PDU format, address claimed", pgn: PGNAddressClaimed, expect: false},
		{name: "ok, broadcast, DM1", pgn: PGNDM1, expect: true},
		{name: "ok, boundary, pdu format 239 is destination specific", pgn: 239 << 8, expect: false},
		{name: "ok, boundary, pdu format 240 is broadcast", pgn: 240 << 8, expect: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := IsBroadcastPGN(tc.pgn)

			assert.Equal(t, tc.expect, result)
		})
	}
}

func TestDecodeIdentifier(t *testing.T) {
	var testCases = []struct {
		name   string
		given  uint32
		expect Identifier
	}{
		{
			name:  "ok, destination specific, TP.CM from 0x28 to 0x30, priority 7",
			given: 0x1CEC3028, // priority 7, PF 0xEC, PS 0x30 (dest 0x30), source 0x28
			expect: Identifier{
				Priority:    7,
				DataPage:    0,
				PGN:         PGNTPConnManagement,
				Source:      0x28,
				Destination: 0x30,
			},
		},
		{
			name:  "ok, broadcast, address claimed from 0x28, priority 6",
			given: 0x18EEFF28,
			expect: Identifier{
				Priority:    6,
				DataPage:    0,
				PGN:         PGNAddressClaimed,
				Source:      0x28,
				Destination: AddressGlobal,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := DecodeIdentifier(tc.given)

			assert.Equal(t, tc.expect, result)
		})
	}
}

func TestIdentifier_Encode(t *testing.T) {
	var testCases = []struct {
		name   string
		given  Identifier
		expect uint32
	}{
		{
			name: "ok, destination specific",
			given: Identifier{
				Priority:    7,
				PGN:         PGNTPConnManagement,
				Source:      0x28,
				Destination: 0x30,
			},
			expect: 0x1CEC3028,
		},
		{
			name: "ok, broadcast",
			given: Identifier{
				Priority:    6,
				PGN:         PGNAddressClaimed,
				Source:      0x28,
				Destination: AddressGlobal,
			},
			expect: 0x18EEFF28,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := tc.given.Encode()

			assert.Equal(t, tc.expect, result)
		})
	}
}

func TestIdentifier_RoundTrip(t *testing.T) {
	for priority := uint8(0); priority < 8; priority++ {
		for _, pgn := range []PGN{PGNRequest, PGNAddressClaimed, PGNTPConnManagement, PGNDM1, PGNHeartbeat} {
			id := Identifier{
				Priority:    priority,
				PGN:         pgn,
				Source:      0x28,
				Destination: 0x30,
			}
			encoded := id.Encode()
			decoded := DecodeIdentifier(encoded)

			assert.Equal(t, encoded, decoded.Encode(), "pgn %x priority %d", pgn, priority)
		}
	}
}
