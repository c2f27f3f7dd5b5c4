package j1939

// Address is the 8-bit J1939 source/destination address. 0xFE means "no
// address claimed yet" (null), 0xFF means global/broadcast.
type Address = uint8

const (
	// AddressNull is the source address a control function must use before
	// it has claimed an address (e.g. when sending a Request for Address
	// Claimed of itself).
	AddressNull Address = 0xFE
	// AddressGlobal is the destination address meaning "all control
	// functions" (broadcast).
	AddressGlobal Address = 0xFF
)

// PGN is the 18-bit J1939 Parameter Group Number.
type PGN = uint32

// Well known PGNs used by the core network substrate (SAE J1939-21 / ISO
// 11783-3).
const (
	PGNRequest           PGN = 0xEA00
	PGNAcknowledge       PGN = 0xE800
	PGNAddressClaimed    PGN = 0xEE00
	PGNCommandedAddress  PGN = 0xFED8
	PGNTPConnManagement  PGN = 0xEC00
	PGNTPDataTransfer    PGN = 0xEB00
	PGNETPConnManagement PGN = 0xC800
	PGNETPDataTransfer   PGN = 0xC700
	PGNDM1               PGN = 0xFECA
	PGNDM2               PGN = 0xFECB
	PGNDM3               PGN = 0xFECC
	PGNDM11              PGN = 0xFED3
	PGNWheelBasedSpeed   PGN = 0xFE48
	PGNGroundBasedSpeed  PGN = 0xFE49
	PGNHeartbeat         PGN = 0xFFFE
	PGNVTToECU           PGN = 0xE600
	PGNECUToVT           PGN = 0xE700
	PGNMachineGuidance   PGN = 0xAC00
	PGNSystemCommand     PGN = 0xAD00
)

// PDUFormat returns the PDU-format byte ((pgn >> 8) & 0xFF) of a PGN.
func PDUFormat(pgn PGN) uint8 {
	return uint8((pgn >> 8) & 0xFF)
}

// IsBroadcastPGN reports whether pgn is PDU2 (broadcast, group-extension
// addressed) as opposed to PDU1 (destination-specific).
func IsBroadcastPGN(pgn PGN) bool {
	return PDUFormat(pgn) >= 240
}

// Identifier is the decoded form of a 29-bit extended CAN identifier as
// used by J1939: {priority, reserved, data page, PDU format, PDU specific,
// source}.
type Identifier struct {
	Priority    uint8
	DataPage    uint8
	PGN         PGN
	Source      Address
	Destination Address
}

// DecodeIdentifier decodes a 29-bit CAN identifier into its J1939 fields.
// For PDU1 (destination-specific) PGNs, the low byte of the identifier is
// the destination address and is excluded from the decoded PGN. For PDU2
// (broadcast) PGNs, the low byte is the group extension and folds into the
// PGN; Destination is set to AddressGlobal.
func DecodeIdentifier(id uint32) Identifier {
	priority := uint8((id >> 26) & 0x7)
	dataPage := uint8((id >> 24) & 0x1)
	pduFormat := uint8(id >> 16)
	pduSpecific := uint8(id >> 8)
	source := uint8(id)

	result := Identifier{
		Priority: priority,
		DataPage: dataPage,
		Source:   source,
	}
	if pduFormat < 240 {
		result.Destination = pduSpecific
		result.PGN = uint32(dataPage)<<16 | uint32(pduFormat)<<8
	} else {
		result.Destination = AddressGlobal
		result.PGN = uint32(dataPage)<<16 | uint32(pduFormat)<<8 | uint32(pduSpecific)
	}
	return result
}

// Encode packs an Identifier back into a 29-bit extended CAN identifier.
// Encode(Decode(id)) == id for every valid identifier.
func (i Identifier) Encode() uint32 {
	dataPage, pduFormat, pduSpecific := splitPGN(i.PGN)

	canID := uint32(i.Source)
	canID |= uint32(i.Priority&0x7) << 26
	canID |= uint32(dataPage&0x1) << 24
	canID |= uint32(pduFormat) << 16

	if pduFormat < 240 {
		canID |= uint32(i.Destination) << 8
	} else {
		canID |= uint32(pduSpecific) << 8
	}
	return canID
}

// splitPGN returns the data-page, PDU-format and PDU-specific (group
// extension, meaningful only for PDU2/broadcast PGNs) components of a PGN
// as they are laid out in a CAN identifier.
func splitPGN(pgn PGN) (dataPage uint8, pduFormat uint8, pduSpecific uint8) {
	dataPage = uint8((pgn >> 16) & 0x1)
	pduFormat = uint8((pgn >> 8) & 0xFF)
	pduSpecific = uint8(pgn & 0xFF)
	return
}
