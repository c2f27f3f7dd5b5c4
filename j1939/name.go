package j1939

import (
	"encoding/binary"
	"fmt"
)

// Name is the 64-bit J1939 device identity used both to identify a control
// function and, by its raw numeric value, to arbitrate address contention:
// the control function with the numerically smaller NAME wins a contest for
// the same address. Field widths below follow SAE J1939-81 / ISO 11783-5.
type Name struct {
	IdentityNumber          uint32 // 21 bits
	ManufacturerCode        uint16 // 11 bits
	ECUInstance             uint8  // 3 bits
	FunctionInstance        uint8  // 5 bits
	FunctionCode            uint8  // 8 bits
	DeviceClass             uint8  // 7 bits
	DeviceClassInstance     uint8  // 4 bits
	IndustryGroup           uint8  // 3 bits
	ArbitraryAddressCapable bool
}

// field bit widths, used both to validate NewName's input and to mask
// Bytes()'s output.
const (
	identityNumberBits   = 21
	manufacturerCodeBits = 11
	ecuInstanceBits      = 3
	functionInstanceBits = 5
	deviceClassBits      = 7
	deviceClassInstBits  = 4
	industryGroupBits    = 3
)

func maxValueFor(bits uint) uint32 {
	return (uint32(1) << bits) - 1
}

// NewName validates each field against its bit width before constructing a
// Name, returning ConfigError on overflow instead of silently truncating.
func NewName(n Name) (Name, error) {
	if n.IdentityNumber > maxValueFor(identityNumberBits) {
		return Name{}, ConfigError{Reason: fmt.Sprintf("identity number %d exceeds 21 bits", n.IdentityNumber)}
	}
	if uint32(n.ManufacturerCode) > maxValueFor(manufacturerCodeBits) {
		return Name{}, ConfigError{Reason: fmt.Sprintf("manufacturer code %d exceeds 11 bits", n.ManufacturerCode)}
	}
	if uint32(n.ECUInstance) > maxValueFor(ecuInstanceBits) {
		return Name{}, ConfigError{Reason: fmt.Sprintf("ECU instance %d exceeds 3 bits", n.ECUInstance)}
	}
	if uint32(n.FunctionInstance) > maxValueFor(functionInstanceBits) {
		return Name{}, ConfigError{Reason: fmt.Sprintf("function instance %d exceeds 5 bits", n.FunctionInstance)}
	}
	if uint32(n.DeviceClass) > maxValueFor(deviceClassBits) {
		return Name{}, ConfigError{Reason: fmt.Sprintf("device class %d exceeds 7 bits", n.DeviceClass)}
	}
	if uint32(n.DeviceClassInstance) > maxValueFor(deviceClassInstBits) {
		return Name{}, ConfigError{Reason: fmt.Sprintf("device class instance %d exceeds 4 bits", n.DeviceClassInstance)}
	}
	if uint32(n.IndustryGroup) > maxValueFor(industryGroupBits) {
		return Name{}, ConfigError{Reason: fmt.Sprintf("industry group %d exceeds 3 bits", n.IndustryGroup)}
	}
	return n, nil
}

// Bytes encodes the Name to its 8-byte big-endian wire representation, as
// carried in the data field of an Address Claimed / Cannot Claim Address
// message.
func (n Name) Bytes() []byte {
	b := make([]byte, 8)

	b[0] = uint8(n.IdentityNumber)
	b[1] = uint8(n.IdentityNumber >> 8)
	b[2] = uint8(n.IdentityNumber>>16)&0b1_1111 | uint8(n.ManufacturerCode&0b111)<<5
	b[3] = uint8(n.ManufacturerCode >> 3)
	b[4] = n.ECUInstance&0b111 | (n.FunctionInstance&0b1_1111)<<3
	b[5] = n.FunctionCode
	b[6] = (n.DeviceClass & 0b111_1111) << 1
	arbitrary := uint8(0)
	if n.ArbitraryAddressCapable {
		arbitrary = 1
	}
	b[7] = n.DeviceClassInstance&0b1111 | (n.IndustryGroup&0b111)<<4 | arbitrary<<7

	return b
}

// Uint64 returns the Name's raw 64-bit value as carried big-endian on the
// wire. This is the value used for arbitration ordering: numerically
// smaller wins.
func (n Name) Uint64() uint64 {
	return binary.BigEndian.Uint64(n.Bytes())
}

// NameFromBytes decodes an 8-byte big-endian wire representation back into
// a Name. NameFromBytes(n.Bytes()) == n for every Name produced by NewName.
func NameFromBytes(b []byte) (Name, error) {
	if len(b) != 8 {
		return Name{}, fmt.Errorf("j1939: NAME must be exactly 8 bytes, got %d", len(b))
	}
	identity := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2]&0b1_1111)<<16
	manufacturer := uint16(b[2]>>5) | uint16(b[3])<<3
	return Name{
		IdentityNumber:          identity,
		ManufacturerCode:        manufacturer,
		ECUInstance:             b[4] & 0b111,
		FunctionInstance:        b[4] >> 3,
		FunctionCode:            b[5],
		DeviceClass:             b[6] >> 1,
		DeviceClassInstance:     b[7] & 0b1111,
		IndustryGroup:           (b[7] >> 4) & 0b111,
		ArbitraryAddressCapable: b[7]>>7 != 0,
	}, nil
}

// NameFromUint64 decodes a raw 64-bit NAME value (as compared for
// arbitration) back into its structured fields.
func NameFromUint64(raw uint64) (Name, error) {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, raw)
	return NameFromBytes(b)
}

// Less reports whether n has priority over other in an address contest: the
// strictly numerically smaller raw NAME value wins.
func (n Name) Less(other Name) bool {
	return n.Uint64() < other.Uint64()
}

func (n Name) String() string {
	return fmt.Sprintf("NAME(%#016x)", n.Uint64())
}
