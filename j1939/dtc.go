package j1939

// DTC is an active or previously-active diagnostic trouble code as used by
// DM1/DM2/DM3/DM11 (SAE J1939-73).
type DTC struct {
	// SPN is the 19-bit Suspect Parameter Number identifying the
	// signal/subsystem at fault.
	SPN uint32
	// FMI is the 5-bit Failure Mode Identifier.
	FMI uint8
	// OccurrenceCount is the 7-bit count of how many times the fault has
	// been observed since it was last cleared.
	OccurrenceCount uint8
	// ConversionMethod is the 1-bit SPN conversion method flag.
	ConversionMethod uint8
}

// LampStatus mirrors the DM1 lamp/flash byte pair as named severities
// rather than raw bits, matching the decoded shape the original C++
// diagnostic protocol exposes (see original_source/test/diagnostic test
// fixtures).
type LampStatus struct {
	MalfunctionIndicator bool
	RedStopLamp          bool
	AmberWarningLamp     bool
	ProtectLamp          bool

	MalfunctionIndicatorFlash FlashState
	RedStopLampFlash          FlashState
	AmberWarningLampFlash     FlashState
	ProtectLampFlash          FlashState
}

// FlashState is the 2-bit lamp flash rate as defined by SAE J1939-73.
type FlashState uint8

const (
	FlashStateSlow FlashState = iota
	FlashStateFast
	FlashStateReserved
	FlashStateOff
)
