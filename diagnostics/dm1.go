// Package diagnostics implements SAE J1939-73 active diagnostic trouble
// code reporting: DM1 (active codes), encode/decode and a Reporter/Monitor
// pair built on network.Manager (spec.md §5.1).
package diagnostics

import (
	"github.com/isoagnet/go-j1939/j1939"
	"github.com/isoagnet/go-j1939/network"
)

// bytesPerDTC is the wire size of one encoded DTC entry (SPN:19, FMI:5,
// OC:7, CM:1 bits packed into 4 bytes).
const bytesPerDTC = 4

// encodeLampStatus packs a LampStatus into the 2 status bytes + 2 flash bytes DM1
// uses ahead of the DTC list.
func encodeLampStatus(l j1939.LampStatus) [4]byte {
	var b [4]byte
	if l.MalfunctionIndicator {
		b[0] |= 0x80
	}
	if l.RedStopLamp {
		b[0] |= 0x20
	}
	if l.AmberWarningLamp {
		b[1] |= 0x40
	}
	if l.ProtectLamp {
		b[1] |= 0x10
	}

	b[2] |= uint8(l.MalfunctionIndicatorFlash) << 6
	b[2] |= uint8(l.RedStopLampFlash) << 4
	b[3] |= uint8(l.AmberWarningLampFlash) << 6
	b[3] |= uint8(l.ProtectLampFlash) << 4
	return b
}

func decodeLampStatus(b []byte) j1939.LampStatus {
	return j1939.LampStatus{
		MalfunctionIndicator:      b[0]&0x80 != 0,
		RedStopLamp:               b[0]&0x20 != 0,
		AmberWarningLamp:          b[1]&0x40 != 0,
		ProtectLamp:               b[1]&0x10 != 0,
		MalfunctionIndicatorFlash: j1939.FlashState((b[2] >> 6) & 0x3),
		RedStopLampFlash:          j1939.FlashState((b[2] >> 4) & 0x3),
		AmberWarningLampFlash:     j1939.FlashState((b[3] >> 6) & 0x3),
		ProtectLampFlash:          j1939.FlashState((b[3] >> 4) & 0x3),
	}
}

func encodeDTC(d j1939.DTC) [bytesPerDTC]byte {
	var b [bytesPerDTC]byte
	b[0] = byte(d.SPN)
	b[1] = byte(d.SPN >> 8)
	b[2] = byte((d.SPN>>16)&0x7) | (d.FMI&0x1F)<<3
	b[3] = (d.OccurrenceCount & 0x7F) | (d.ConversionMethod&0x1)<<7
	return b
}

func decodeDTC(b []byte) j1939.DTC {
	spn := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2]&0x7)<<16
	return j1939.DTC{
		SPN:              spn,
		FMI:              (b[2] >> 3) & 0x1F,
		OccurrenceCount:  b[3] & 0x7F,
		ConversionMethod: (b[3] >> 7) & 0x1,
	}
}

// EncodeDM1 builds a DM1 payload: 4 lamp-status bytes followed by 4 bytes
// per DTC. No DTCs with a zero LampStatus encodes the "all clear" message
// (lamps off, empty list); the lamp bytes always come from lamp.
func EncodeDM1(lamp j1939.LampStatus, dtcs []j1939.DTC) []byte {
	lampBytes := encodeLampStatus(lamp)
	out := make([]byte, 4, 4+bytesPerDTC*len(dtcs))
	copy(out, lampBytes[:])
	for _, d := range dtcs {
		b := encodeDTC(d)
		out = append(out, b[:]...)
	}
	return out
}

// DecodeDM1 parses a reassembled (or single-frame) DM1 payload.
func DecodeDM1(data []byte) (j1939.LampStatus, []j1939.DTC, error) {
	if len(data) < 4 {
		return j1939.LampStatus{}, nil, j1939.ConfigError{Reason: "diagnostics: DM1 payload shorter than 4 bytes"}
	}
	lamp := decodeLampStatus(data)
	rest := data[4:]
	if len(rest)%bytesPerDTC != 0 {
		return lamp, nil, j1939.ConfigError{Reason: "diagnostics: DM1 DTC section not a multiple of 4 bytes"}
	}
	dtcs := make([]j1939.DTC, 0, len(rest)/bytesPerDTC)
	for i := 0; i < len(rest); i += bytesPerDTC {
		dtcs = append(dtcs, decodeDTC(rest[i:i+bytesPerDTC]))
	}
	return lamp, dtcs, nil
}

// ObservedDM1 is emitted by Monitor whenever a DM1 message is received.
type ObservedDM1 struct {
	Source j1939.Address
	Lamp   j1939.LampStatus
	DTCs   []j1939.DTC
}

// Monitor decodes DM1 traffic observed on a network.Manager.
type Monitor struct {
	OnDM1 j1939.Event[ObservedDM1]
}

// NewMonitor subscribes to DM1 messages on mgr and decodes them.
func NewMonitor(mgr *network.Manager) *Monitor {
	m := &Monitor{}
	mgr.OnMessage(j1939.PGNDM1, func(msg j1939.Message) {
		lamp, dtcs, err := DecodeDM1(msg.Data)
		if err != nil {
			return
		}
		m.OnDM1.Emit(ObservedDM1{Source: msg.Source, Lamp: lamp, DTCs: dtcs})
	})
	return m
}

// Reporter sends this control function's own active DTC list as DM1,
// broadcast, whenever Report is called (e.g. on change or on a fixed
// interval driven by the caller's own ticking).
type Reporter struct {
	mgr    *network.Manager
	source j1939.Address
}

// NewReporter constructs a Reporter that broadcasts DM1 as source.
func NewReporter(mgr *network.Manager, source j1939.Address) *Reporter {
	return &Reporter{mgr: mgr, source: source}
}

// Report broadcasts the current lamp status and active DTC list.
func (r *Reporter) Report(lamp j1939.LampStatus, dtcs []j1939.DTC) error {
	return r.mgr.SendMessage(j1939.Message{
		PGN:         j1939.PGNDM1,
		Priority:    6,
		Source:      r.source,
		Destination: j1939.AddressGlobal,
		Data:        EncodeDM1(lamp, dtcs),
	})
}
