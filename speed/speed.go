// Package speed implements the J1939-71 Wheel-Based Speed and Distance
// (PGN 0xFE48) and Ground-Based Speed and Distance (PGN 0xFE49) messages
// (spec.md §5.2): speed in m/s at 0.001 resolution, distance in m at
// 0.125 resolution, with the wire's 0xFFFF/0xFFFFFFFF "not available"
// patterns exposed as j1939.Optional.
package speed

import (
	"encoding/binary"

	"github.com/isoagnet/go-j1939/j1939"
	"github.com/isoagnet/go-j1939/network"
)

const (
	speedNotAvailable    = 0xFFFF
	distanceNotAvailable = 0xFFFFFFFF

	speedResolution    = 0.001 // m/s per bit
	distanceResolution = 0.125 // m per bit
)

// Reading is a decoded speed/distance message.
type Reading struct {
	Source j1939.Address
	// SpeedMs is absent when the sensor reports 0xFFFF.
	SpeedMs j1939.Optional[float64]
	// DistanceM is absent when the sensor reports 0xFFFFFFFF.
	DistanceM j1939.Optional[float64]
}

func encode(speedMs j1939.Optional[float64], distanceM j1939.Optional[float64]) []byte {
	data := make([]byte, 8)
	for i := 4; i < 8; i++ {
		data[i] = 0xFF
	}

	speedRaw := uint16(speedNotAvailable)
	if v, ok := speedMs.Get(); ok {
		speedRaw = uint16(v / speedResolution)
	}
	binary.LittleEndian.PutUint16(data[0:2], speedRaw)

	distRaw := uint32(distanceNotAvailable)
	if v, ok := distanceM.Get(); ok {
		distRaw = uint32(v / distanceResolution)
	}
	binary.LittleEndian.PutUint32(data[4:8], distRaw)
	return data
}

func decode(source j1939.Address, data []byte) (Reading, error) {
	if len(data) < 8 {
		return Reading{}, j1939.ConfigError{Reason: "speed: payload shorter than 8 bytes"}
	}
	r := Reading{Source: source}

	speedRaw := binary.LittleEndian.Uint16(data[0:2])
	if speedRaw != speedNotAvailable {
		r.SpeedMs = j1939.Some(float64(speedRaw) * speedResolution)
	}

	distRaw := binary.LittleEndian.Uint32(data[4:8])
	if distRaw != distanceNotAvailable {
		r.DistanceM = j1939.Some(float64(distRaw) * distanceResolution)
	}
	return r, nil
}

// EncodeWheelBased builds a PGN 0xFE48 payload.
func EncodeWheelBased(speedMs, distanceM j1939.Optional[float64]) []byte {
	return encode(speedMs, distanceM)
}

// EncodeGroundBased builds a PGN 0xFE49 payload.
func EncodeGroundBased(speedMs, distanceM j1939.Optional[float64]) []byte {
	return encode(speedMs, distanceM)
}

// Monitor decodes wheel- and ground-based speed/distance traffic.
type Monitor struct {
	OnWheelBased  j1939.Event[Reading]
	OnGroundBased j1939.Event[Reading]
}

// NewMonitor subscribes to both speed PGNs on mgr.
func NewMonitor(mgr *network.Manager) *Monitor {
	m := &Monitor{}
	mgr.OnMessage(j1939.PGNWheelBasedSpeed, func(msg j1939.Message) {
		if r, err := decode(msg.Source, msg.Data); err == nil {
			m.OnWheelBased.Emit(r)
		}
	})
	mgr.OnMessage(j1939.PGNGroundBasedSpeed, func(msg j1939.Message) {
		if r, err := decode(msg.Source, msg.Data); err == nil {
			m.OnGroundBased.Emit(r)
		}
	})
	return m
}

// Reporter broadcasts this control function's own speed/distance readings.
type Reporter struct {
	mgr    *network.Manager
	source j1939.Address
}

// NewReporter constructs a Reporter broadcasting as source.
func NewReporter(mgr *network.Manager, source j1939.Address) *Reporter {
	return &Reporter{mgr: mgr, source: source}
}

// ReportWheelBased broadcasts PGN 0xFE48.
func (r *Reporter) ReportWheelBased(speedMs, distanceM j1939.Optional[float64]) error {
	return r.mgr.SendMessage(j1939.Message{
		PGN: j1939.PGNWheelBasedSpeed, Priority: 6, Source: r.source, Destination: j1939.AddressGlobal,
		Data: EncodeWheelBased(speedMs, distanceM),
	})
}

// ReportGroundBased broadcasts PGN 0xFE49.
func (r *Reporter) ReportGroundBased(speedMs, distanceM j1939.Optional[float64]) error {
	return r.mgr.SendMessage(j1939.Message{
		PGN: j1939.PGNGroundBasedSpeed, Priority: 6, Source: r.source, Destination: j1939.AddressGlobal,
		Data: EncodeGroundBased(speedMs, distanceM),
	})
}
