// Package heartbeat implements the periodic liveness message (PGN
// 0xFFFE, spec.md §5.3): an 8-bit rolling sequence counter broadcast at a
// fixed interval, with miss detection on the receiving side.
package heartbeat

import (
	"github.com/isoagnet/go-j1939/j1939"
	"github.com/isoagnet/go-j1939/network"
)

// DefaultIntervalMs is the default broadcast period.
const DefaultIntervalMs = 100

// MissFactor: a peer is considered to have missed a beat once this many
// interval-lengths pass with no heartbeat frame received from it (any
// frame counts, whatever its sequence value).
const MissFactor = 3

// Sender broadcasts an incrementing heartbeat at a fixed interval, driven
// by Tick.
type Sender struct {
	mgr        *network.Manager
	source     j1939.Address
	intervalMs int64

	elapsedMs int64
	sequence  uint8
}

// NewSender constructs a Sender broadcasting as source every intervalMs
// (DefaultIntervalMs if zero).
func NewSender(mgr *network.Manager, source j1939.Address, intervalMs int64) *Sender {
	if intervalMs <= 0 {
		intervalMs = DefaultIntervalMs
	}
	return &Sender{mgr: mgr, source: source, intervalMs: intervalMs}
}

// Tick advances the send timer, broadcasting and incrementing the sequence
// counter whenever the interval elapses.
func (s *Sender) Tick(elapsedMs int64) error {
	s.elapsedMs += elapsedMs
	if s.elapsedMs < s.intervalMs {
		return nil
	}
	s.elapsedMs = 0

	err := s.mgr.SendMessage(j1939.Message{
		PGN: j1939.PGNHeartbeat, Priority: 6, Source: s.source, Destination: j1939.AddressGlobal,
		Data: []byte{s.sequence},
	})
	s.sequence++
	return err
}

// peerState tracks the last observed sequence for one remote source.
type peerState struct {
	lastSequence    uint8
	sinceLastBeatMs int64
	missCount       int
}

// MissedHeartbeat is emitted when no heartbeat frame has arrived from a
// peer for MissFactor*intervalMs, and once more for each further intervalMs
// of silence.
type MissedHeartbeat struct {
	Source    j1939.Address
	MissCount int
}

// Monitor tracks heartbeat arrival per source and detects missed beats.
type Monitor struct {
	intervalMs int64
	peers      map[j1939.Address]*peerState

	OnMissed j1939.Event[MissedHeartbeat]
}

// NewMonitor subscribes to heartbeat traffic on mgr, using intervalMs
// (DefaultIntervalMs if zero) to judge misses.
func NewMonitor(mgr *network.Manager, intervalMs int64) *Monitor {
	if intervalMs <= 0 {
		intervalMs = DefaultIntervalMs
	}
	m := &Monitor{intervalMs: intervalMs, peers: make(map[j1939.Address]*peerState)}
	mgr.OnMessage(j1939.PGNHeartbeat, func(msg j1939.Message) {
		if len(msg.Data) < 1 {
			return
		}
		p := m.peerFor(msg.Source)
		p.lastSequence = msg.Data[0]
		p.sinceLastBeatMs = 0
		p.missCount = 0
	})
	return m
}

func (m *Monitor) peerFor(source j1939.Address) *peerState {
	p, ok := m.peers[source]
	if !ok {
		p = &peerState{}
		m.peers[source] = p
	}
	return p
}

// Track arms the miss-detection watchdog for source without requiring a
// heartbeat to have been received first, so silence from a peer that has
// never sent a beat can still be detected.
func (m *Monitor) Track(source j1939.Address) {
	m.peerFor(source)
}

// Tick advances every tracked peer's silence timer. The first miss fires
// after MissFactor*intervalMs of silence; each additional miss fires one
// intervalMs after the previous one.
func (m *Monitor) Tick(elapsedMs int64) {
	threshold := m.intervalMs * MissFactor
	for source, p := range m.peers {
		p.sinceLastBeatMs += elapsedMs
		for p.sinceLastBeatMs >= threshold+int64(p.missCount)*m.intervalMs {
			p.missCount++
			m.OnMissed.Emit(MissedHeartbeat{Source: source, MissCount: p.missCount})
		}
	}
}
