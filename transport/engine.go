package transport

import (
	"fmt"

	"github.com/isoagnet/go-j1939/j1939"
	"github.com/rs/xid"
)

// DefaultMaxConcurrentSessions bounds how many TP/ETP sessions (sender and
// receiver combined) an Engine juggles at once; spec.md §4.2 default.
const DefaultMaxConcurrentSessions = 8

// Sender-side and receiver-side timeouts, in milliseconds. Whichever timer
// is armed for a session's current state is reset on every bit of forward
// progress (CTS received, DT received, window renewed) and aborts the
// session with AbortReasonTimeout at zero. Scenario: RTS sent, no CTS
// within SenderWaitReplyMs -> abort(timeout).
const (
	SenderWaitReplyMs    int64 = 1050 // waiting for CTS after RTS, or EoMA after the last DT
	ReceiverWaitDataMs   int64 = 1250 // waiting for the next DT after a CTS grant
	MinBroadcastGapMs    int64 = 50   // minimum spacing between BAM data frames
	MaxBroadcastGapMs    int64 = 200
	DefaultCTSWindowSize uint8 = 16 // packets granted per CTS window when the sender didn't cap it lower
)

// CompletedTransfer is emitted once a receiver session reassembles a full
// message.
type CompletedTransfer struct {
	Key  Key
	Data []byte
}

// AbortedTransfer is emitted whenever a session (sender or receiver side)
// is aborted, locally or by a peer's Connection Abort frame.
type AbortedTransfer struct {
	Key    Key
	Reason j1939.AbortReason
}

// Config tunes an Engine's session table.
type Config struct {
	MaxConcurrentSessions int
	CTSWindowSize         uint8
}

// Engine owns the TP/ETP session table for one port: it fragments outbound
// messages too large for a single CAN frame and reassembles inbound
// fragmented messages, driving timeouts purely off Tick(elapsed_ms) with no
// blocking calls (spec.md §6's cooperative concurrency model).
type Engine struct {
	cfg  Config
	send func(j1939.Frame) error

	sessions map[Key]*Session

	OnComplete j1939.Event[CompletedTransfer]
	OnAborted  j1939.Event[AbortedTransfer]
}

// NewEngine constructs an Engine that writes outbound frames via send.
func NewEngine(cfg Config, send func(j1939.Frame) error) *Engine {
	if cfg.MaxConcurrentSessions <= 0 {
		cfg.MaxConcurrentSessions = DefaultMaxConcurrentSessions
	}
	if cfg.CTSWindowSize == 0 {
		cfg.CTSWindowSize = DefaultCTSWindowSize
	}
	return &Engine{
		cfg:      cfg,
		send:     send,
		sessions: make(map[Key]*Session),
	}
}

// Send begins transmitting data from source to destination under pgn. Data
// longer than a single frame (>8 bytes) is fragmented via TP or ETP
// depending on size; Send itself never blocks, it only arms the session and
// emits the first control frame (RTS, or BAM for a broadcast); data packets
// go out on later Tick calls.
func (e *Engine) Send(source, destination j1939.Address, pgn j1939.PGN, data []byte) error {
	size := len(data)
	if size > j1939.MaxETPPayload {
		return j1939.ConfigError{Reason: fmt.Sprintf("transport: payload of %d bytes exceeds ETP maximum", size)}
	}

	mode := ModeTP
	if size > j1939.MaxTPPayload {
		mode = ModeETP
	}

	key := Key{Source: source, Destination: destination, PGN: pgn, Role: RoleSender}
	if _, exists := e.sessions[key]; exists {
		return j1939.PrecondError{Reason: "transport: a sender session for this (source, destination, pgn) is already active"}
	}
	if len(e.sessions) >= e.cfg.MaxConcurrentSessions {
		return j1939.PrecondError{Reason: "transport: session table full"}
	}

	totalPackets := packetsFor(size)
	sess := &Session{
		ID:           xid.New(),
		Key:          key,
		Mode:         mode,
		TotalSize:    uint32(size),
		TotalPackets: uint16(totalPackets),
		Data:         data,
		NextPacket:   1,
	}

	// The session is registered before its first control frame is sent: the
	// peer's CTS may be handled before the send returns.
	e.sessions[key] = sess

	broadcast := destination == j1939.AddressGlobal
	if broadcast {
		sess.state = stateSenderSendingData
		sess.WindowStart = 1
		sess.WindowEnd = uint32(totalPackets)
		sess.remainingMs = MinBroadcastGapMs
		if err := e.sendControl(sess, encodeBAM(sess.TotalSize, uint32(totalPackets), pgn)); err != nil {
			delete(e.sessions, key)
			return err
		}
	} else {
		sess.state = stateSenderWaitCTS
		sess.remainingMs = SenderWaitReplyMs
		maxPackets := uint8(0xFF)
		if totalPackets < 0xFF {
			maxPackets = uint8(totalPackets)
		}
		if err := e.sendControl(sess, encodeRTS(mode, sess.TotalSize, totalPackets, maxPackets, pgn)); err != nil {
			delete(e.sessions, key)
			return err
		}
	}
	return nil
}

// ActiveSessionCount returns how many sessions are currently in progress.
func (e *Engine) ActiveSessionCount() int {
	n := 0
	for _, sess := range e.sessions {
		if sess.IsActive() {
			n++
		}
	}
	return n
}

// Tick advances every active session's timers by elapsedMs, aborting any
// whose timeout expired and pacing outbound data frames (one packet's worth
// of progress per call, gated by MinBroadcastGapMs for BAM).
func (e *Engine) Tick(elapsedMs int64) error {
	for key, sess := range e.sessions {
		if !sess.IsActive() {
			delete(e.sessions, key)
			continue
		}

		switch sess.state {
		case stateSenderSendingData:
			sess.remainingMs -= elapsedMs
			if sess.remainingMs > 0 {
				continue
			}
			if err := e.sendNextDataPacket(sess); err != nil {
				e.abort(sess, j1939.AbortReasonAnyOther)
				return err
			}

		case stateSenderWaitCTS, stateSenderWaitEOMA:
			sess.remainingMs -= elapsedMs
			if sess.remainingMs <= 0 {
				e.abort(sess, j1939.AbortReasonTimeout)
			}

		case stateReceiverWaitData:
			sess.remainingMs -= elapsedMs
			if sess.remainingMs <= 0 {
				e.abort(sess, j1939.AbortReasonTimeout)
			}
		}
	}
	return nil
}

// HandleFrame routes an inbound frame to the matching session (or creates a
// new receiver session for RTS/BAM), returning nil if the frame did not
// belong to this engine's PGNs.
func (e *Engine) HandleFrame(frame j1939.Frame) error {
	id := j1939.DecodeIdentifier(frame.ID)
	switch id.PGN {
	case j1939.PGNTPConnManagement:
		return e.handleControl(ModeTP, id, frame.Data)
	case j1939.PGNTPDataTransfer:
		return e.handleData(ModeTP, id, frame.Data)
	case j1939.PGNETPConnManagement:
		return e.handleControl(ModeETP, id, frame.Data)
	case j1939.PGNETPDataTransfer:
		return e.handleData(ModeETP, id, frame.Data)
	}
	return nil
}

func (e *Engine) handleControl(mode Mode, id j1939.Identifier, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case cmBAM:
		return e.onBAM(id, data)
	case cmRTS, etpRTS:
		if mode == ModeETP {
			return e.onETPRTS(id, data)
		}
		return e.onRTS(mode, id, data)
	case cmCTS, etpCTS:
		if mode == ModeETP {
			return e.onETPCTS(id, data)
		}
		return e.onCTS(mode, id, data)
	case cmEOMA, etpEOMA:
		return e.onEOMA(id, data)
	case cmAbort:
		return e.onAbort(id, data)
	case etpDPO:
		if mode == ModeETP {
			return e.onDPO(id, data)
		}
	}
	return nil
}

// senderKeyFor/receiverKeyFor build the Key under which we'd be tracking our end
// of a conversation identified by a just-received frame's Identifier: our
// role is the opposite of whoever the wire frame claims to be sender of.
func senderKeyFor(id j1939.Identifier, pgn j1939.PGN) Key {
	return Key{Source: id.Destination, Destination: id.Source, PGN: pgn, Role: RoleSender}
}

func receiverKeyFor(id j1939.Identifier, pgn j1939.PGN) Key {
	return Key{Source: id.Source, Destination: id.Destination, PGN: pgn, Role: RoleReceiver}
}

func (e *Engine) onBAM(id j1939.Identifier, data []byte) error {
	if len(data) < 8 {
		return nil
	}
	size := uint32(data[1]) | uint32(data[2])<<8
	totalPackets := uint32(data[3])
	pgn := pgnFrom3(data[5:8])

	key := Key{Source: id.Source, Destination: j1939.AddressGlobal, PGN: pgn, Role: RoleReceiver}
	if len(e.sessions) >= e.cfg.MaxConcurrentSessions {
		return nil
	}
	e.sessions[key] = &Session{
		ID:             xid.New(),
		Key:            key,
		Mode:           ModeTP,
		TotalSize:      size,
		TotalPackets:   uint16(totalPackets),
		Data:           make([]byte, size),
		ReceivedBitmap: make(map[uint32]bool, totalPackets),
		WindowStart:    1,
		WindowEnd:      totalPackets,
		state:          stateReceiverWaitData,
		remainingMs:    MaxBroadcastGapMs * int64(totalPackets) * 2,
	}
	return nil
}

func (e *Engine) onRTS(mode Mode, id j1939.Identifier, data []byte) error {
	if len(data) < 8 {
		return nil
	}
	size := uint32(data[1]) | uint32(data[2])<<8
	totalPackets := uint32(data[3])
	pgn := pgnFrom3(data[5:8])
	return e.acceptRTS(mode, id, pgn, size, totalPackets)
}

func (e *Engine) onETPRTS(id j1939.Identifier, data []byte) error {
	if len(data) < 8 {
		return nil
	}
	size := uint32(data[1]) | uint32(data[2])<<8 | uint32(data[3])<<16 | uint32(data[4])<<24
	totalPackets := packetsFor(int(size))
	pgn := pgnFrom3(data[5:8])
	return e.acceptRTS(ModeETP, id, pgn, size, totalPackets)
}

func (e *Engine) acceptRTS(mode Mode, id j1939.Identifier, pgn j1939.PGN, size uint32, totalPackets uint32) error {
	key := Key{Source: id.Source, Destination: id.Destination, PGN: pgn, Role: RoleReceiver}
	replyKey := Key{Source: id.Destination, Destination: id.Source, PGN: pgn}
	if _, exists := e.sessions[key]; exists {
		return e.sendControlTo(mode, replyKey, encodeAbort(j1939.AbortReasonAlreadyInSession, pgn))
	}
	if len(e.sessions) >= e.cfg.MaxConcurrentSessions {
		return e.sendControlTo(mode, replyKey, encodeAbort(j1939.AbortReasonResourcesUnavailable, pgn))
	}

	sess := &Session{
		ID:             xid.New(),
		Key:            key,
		Mode:           mode,
		TotalSize:      size,
		TotalPackets:   uint16(totalPackets),
		Data:           make([]byte, size),
		ReceivedBitmap: make(map[uint32]bool, totalPackets),
		state:          stateReceiverWaitData,
	}
	e.sessions[key] = sess
	return e.grantWindow(sess)
}

// grantWindow sends the next CTS covering up to the engine's configured
// window size. For ETP the session then waits for the sender's DPO, which
// must precede the window's data.
func (e *Engine) grantWindow(sess *Session) error {
	if sess.WindowStart == 0 {
		sess.WindowStart = 1
	}
	grant := uint32(e.cfg.CTSWindowSize)
	remaining := uint32(sess.TotalPackets) - sess.WindowStart + 1
	if grant > remaining {
		grant = remaining
	}
	sess.WindowEnd = sess.WindowStart + grant - 1
	sess.remainingMs = ReceiverWaitDataMs

	replyKey := Key{Source: sess.Key.Destination, Destination: sess.Key.Source, PGN: sess.Key.PGN}
	if sess.Mode == ModeETP {
		sess.state = stateReceiverWaitDPO
		if err := e.sendControlTo(sess.Mode, replyKey, encodeCTS(sess.Mode, uint8(grant), sess.WindowStart, sess.Key.PGN)); err != nil {
			return err
		}
		return nil
	}
	sess.state = stateReceiverWaitData
	return e.sendControlTo(sess.Mode, replyKey, encodeCTS(sess.Mode, uint8(grant), sess.WindowStart, sess.Key.PGN))
}

func (e *Engine) onCTS(mode Mode, id j1939.Identifier, data []byte) error {
	if len(data) < 8 {
		return nil
	}
	numPackets := data[1]
	nextPacket := uint32(data[2])
	pgn := pgnFrom3(data[5:8])
	return e.applyCTS(id, pgn, numPackets, nextPacket)
}

func (e *Engine) onETPCTS(id j1939.Identifier, data []byte) error {
	if len(data) < 8 {
		return nil
	}
	numPackets := data[1]
	nextPacket := uint32(data[2]) | uint32(data[3])<<8 | uint32(data[4])<<16
	pgn := pgnFrom3(data[5:8])
	return e.applyCTS(id, pgn, numPackets, nextPacket)
}

func (e *Engine) applyCTS(id j1939.Identifier, pgn j1939.PGN, numPackets uint8, nextPacket uint32) error {
	key := senderKeyFor(id, pgn)
	sess, ok := e.sessions[key]
	if !ok || sess.state != stateSenderWaitCTS {
		return nil
	}
	if numPackets == 0 {
		// Receiver asks us to hold; just reset the reply timer.
		sess.remainingMs = SenderWaitReplyMs
		return nil
	}
	sess.WindowStart = nextPacket
	sess.WindowEnd = nextPacket + uint32(numPackets) - 1
	sess.NextPacket = nextPacket
	sess.state = stateSenderSendingData
	sess.remainingMs = MinBroadcastGapMs

	if sess.Mode == ModeETP {
		sess.DataPageOffset = nextPacket - 1
		replyKey := Key{Source: sess.Key.Source, Destination: sess.Key.Destination, PGN: sess.Key.PGN}
		if err := e.sendControlTo(sess.Mode, replyKey, encodeDPO(numPackets, sess.DataPageOffset, sess.Key.PGN)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) onDPO(id j1939.Identifier, data []byte) error {
	if len(data) < 8 {
		return nil
	}
	pgn := pgnFrom3(data[5:8])
	key := receiverKeyFor(id, pgn)
	sess, ok := e.sessions[key]
	if !ok || sess.state != stateReceiverWaitDPO {
		return nil
	}
	sess.DataPageOffset = uint32(data[2]) | uint32(data[3])<<8 | uint32(data[4])<<16
	sess.state = stateReceiverWaitData
	sess.remainingMs = ReceiverWaitDataMs
	return nil
}

func (e *Engine) onEOMA(id j1939.Identifier, data []byte) error {
	if len(data) < 8 {
		return nil
	}
	pgn := pgnFrom3(data[5:8])
	key := senderKeyFor(id, pgn)
	sess, ok := e.sessions[key]
	if !ok || sess.state != stateSenderWaitEOMA {
		return nil
	}
	sess.state = stateComplete
	return nil
}

func (e *Engine) onAbort(id j1939.Identifier, data []byte) error {
	if len(data) < 2 {
		return nil
	}
	reason := j1939.AbortReason(data[1])
	pgn := pgnFrom3(data[5:8])

	if sess, ok := e.sessions[senderKeyFor(id, pgn)]; ok {
		e.abortSilently(sess, reason)
	}
	if sess, ok := e.sessions[receiverKeyFor(id, pgn)]; ok {
		e.abortSilently(sess, reason)
	}
	return nil
}

func (e *Engine) handleData(mode Mode, id j1939.Identifier, data []byte) error {
	if len(data) < 2 {
		return nil
	}
	sequence := uint32(data[0])

	for key, sess := range e.sessions {
		if sess.Key.Role != RoleReceiver || sess.Mode != mode {
			continue
		}
		if sess.Key.Source != id.Source {
			continue
		}
		if sess.Key.Destination != j1939.AddressGlobal && sess.Key.Destination != id.Destination {
			continue
		}
		if sess.state != stateReceiverWaitData {
			continue
		}

		absolute := sess.DataPageOffset + sequence
		if absolute == 0 || absolute > uint32(sess.TotalPackets) {
			e.abort(sess, j1939.AbortReasonBadSequence)
			delete(e.sessions, key)
			continue
		}

		offset := int(absolute-1) * maxDTPayload
		chunk := data[1:]
		if offset+len(chunk) > len(sess.Data) {
			chunk = chunk[:len(sess.Data)-offset]
		}
		copy(sess.Data[offset:], chunk)
		sess.ReceivedBitmap[absolute] = true
		sess.remainingMs = ReceiverWaitDataMs

		if absolute == uint32(sess.TotalPackets) {
			e.completeReceiver(sess)
			continue
		}
		if absolute == sess.WindowEnd && sess.Key.Destination != j1939.AddressGlobal {
			sess.WindowStart = sess.WindowEnd + 1
			if err := e.grantWindow(sess); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) completeReceiver(sess *Session) {
	sess.state = stateComplete
	if sess.Key.Destination != j1939.AddressGlobal {
		replyKey := Key{Source: sess.Key.Destination, Destination: sess.Key.Source, PGN: sess.Key.PGN}
		_ = e.sendControlTo(sess.Mode, replyKey, encodeEOMA(sess.Mode, sess.TotalSize, uint32(sess.TotalPackets), sess.Key.PGN))
	}
	e.OnComplete.Emit(CompletedTransfer{Key: sess.Key, Data: sess.Data})
}

func (e *Engine) sendNextDataPacket(sess *Session) error {
	if sess.NextPacket == 0 {
		sess.NextPacket = sess.WindowStart
	}
	seq := sess.NextPacket
	offset := int(seq-1) * maxDTPayload
	end := offset + maxDTPayload
	if end > len(sess.Data) {
		end = len(sess.Data)
	}
	wireSeq := seq - sess.DataPageOffset
	dt := encodeDT(uint8(wireSeq), sess.Data[offset:end])

	broadcast := sess.Key.Destination == j1939.AddressGlobal
	lastOfAll := seq == uint32(sess.TotalPackets)
	lastOfWindow := seq == sess.WindowEnd

	// The next state is set before the packet is sent: the peer's EoMA or
	// next CTS may be handled before the send returns.
	if lastOfAll {
		if broadcast {
			if err := e.sendDataTo(sess, dt); err != nil {
				return err
			}
			sess.state = stateComplete
			e.OnComplete.Emit(CompletedTransfer{Key: sess.Key, Data: sess.Data})
			return nil
		}
		sess.state = stateSenderWaitEOMA
		sess.remainingMs = SenderWaitReplyMs
		return e.sendDataTo(sess, dt)
	}

	sess.NextPacket = seq + 1
	if broadcast {
		sess.remainingMs = MinBroadcastGapMs
		return e.sendDataTo(sess, dt)
	}
	if lastOfWindow {
		sess.state = stateSenderWaitCTS
		sess.remainingMs = SenderWaitReplyMs
		return e.sendDataTo(sess, dt)
	}
	sess.remainingMs = MinBroadcastGapMs
	return e.sendDataTo(sess, dt)
}

func (e *Engine) abort(sess *Session, reason j1939.AbortReason) {
	e.abortSilently(sess, reason)
	if sess.Key.Destination != j1939.AddressGlobal {
		replyKey := Key{Source: sess.Key.Destination, Destination: sess.Key.Source, PGN: sess.Key.PGN}
		_ = e.sendControlTo(sess.Mode, replyKey, encodeAbort(reason, sess.Key.PGN))
	}
}

func (e *Engine) abortSilently(sess *Session, reason j1939.AbortReason) {
	sess.state = stateAborted
	e.OnAborted.Emit(AbortedTransfer{Key: sess.Key, Reason: reason})
}

func (e *Engine) sendControl(sess *Session, payload []byte) error {
	return e.sendControlTo(sess.Mode, sess.Key, payload)
}

func (e *Engine) sendControlTo(mode Mode, key Key, payload []byte) error {
	pgn := j1939.PGNTPConnManagement
	if mode == ModeETP {
		pgn = j1939.PGNETPConnManagement
	}
	id := j1939.Identifier{Priority: 7, PGN: pgn, Source: key.Source, Destination: key.Destination}
	if err := e.send(j1939.Frame{ID: id.Encode(), Data: payload}); err != nil {
		return j1939.EndpointError{Err: err}
	}
	return nil
}

func (e *Engine) sendDataTo(sess *Session, payload []byte) error {
	pgn := j1939.PGNTPDataTransfer
	if sess.Mode == ModeETP {
		pgn = j1939.PGNETPDataTransfer
	}
	id := j1939.Identifier{Priority: 7, PGN: pgn, Source: sess.Key.Source, Destination: sess.Key.Destination}
	if err := e.send(j1939.Frame{ID: id.Encode(), Data: payload}); err != nil {
		return j1939.EndpointError{Err: err}
	}
	return nil
}
