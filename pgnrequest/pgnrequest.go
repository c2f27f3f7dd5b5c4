// Package pgnrequest implements the PGN Request / Acknowledge protocol
// (SAE J1939-21 §5.6, spec.md §5.5 supplement): a responder registry that
// answers a Request for a given PGN with cached or freshly-computed data,
// or a negative Acknowledge (PGN 0xE800) when nothing can answer it.
package pgnrequest

import (
	"github.com/isoagnet/go-j1939/j1939"
	"github.com/isoagnet/go-j1939/network"
)

// ackControl values for PGN 0xE800 byte 0 (SAE J1939-21 Table 5).
const (
	ackPositive      byte = 0
	ackNegative      byte = 1
	ackAccessDenied  byte = 2
	ackCannotRespond byte = 3
)

// Responder is called to answer a request for the PGN it is registered
// under. Returning ok=false causes an Acknowledge with the cannot-respond
// control byte.
type Responder func(requester j1939.Address) (payload []byte, ok bool)

// Registry answers inbound PGN Requests by dispatching to registered
// Responders, replying with a single-frame message (fragmenting through
// network.Manager.SendMessage if the responder's payload is large) or a
// negative Acknowledge.
type Registry struct {
	mgr    *network.Manager
	source j1939.Address

	responders map[j1939.PGN]Responder
}

// NewRegistry constructs a Registry that answers requests as source.
func NewRegistry(mgr *network.Manager, source j1939.Address) *Registry {
	r := &Registry{mgr: mgr, source: source, responders: make(map[j1939.PGN]Responder)}
	mgr.OnMessage(j1939.PGNRequest, r.handleRequest)
	return r
}

// Register installs responder as the answer for pgn.
func (r *Registry) Register(pgn j1939.PGN, responder Responder) {
	r.responders[pgn] = responder
}

func (r *Registry) handleRequest(msg j1939.Message) {
	if msg.Destination != r.source && msg.Destination != j1939.AddressGlobal {
		return
	}
	if len(msg.Data) < 3 {
		return
	}
	requested := j1939.PGN(msg.Data[0]) | j1939.PGN(msg.Data[1])<<8 | j1939.PGN(msg.Data[2])<<16

	responder, ok := r.responders[requested]
	if !ok {
		_ = r.sendAck(msg.Source, ackNegative, requested)
		return
	}
	payload, ok := responder(msg.Source)
	if !ok {
		_ = r.sendAck(msg.Source, ackCannotRespond, requested)
		return
	}
	_ = r.mgr.SendMessage(j1939.Message{
		PGN: requested, Priority: 6, Source: r.source, Destination: msg.Source, Data: payload,
	})
}

func (r *Registry) sendAck(destination j1939.Address, control byte, pgn j1939.PGN) error {
	data := []byte{control, 0xFF, 0xFF, 0xFF, byte(pgn), byte(pgn >> 8), byte(pgn >> 16)}
	return r.mgr.SendMessage(j1939.Message{
		PGN: j1939.PGNAcknowledge, Priority: 6, Source: r.source, Destination: destination, Data: data,
	})
}

// Requester issues PGN Requests and tracks the resulting responses.
type Requester struct {
	mgr    *network.Manager
	source j1939.Address
}

// NewRequester constructs a Requester issuing requests as source.
func NewRequester(mgr *network.Manager, source j1939.Address) *Requester {
	return &Requester{mgr: mgr, source: source}
}

// Request sends a PGN Request to destination for pgn.
func (q *Requester) Request(destination j1939.Address, pgn j1939.PGN) error {
	data := []byte{byte(pgn), byte(pgn >> 8), byte(pgn >> 16)}
	return q.mgr.SendMessage(j1939.Message{
		PGN: j1939.PGNRequest, Priority: 6, Source: q.source, Destination: destination, Data: data,
	})
}
