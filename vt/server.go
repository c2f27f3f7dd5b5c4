package vt

import (
	"github.com/isoagnet/go-j1939/j1939"
	"github.com/isoagnet/go-j1939/network"
)

// ServerClientState is a connected working-set's state from the server's
// point of view.
type ServerClientState uint8

const (
	ServerClientDisconnected ServerClientState = iota
	ServerClientWaitForClientStatus
	ServerClientActive
)

// StatusBroadcastIntervalMs is the VT's own status broadcast period
// (1 Hz, ISO 11783-6 §D.11).
const StatusBroadcastIntervalMs = 1000

type serverClient struct {
	address j1939.Address
	state   ServerClientState
	pool    []byte
}

// Server implements the VT side of the connection: it answers
// Get Memory/End of Object Pool for each working-set master that connects
// and broadcasts its own status at 1 Hz.
type Server struct {
	mgr    *network.Manager
	source j1939.Address

	clients   map[j1939.Address]*serverClient
	elapsedMs int64

	OnObjectPoolReceived j1939.Event[j1939.Address]
}

// NewServer constructs a Server broadcasting and responding as source.
func NewServer(mgr *network.Manager, source j1939.Address) *Server {
	s := &Server{mgr: mgr, source: source, clients: make(map[j1939.Address]*serverClient)}
	mgr.OnMessage(j1939.PGNVTToECU, s.handleFrame)
	return s
}

// Tick broadcasts VT status at StatusBroadcastIntervalMs.
func (s *Server) Tick(elapsedMs int64) error {
	s.elapsedMs += elapsedMs
	if s.elapsedMs < StatusBroadcastIntervalMs {
		return nil
	}
	s.elapsedMs = 0
	return s.mgr.SendMessage(j1939.Message{
		PGN: j1939.PGNECUToVT, Priority: 3, Source: s.source, Destination: j1939.AddressGlobal,
		Data: []byte{cmdVTStatus, 0, 0, 0, 0, 0, 0, 0},
	})
}

func (s *Server) handleFrame(msg j1939.Message) {
	if len(msg.Data) == 0 {
		return
	}
	client, ok := s.clients[msg.Source]
	if !ok {
		client = &serverClient{address: msg.Source, state: ServerClientWaitForClientStatus}
		s.clients[msg.Source] = client
	}

	switch msg.Data[0] {
	case cmdGetMemory:
		_ = s.mgr.SendMessage(j1939.Message{
			PGN: j1939.PGNECUToVT, Priority: 3, Source: s.source, Destination: msg.Source,
			Data: []byte{cmdGetMemoryResponse, 0, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		})

	case cmdEndOfObjectPool:
		client.state = ServerClientActive
		s.OnObjectPoolReceived.Emit(msg.Source)
		_ = s.mgr.SendMessage(j1939.Message{
			PGN: j1939.PGNECUToVT, Priority: 3, Source: s.source, Destination: msg.Source,
			Data: []byte{cmdEndOfObjectPool, 0, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		})
	}
}

// ClientState returns the tracked state for a working-set master, or
// ServerClientDisconnected if never seen.
func (s *Server) ClientState(addr j1939.Address) ServerClientState {
	if c, ok := s.clients[addr]; ok {
		return c.state
	}
	return ServerClientDisconnected
}
