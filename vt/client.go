// Package vt implements the ISO 11783-6 Virtual Terminal client and server
// connection state machines (spec.md §5.6): object pool upload over
// TP/ETP, the client's VT Status / Get Memory handshake, input activation
// messages (button/soft key), and the server's per-client status
// broadcast.
package vt

import (
	"github.com/isoagnet/go-j1939/j1939"
	"github.com/isoagnet/go-j1939/network"
)

// ClientState is the client connection's lifecycle position.
type ClientState uint8

const (
	ClientDisconnected ClientState = iota
	ClientWaitForVTStatus
	ClientWaitForGetMemoryResponse
	ClientUploadingObjectPool
	ClientWaitForEndOfObjectPool
	ClientConnected
	ClientFailed
)

func (s ClientState) String() string {
	switch s {
	case ClientDisconnected:
		return "Disconnected"
	case ClientWaitForVTStatus:
		return "WaitForVTStatus"
	case ClientWaitForGetMemoryResponse:
		return "WaitForGetMemoryResponse"
	case ClientUploadingObjectPool:
		return "UploadingObjectPool"
	case ClientWaitForEndOfObjectPool:
		return "WaitForEndOfObjectPool"
	case ClientConnected:
		return "Connected"
	case ClientFailed:
		return "Failed"
	default:
		return "unknown"
	}
}

// InactivityTimeoutMs is the default silence tolerance before a client in
// any state other than Disconnected or Failed considers the VT gone and
// drops back to Disconnected.
const InactivityTimeoutMs = 6000

// VT command function bytes (ISO 11783-6 Table A.1, the subset this client
// needs to drive the handshake and upload).
const (
	cmdGetMemory         byte = 0xC8
	cmdGetMemoryResponse byte = 0xC8
	cmdVTStatus          byte = 0xFE
	cmdEndOfObjectPool   byte = 0xB8
	cmdButtonActivation  byte = 0xB6
	cmdSoftKeyActivation byte = 0xB7
)

// ButtonActivation is a decoded Button Activation message (function byte
// 0xB6).
type ButtonActivation struct {
	ObjectID uint16
	KeyCode  uint8
	Pressed  bool
}

// SoftKeyActivation is a decoded Soft Key Activation message (function
// byte 0xB7).
type SoftKeyActivation struct {
	ObjectID uint16
	KeyCode  uint8
	Pressed  bool
}

// Client drives one working-set's connection to a single VT server.
type Client struct {
	mgr      *network.Manager
	source   j1939.Address
	vtAddr   j1939.Address
	poolSize uint32
	pool     []byte

	state       ClientState
	remainingMs int64

	OnStateChanged     j1939.Event[ClientState]
	OnButtonActivation j1939.Event[ButtonActivation]
	OnSoftKeyActivation j1939.Event[SoftKeyActivation]
}

// NewClient constructs a Client for the working-set master at source,
// talking to the VT at vtAddr, ready to upload pool once Connect is
// called.
func NewClient(mgr *network.Manager, source, vtAddr j1939.Address, pool []byte) *Client {
	c := &Client{mgr: mgr, source: source, vtAddr: vtAddr, pool: pool, poolSize: uint32(len(pool))}
	mgr.OnMessage(j1939.PGNECUToVT, c.handleFrame)
	return c
}

// Connect begins the connection handshake. It sends nothing itself: the
// client waits for the VT's periodic status broadcast to confirm it is
// alive, and then asks how much memory it has for the object pool.
func (c *Client) Connect() error {
	c.state = ClientWaitForVTStatus
	c.remainingMs = InactivityTimeoutMs
	c.OnStateChanged.Emit(c.state)
	return nil
}

// IssueCommand sends an already-encoded VT command, rejected with a
// PrecondError unless the client is Connected (spec.md's VT invariant:
// commands are only meaningful once the object pool is live).
func (c *Client) IssueCommand(data []byte) error {
	if c.state != ClientConnected {
		return j1939.PrecondError{Reason: "vt: command issued before client reached Connected"}
	}
	return c.mgr.SendMessage(j1939.Message{
		PGN: j1939.PGNVTToECU, Priority: 3, Source: c.source, Destination: c.vtAddr, Data: data,
	})
}

// Tick advances the inactivity watchdog, dropping the connection back to
// Disconnected on silence.
func (c *Client) Tick(elapsedMs int64) {
	if c.state == ClientDisconnected || c.state == ClientFailed {
		return
	}
	c.remainingMs -= elapsedMs
	if c.remainingMs <= 0 {
		c.state = ClientDisconnected
		c.OnStateChanged.Emit(c.state)
	}
}

func (c *Client) handleFrame(msg j1939.Message) {
	if msg.Source != c.vtAddr || len(msg.Data) == 0 {
		return
	}
	c.remainingMs = InactivityTimeoutMs

	switch msg.Data[0] {
	case cmdVTStatus:
		if c.state == ClientWaitForVTStatus {
			c.state = ClientWaitForGetMemoryResponse
			c.OnStateChanged.Emit(c.state)
			_ = c.mgr.SendMessage(j1939.Message{
				PGN: j1939.PGNVTToECU, Priority: 3, Source: c.source, Destination: c.vtAddr,
				Data: []byte{cmdGetMemory, 0xFF, byte(c.poolSize), byte(c.poolSize >> 8), byte(c.poolSize >> 16), byte(c.poolSize >> 24), 0xFF, 0xFF},
			})
		}

	case cmdGetMemoryResponse:
		if c.state == ClientWaitForGetMemoryResponse && len(msg.Data) >= 2 && msg.Data[1] == 0 {
			c.state = ClientUploadingObjectPool
			c.OnStateChanged.Emit(c.state)
			if err := c.mgr.SendMessage(j1939.Message{PGN: j1939.PGNVTToECU, Priority: 3, Source: c.source, Destination: c.vtAddr, Data: c.pool}); err != nil {
				c.state = ClientFailed
				c.OnStateChanged.Emit(c.state)
				return
			}
			c.state = ClientWaitForEndOfObjectPool
			c.OnStateChanged.Emit(c.state)
			_ = c.mgr.SendMessage(j1939.Message{
				PGN: j1939.PGNVTToECU, Priority: 3, Source: c.source, Destination: c.vtAddr,
				Data: []byte{cmdEndOfObjectPool, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
			})
		}

	case cmdEndOfObjectPool:
		if c.state == ClientWaitForEndOfObjectPool && len(msg.Data) >= 2 {
			if msg.Data[1] == 0 {
				c.state = ClientConnected
			} else {
				c.state = ClientFailed
			}
			c.OnStateChanged.Emit(c.state)
		}

	case cmdButtonActivation:
		if len(msg.Data) >= 4 {
			c.OnButtonActivation.Emit(ButtonActivation{
				ObjectID: uint16(msg.Data[1]) | uint16(msg.Data[2])<<8,
				KeyCode:  msg.Data[3],
				Pressed:  msg.Data[0]&0x1 == 0,
			})
		}

	case cmdSoftKeyActivation:
		if len(msg.Data) >= 4 {
			c.OnSoftKeyActivation.Emit(SoftKeyActivation{
				ObjectID: uint16(msg.Data[1]) | uint16(msg.Data[2])<<8,
				KeyCode:  msg.Data[3],
				Pressed:  msg.Data[0]&0x1 == 0,
			})
		}
	}
}

// State returns the client's current connection state.
func (c *Client) State() ClientState { return c.state }
