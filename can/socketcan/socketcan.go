// Package socketcan implements network.Endpoint against a Linux SocketCAN
// raw CAN socket, adapted from the teacher's socketcan.Connection (raw
// socket framing) and socketcan.Device (read-loop/timeout handling).
package socketcan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/isoagnet/go-j1939/j1939"
	"golang.org/x/sys/unix"
)

const (
	canRaw = 1

	canIDMask    = uint32(0b111) << 29
	canIDERRFlag = uint32(1 << 29)
	canIDRTRFlag = uint32(1 << 30)
	canIDEFFFlag = uint32(1 << 31)
)

var errReadTimeout = errors.New("socketcan: read timeout")

// Endpoint binds a Linux SocketCAN raw socket on ifName and implements
// network.Endpoint: SendFrame writes synchronously, and a background
// goroutine started by Listen reads frames and invokes the registered
// receive callback (spec.md's Endpoint is the one place this stack
// tolerates blocking I/O, isolated behind this driver).
type Endpoint struct {
	ifName  string
	timeNow func() time.Time

	mu       sync.Mutex
	socketFD int
	onRecv   func(j1939.Frame)

	listening bool
	stop      chan struct{}
	done      chan struct{}
}

// NewEndpoint constructs an Endpoint bound to the named SocketCAN interface
// (e.g. "can0"). Call Listen to start the background read loop.
func NewEndpoint(ifName string) (*Endpoint, error) {
	ifi, err := net.InterfaceByName(ifName)
	if err != nil {
		return nil, fmt.Errorf("socketcan: bad interface %q: %w", ifName, err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, canRaw)
	if err != nil {
		return nil, fmt.Errorf("socketcan: could not create CAN socket: %w", err)
	}

	addr := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, addr); err != nil {
		return nil, fmt.Errorf("socketcan: could not bind CAN socket: %w", err)
	}

	return &Endpoint{
		ifName:   ifName,
		timeNow:  time.Now,
		socketFD: fd,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// SetReceiveCallback implements network.Endpoint.
func (e *Endpoint) SetReceiveCallback(callback func(j1939.Frame)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onRecv = callback
}

// SendFrame implements network.Endpoint, writing frame onto the bus as a
// classic CAN 2.0B extended-ID frame.
func (e *Endpoint) SendFrame(frame j1939.Frame) error {
	canFrame := make([]byte, 16)

	canID := frame.ID | canIDEFFFlag
	binary.LittleEndian.PutUint32(canFrame[0:4], canID)

	dlc := len(frame.Data)
	if dlc > j1939.MaxFrameDataLength {
		dlc = j1939.MaxFrameDataLength
	}
	canFrame[4] = byte(dlc)
	copy(canFrame[8:], frame.Data[:dlc])

	_, err := unix.Write(e.socketFD, canFrame)
	return err
}

// Listen starts the background goroutine that reads frames off the socket
// and invokes the receive callback for each one. Close stops it.
func (e *Endpoint) Listen() {
	e.listening = true
	go e.readLoop()
}

func (e *Endpoint) readLoop() {
	defer close(e.done)
	for {
		select {
		case <-e.stop:
			return
		default:
		}

		if err := e.setReadTimeout(100 * time.Millisecond); err != nil {
			return
		}
		frame, err := e.readRawFrame()
		if err != nil {
			if errors.Is(err, errReadTimeout) {
				continue
			}
			return
		}

		e.mu.Lock()
		cb := e.onRecv
		e.mu.Unlock()
		if cb != nil {
			cb(frame)
		}
	}
}

func (e *Endpoint) setReadTimeout(timeout time.Duration) error {
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	return unix.SetsockoptTimeval(e.socketFD, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
}

func (e *Endpoint) readRawFrame() (j1939.Frame, error) {
	canFrame := make([]byte, 16)
	_, err := unix.Read(e.socketFD, canFrame)
	if err != nil {
		if err == syscall.EWOULDBLOCK || err == syscall.EINTR {
			return j1939.Frame{}, errReadTimeout
		}
		return j1939.Frame{}, err
	}

	canID := binary.LittleEndian.Uint32(canFrame[0:4])
	if canID&canIDRTRFlag != 0 {
		return j1939.Frame{}, errors.New("socketcan: remote transmission request frame")
	}
	if canID&canIDERRFlag != 0 {
		return j1939.Frame{}, errors.New("socketcan: error message frame")
	}

	dlc := int(canFrame[4])
	if dlc > j1939.MaxFrameDataLength {
		dlc = j1939.MaxFrameDataLength
	}
	data := make([]byte, dlc)
	copy(data, canFrame[8:8+dlc])

	return j1939.Frame{
		ID:   canID &^ canIDMask,
		Data: data,
		Time: e.timeNow(),
	}, nil
}

// Close stops the read loop and closes the underlying socket.
func (e *Endpoint) Close() error {
	if e.listening {
		close(e.stop)
		<-e.done
	}
	return unix.Close(e.socketFD)
}
