package j1939

import "fmt"

// ConfigError is returned synchronously from constructors/config validation:
// an invalid NAME, a duplicate internal address request, a port out of
// range. Never surfaces asynchronously.
type ConfigError struct {
	Reason string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("j1939: config error: %s", e.Reason)
}

// PrecondError is returned synchronously when a command is invoked in the
// wrong state, e.g. a VT command issued before the client reaches Connected.
type PrecondError struct {
	Reason string
}

func (e PrecondError) Error() string {
	return fmt.Sprintf("j1939: precondition error: %s", e.Reason)
}

// EndpointError wraps a send failure reported by the underlying CAN driver.
// The stack treats the underlying cause as opaque: it returns the error to
// the caller, and a transport session whose data packet fails to send is
// aborted with AbortReasonAnyOther.
type EndpointError struct {
	Err error
}

func (e EndpointError) Error() string {
	return fmt.Sprintf("j1939: endpoint send failed: %v", e.Err)
}

func (e EndpointError) Unwrap() error {
	return e.Err
}

// AbortReason enumerates the Connection Abort reason codes of ISO
// 11783-3/SAE J1939-21 §5.10.
type AbortReason uint8

const (
	AbortReasonAlreadyInSession AbortReason = iota + 1
	AbortReasonResourcesUnavailable
	AbortReasonTimeout
	AbortReasonCTSWhileInDataTransfer
	AbortReasonRetransmitNotSupported
	AbortReasonUnexpectedData
	AbortReasonBadSequence
	AbortReasonDuplicateSequence
	AbortReasonUnexpectedPacket
	AbortReasonAnyOther = 0xFE
)

func (r AbortReason) String() string {
	switch r {
	case AbortReasonAlreadyInSession:
		return "already-in-session"
	case AbortReasonResourcesUnavailable:
		return "resources-unavailable"
	case AbortReasonTimeout:
		return "timeout"
	case AbortReasonCTSWhileInDataTransfer:
		return "clear-to-send-while-in-data-transfer"
	case AbortReasonRetransmitNotSupported:
		return "retransmit-not-supported"
	case AbortReasonUnexpectedData:
		return "unexpected-data"
	case AbortReasonBadSequence:
		return "bad-sequence"
	case AbortReasonDuplicateSequence:
		return "duplicate-sequence"
	case AbortReasonUnexpectedPacket:
		return "unexpected-packet"
	case AbortReasonAnyOther:
		return "any-other"
	default:
		return "unknown"
	}
}

// TransportAbortError is surfaced to the waiting sender/receiver callback
// when a TP/ETP session is aborted, carrying the wire reason code.
type TransportAbortError struct {
	Reason AbortReason
}

func (e TransportAbortError) Error() string {
	return fmt.Sprintf("j1939: transport session aborted: %s", e.Reason)
}

// TransportTimeoutError is a specialisation of TransportAbortError with
// Reason == AbortReasonTimeout, kept as a distinct type so callers can
// errors.As for it specifically without comparing the Reason field.
type TransportTimeoutError struct {
	TransportAbortError
}

func NewTransportTimeoutError() TransportTimeoutError {
	return TransportTimeoutError{TransportAbortError{Reason: AbortReasonTimeout}}
}
