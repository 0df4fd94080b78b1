package common

import (
	"errors"
	"fmt"
)

// RelayErrType classifies the ways in which handling a client message can
// fail.
type RelayErrType uint32

const (
	// MalformedAddress means an address string lacks the required segments.
	MalformedAddress RelayErrType = iota
	// ProtocolViolation means a message is missing a field required by its
	// subject, or carries a subject the relay does not accept.
	ProtocolViolation
	// Unauthorized means a non-router connection sent router-only traffic.
	Unauthorized
	// BusUnavailable means a publish, subscribe or query on the message bus
	// failed.
	BusUnavailable
	// TransportClosed means a write was attempted on a closed connection.
	TransportClosed
	// NoRoute means a message could not be delivered to its receiver and
	// there is no router to fall back on.
	NoRoute
)

// String returns the label used in logs and metrics.
func (t RelayErrType) String() string {
	switch t {
	case MalformedAddress:
		return "malformed_address"
	case ProtocolViolation:
		return "protocol_violation"
	case Unauthorized:
		return "unauthorized"
	case BusUnavailable:
		return "bus_unavailable"
	case TransportClosed:
		return "transport_closed"
	case NoRoute:
		return "no_route"
	default:
		return "unknown"
	}
}

// RelayErr is the error returned by the rendezvous components. It records
// the error type, the peer it concerns (when known) and an optional cause.
type RelayErr struct {
	errType RelayErrType
	peer    string
	msg     string
	cause   error
}

// NewRelayErr creates a RelayErr without an underlying cause.
func NewRelayErr(errType RelayErrType, peer string, msg string) RelayErr {
	return RelayErr{
		errType: errType,
		peer:    peer,
		msg:     msg,
	}
}

// WrapRelayErr creates a RelayErr around the error that caused it.
func WrapRelayErr(errType RelayErrType, peer string, cause error) RelayErr {
	return RelayErr{
		errType: errType,
		peer:    peer,
		cause:   cause,
	}
}

// Type returns the RelayErrType of the error.
func (e RelayErr) Type() RelayErrType {
	return e.errType
}

// Peer returns the peer identifier the error concerns, possibly empty.
func (e RelayErr) Peer() string {
	return e.peer
}

// Error implements the error interface.
func (e RelayErr) Error() string {
	m := e.msg
	if e.cause != nil {
		if m != "" {
			m = fmt.Sprintf("%s: %v", m, e.cause)
		} else {
			m = e.cause.Error()
		}
	}

	if e.peer == "" {
		return fmt.Sprintf("%s, %s", e.errType, m)
	}

	return fmt.Sprintf("%s, %s, %s", e.errType, e.peer, m)
}

// Unwrap returns the underlying cause.
func (e RelayErr) Unwrap() error {
	return e.cause
}

// IsRelay checks that an error is, or wraps, a RelayErr and that its type
// matches the provided RelayErrType.
func IsRelay(err error, t RelayErrType) bool {
	var relayErr RelayErr
	return errors.As(err, &relayErr) && relayErr.errType == t
}

// RelayErrTypeOf returns the type of the RelayErr wrapped in err. The second
// value is false when err is not a RelayErr.
func RelayErrTypeOf(err error) (RelayErrType, bool) {
	var relayErr RelayErr
	if !errors.As(err, &relayErr) {
		return 0, false
	}
	return relayErr.errType, true
}
