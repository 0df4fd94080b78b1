package relay

import (
	"sync/atomic"
)

// ConnState captures the lifecycle of a Conn: Connected, Introduced or Closed.
type ConnState uint32

const (
	// Connected is the initial state: the transport is open but the client
	// has not introduced itself.
	Connected ConnState = iota
	// Introduced means the peer identifier is set and the inbox subscribed.
	Introduced
	// Closed is terminal.
	Closed
)

// String returns the name of the state, as used in logs.
func (s ConnState) String() string {
	switch s {
	case Connected:
		return "Connected"
	case Introduced:
		return "Introduced"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

type state struct {
	state ConnState
}

func (s *state) getState() ConnState {
	stateAddr := (*uint32)(&s.state)
	return ConnState(atomic.LoadUint32(stateAddr))
}

func (s *state) setState(cs ConnState) {
	stateAddr := (*uint32)(&s.state)
	atomic.StoreUint32(stateAddr, uint32(cs))
}
