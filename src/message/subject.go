package message

import (
	"github.com/mosaicnetworks/rendezvous/src/common"
)

// Subject identifies the kind of a rendezvous message. The set of subjects
// is closed: ParseSubject rejects anything else.
type Subject uint8

const (
	// Introduction is the first message a client sends. It announces the
	// client's address and triggers role assignment.
	Introduction Subject = iota + 1
	// ConnectionNegotiation carries an opaque offer, answer or candidate
	// between two peers.
	ConnectionNegotiation
	// PeerUpdate is relayed by the router to a peer, or sent by the relay to
	// describe the current router.
	PeerUpdate
	// Rejection is relayed by the router to turn a peer away.
	Rejection
	// RoleUpdate is only ever sent by the relay, to tell a client its roles.
	RoleUpdate
)

// String returns the wire name of the subject.
func (s Subject) String() string {
	switch s {
	case Introduction:
		return "introduction"
	case ConnectionNegotiation:
		return "connection-negotiation"
	case PeerUpdate:
		return "peer-update"
	case Rejection:
		return "rejection"
	case RoleUpdate:
		return "role-update"
	default:
		return "unknown"
	}
}

// Inbound reports whether clients are allowed to send the subject to the
// relay.
func (s Subject) Inbound() bool {
	switch s {
	case Introduction, ConnectionNegotiation, PeerUpdate, Rejection:
		return true
	default:
		return false
	}
}

// ParseSubject maps a wire name onto a Subject.
func ParseSubject(s string) (Subject, error) {
	switch s {
	case "introduction":
		return Introduction, nil
	case "connection-negotiation":
		return ConnectionNegotiation, nil
	case "peer-update":
		return PeerUpdate, nil
	case "rejection":
		return Rejection, nil
	case "role-update":
		return RoleUpdate, nil
	default:
		return 0, common.NewRelayErr(common.ProtocolViolation, "", "unknown subject "+s)
	}
}
