// Package address parses and formats the slash-delimited peer addresses
// exchanged by rendezvous clients.
//
// An address has the form
//
//  <namespace>/<version>/<peerId>/<transport>/<host>/<route...>
//
// Only the peer identifier is interpreted by the relay. The other segments are
// routing metadata which is echoed back verbatim.
package address

import (
	"strings"

	"github.com/mosaicnetworks/rendezvous/src/common"
)

// Delimiter separates the segments of an address.
const Delimiter = "/"

// RelayAddress is the sender address the relay uses for the messages it
// originates itself.
const RelayAddress = "mitosis/v1/p000/wss/signal.mitosis.dev/websocket"

// minSegments is the number of segments needed to reach the peer identifier.
const minSegments = 3

// Address is an immutable, parsed peer address.
type Address struct {
	segments []string
}

// Parse splits an address string into its segments. It returns a
// MalformedAddress error if the string has fewer than three segments or if
// the peer identifier is empty.
func Parse(s string) (Address, error) {
	segments := strings.Split(s, Delimiter)
	if len(segments) < minSegments {
		return Address{}, common.NewRelayErr(common.MalformedAddress, "", s)
	}

	if segments[2] == "" {
		return Address{}, common.NewRelayErr(common.MalformedAddress, "", s)
	}

	return Address{segments: segments}, nil
}

// MustParse is like Parse but panics on error. It is meant for constants.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// New assembles an address from its parts.
func New(namespace, version, peerID, transport, host string, route ...string) Address {
	segments := []string{namespace, version, peerID, transport, host}
	segments = append(segments, route...)
	return Address{segments: segments}
}

// PeerID parses s and returns its peer identifier.
func PeerID(s string) (string, error) {
	a, err := Parse(s)
	if err != nil {
		return "", err
	}
	return a.PeerID(), nil
}

// Namespace returns the first segment.
func (a Address) Namespace() string {
	return a.segment(0)
}

// Version returns the protocol version segment.
func (a Address) Version() string {
	return a.segment(1)
}

// PeerID returns the peer identifier.
func (a Address) PeerID() string {
	return a.segment(2)
}

// Transport returns the transport segment, or "" if absent.
func (a Address) Transport() string {
	return a.segment(3)
}

// Host returns the host segment, or "" if absent.
func (a Address) Host() string {
	return a.segment(4)
}

// Route returns the remaining segments after the host.
func (a Address) Route() []string {
	if len(a.segments) <= 5 {
		return nil
	}
	route := make([]string, len(a.segments)-5)
	copy(route, a.segments[5:])
	return route
}

// IsZero reports whether a is the zero Address.
func (a Address) IsZero() bool {
	return len(a.segments) == 0
}

// String returns the address in its wire form.
func (a Address) String() string {
	return strings.Join(a.segments, Delimiter)
}

func (a Address) segment(i int) string {
	if i >= len(a.segments) {
		return ""
	}
	return a.segments[i]
}
