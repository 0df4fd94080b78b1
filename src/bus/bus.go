// Package bus defines the publish/subscribe message bus used to fan messages
// between relay connections, possibly across relay processes.
//
// Every peer has a private inbox channel named after its identifier (see
// InboxChannel). A connection subscribes to its peer's inbox after the
// introduction, and other connections publish to that inbox to reach it. The
// relay treats the bus as at-least-once and best-effort.
//
// This package contains an in-memory bus, used in tests and by single-process
// deployments, and a Redis bus. A WAMP bus lives in the wamp sub-package.
package bus

// ReportsChannel is the well-known channel for reporting blobs.
const ReportsChannel = "reports"

// inboxPrefix prefixes the peer identifier in inbox channel names.
const inboxPrefix = "peer-"

// InboxChannel returns the name of the private channel of a peer.
func InboxChannel(peerID string) string {
	return inboxPrefix + peerID
}

// Handler is called with every payload published on a subscribed channel.
// It must not block.
type Handler func(channel string, payload []byte)

// Subscription is an active subscription to one channel.
type Subscription interface {
	// Channel returns the name of the subscribed channel.
	Channel() string

	// Unsubscribe stops the delivery of messages to the handler. It is safe
	// to call more than once.
	Unsubscribe() error
}

// Bus is the interface the relay needs from a publish/subscribe system.
type Bus interface {
	// Subscribe registers a handler on a channel. The subscription is active,
	// and counted by NumSub, when Subscribe returns.
	Subscribe(channel string, handler Handler) (Subscription, error)

	// Publish sends a payload to every subscriber of a channel without
	// waiting for delivery.
	Publish(channel string, payload []byte) error

	// NumSub returns the number of subscribers of a channel.
	NumSub(channel string) (int, error)

	// Close releases the resources held by the bus.
	Close() error
}
