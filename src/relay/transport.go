package relay

// Transport is the framed, bidirectional channel between the relay and one
// client. Every frame is one message.
type Transport interface {
	// ReadMessage blocks until the next inbound frame. It returns an error
	// once the transport is closed.
	ReadMessage() ([]byte, error)

	// WriteMessage writes one frame. It is never called concurrently.
	WriteMessage(data []byte) error

	// Close closes the transport. It may be called more than once.
	Close() error

	// RemoteAddr identifies the client in logs.
	RemoteAddr() string
}
