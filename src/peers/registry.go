package peers

// Registry tracks the identifiers of the peers that introduced themselves to
// the relay. It is cleared when the relay starts and when it stops, so that
// stale records never survive a restart.
type Registry interface {
	// Add records an introduced peer. Each call must be matched by one
	// Remove.
	Add(peerID string) error

	// Remove undoes one Add. The peer is forgotten once every Add is undone.
	Remove(peerID string) error

	// List returns the recorded peers, sorted.
	List() ([]string, error)

	// Clear forgets every peer.
	Clear() error
}
