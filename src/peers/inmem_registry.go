package peers

import (
	"sort"
	"sync"
)

// InmemRegistry implements the Registry interface in memory.
type InmemRegistry struct {
	sync.RWMutex
	peers map[string]int
}

// NewInmemRegistry returns an empty InmemRegistry.
func NewInmemRegistry() *InmemRegistry {
	return &InmemRegistry{
		peers: make(map[string]int),
	}
}

// Add implements the Registry interface. The same peer may be added by more
// than one connection; it stays listed until every one of them is removed.
func (r *InmemRegistry) Add(peerID string) error {
	r.Lock()
	defer r.Unlock()

	r.peers[peerID]++
	return nil
}

// Remove implements the Registry interface.
func (r *InmemRegistry) Remove(peerID string) error {
	r.Lock()
	defer r.Unlock()

	if r.peers[peerID] <= 1 {
		delete(r.peers, peerID)
		return nil
	}
	r.peers[peerID]--
	return nil
}

// List implements the Registry interface.
func (r *InmemRegistry) List() ([]string, error) {
	r.RLock()
	defer r.RUnlock()

	res := make([]string, 0, len(r.peers))
	for id := range r.peers {
		res = append(res, id)
	}
	sort.Strings(res)
	return res, nil
}

// Clear implements the Registry interface.
func (r *InmemRegistry) Clear() error {
	r.Lock()
	defer r.Unlock()

	r.peers = make(map[string]int)
	return nil
}
