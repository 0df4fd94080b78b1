// Package router records which peer currently holds the router role.
//
// The first peer to introduce itself while no router is recorded becomes the
// router. It keeps the role until its connection closes, at which point the
// state is cleared and the next introduction, from any peer, elects a new
// router. There is no lease and no quorum.
//
// State is the only object shared between connections. All of its methods
// serialize on one mutex and never block on I/O.
package router

import (
	"sync"
)

// Role names.
const (
	RoleRouter = "router"
	RolePeer   = "peer"
)

// DefaultQuality is the quality score assigned to a newly elected router.
const DefaultQuality = 1.0

// Snapshot is a copy of the router record.
type Snapshot struct {
	PeerID  string
	Roles   []string
	Quality float64
}

// Body returns the snapshot as a message body object.
func (s Snapshot) Body() map[string]interface{} {
	roles := make([]interface{}, len(s.Roles))
	for i, r := range s.Roles {
		roles[i] = r
	}
	return map[string]interface{}{
		"peerId":  s.PeerID,
		"roles":   roles,
		"quality": s.Quality,
	}
}

// State holds the router record of one relay process.
type State struct {
	sync.Mutex

	peerID  string
	roles   []string
	quality float64
}

// NewState returns an empty State.
func NewState() *State {
	return &State{}
}

// TryBecomeRouter makes peerID the router if no router is recorded, and
// returns true. Otherwise it returns false together with the router that
// was observed, so callers never see an election result and a router record
// that disagree.
func (s *State) TryBecomeRouter(peerID string) (Snapshot, bool) {
	s.Lock()
	defer s.Unlock()

	if s.peerID != "" {
		return s.snapshot(), false
	}

	s.peerID = peerID
	s.roles = []string{RoleRouter, RolePeer}
	s.quality = DefaultQuality

	return s.snapshot(), true
}

// Current returns a copy of the router record. The second value is false
// when no router is recorded.
func (s *State) Current() (Snapshot, bool) {
	s.Lock()
	defer s.Unlock()

	if s.peerID == "" {
		return Snapshot{}, false
	}
	return s.snapshot(), true
}

// IsRouter reports whether peerID is the current router.
func (s *State) IsRouter(peerID string) bool {
	s.Lock()
	defer s.Unlock()

	return peerID != "" && s.peerID == peerID
}

// ReleaseIfMatches clears the record if peerID is the current router, and
// reports whether it did.
func (s *State) ReleaseIfMatches(peerID string) bool {
	s.Lock()
	defer s.Unlock()

	if peerID == "" || s.peerID != peerID {
		return false
	}

	s.clear()
	return true
}

// Reset clears the record unconditionally. It is used when the relay starts
// and stops.
func (s *State) Reset() {
	s.Lock()
	defer s.Unlock()

	s.clear()
}

func (s *State) clear() {
	s.peerID = ""
	s.roles = nil
	s.quality = 0
}

func (s *State) snapshot() Snapshot {
	roles := make([]string, len(s.roles))
	copy(roles, s.roles)
	return Snapshot{
		PeerID:  s.peerID,
		Roles:   roles,
		Quality: s.quality,
	}
}
