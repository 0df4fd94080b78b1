// Package peers keeps track of the peers connected to the relay.
//
// A peer is recorded when its connection sends an introduction and forgotten
// when that connection closes. The record is informational: it is exposed by
// the status service and never consulted for routing, which relies on the
// subscriber counts of the message bus instead.
//
// Several connections may introduce themselves with the same identifier. Both
// registries count them, and a peer stays listed until the last of them
// leaves. The Redis registry keeps the counts in a Redis hash so that several
// relay processes sharing a Redis server also share the record. Every relay
// clears it on startup and shutdown.
package peers
