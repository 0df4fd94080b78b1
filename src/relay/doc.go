// Package relay implements the rendezvous protocol: the per-client Conn and
// the Engine that assigns roles and routes messages between peers.
//
// A client connects, then sends an introduction carrying its address. The
// Engine subscribes the connection to the peer's inbox channel on the message
// bus and consults the router State. The first peer to introduce itself while
// no router is recorded becomes the router and receives
//
//  role-update ["router", "peer"]
//
// Every other peer receives
//
//  role-update ["peer"]
//  peer-update [{"peerId": ..., "roles": [...], "quality": ...}]
//
// describing the router. Afterwards:
//
// - connection-negotiation messages are published to the receiver's inbox,
// or to the router's inbox when nobody listens on the receiver's.
//
// - peer-update and rejection messages are only accepted from the router,
// and are published to the receiver's inbox. Anything else is dropped
// without a reply.
//
// When a connection closes its subscriptions are released and, if it was the
// router, the router record is cleared. The next introduction elects a new
// router. Negotiations in flight with the old router are not migrated.
//
// Inbound frames of a connection are handled in order by its read loop.
// Messages from the bus are queued in a bounded buffer and written by the
// connection's own write loop, so a slow client never blocks the bus.
package relay
