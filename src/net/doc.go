// Package net implements the websocket transport between clients and the
// relay.
//
// A WebsocketTransport carries one JSON message per text frame. It sends a
// ping every PingInterval and drops the connection when nothing, pongs
// included, has been read for PingInterval+PongTimeout. Inbound frames larger
// than ReadLimit close the connection.
//
// WebsocketHandler upgrades HTTP requests on the relay side and checks their
// Origin header against a list of allowed origins. DialWebsocket is the client
// side.
package net
