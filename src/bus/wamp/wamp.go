// Package wamp implements the relay's message bus on a WAMP broker, using
// publish/subscribe over WebSockets.
//
// A Hub embeds a WAMP router in the relay process. It can optionally listen
// for WebSocket connections, with TLS when a certificate and key are given,
// so that other relay processes share its topics. Those processes use a
// remote Bus, which connects to the Hub with ConnectNet. If a cert.pem file is
// passed to the remote Bus, it is trusted as the Hub's certificate, which
// allows self-signed certificates. There is also an option to skip
// certificate verification, but this should only be used for testing.
//
// Each Subscription holds its own WAMP session, so the subscriber count of a
// topic, obtained through the WAMP meta API, is the number of relay
// connections listening on it.
package wamp

import (
	"time"
)

// DefaultResponseTimeout bounds calls to the WAMP meta API.
const DefaultResponseTimeout = 5 * time.Second
