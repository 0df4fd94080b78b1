package relay

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mosaicnetworks/rendezvous/src/bus"
	"github.com/mosaicnetworks/rendezvous/src/common"
	"github.com/mosaicnetworks/rendezvous/src/message"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestIntroductionRoles(t *testing.T) {
	r := newTestRelay(t)

	a := r.accept(t, "A")
	require.NoError(t, r.handle(a, a.introduction()))
	a.expectRoles("router", "peer")
	require.Equal(t, Introduced, a.conn.State())
	require.Equal(t, "A", a.conn.PeerID())

	b := r.accept(t, "B")
	require.NoError(t, r.handle(b, b.introduction()))
	b.expectRoles("peer")
	require.Equal(t, "A", b.expectRouterUpdate())

	n, err := r.bus.NumSub(bus.InboxChannel("B"))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	list, _ := r.registry.List()
	require.Equal(t, []string{"A", "B"}, list)

	require.Equal(t, 1.0, testutil.ToFloat64(r.metrics.Elections))
}

// TestScenario follows two peers through negotiation, then the router's
// departure and the election of its successor.
func TestScenario(t *testing.T) {
	r := newTestRelay(t)

	a := r.serve(t, "A")
	a.push(a.introduction())
	a.expectRoles("router", "peer")

	b := r.serve(t, "B")
	b.push(b.introduction())
	b.expectRoles("peer")
	require.Equal(t, "A", b.expectRouterUpdate())

	b.push(message.New(message.ConnectionNegotiation, b.addr, a.addr, map[string]interface{}{"offer": "x"}))

	m := a.expect()
	require.Equal(t, message.ConnectionNegotiation, m.Subject)
	require.Equal(t, b.addr, m.Sender)
	require.Equal(t, a.addr, m.Receiver)
	require.Equal(t, map[string]interface{}{"offer": "x"}, m.Body)

	a.push(message.New(message.PeerUpdate, a.addr, b.addr, map[string]interface{}{"answer": "y"}))

	m = b.expect()
	require.Equal(t, message.PeerUpdate, m.Subject)
	require.Equal(t, a.addr, m.Sender)
	require.Equal(t, map[string]interface{}{"answer": "y"}, m.Body)

	a.transport.Close()

	require.Eventually(t, func() bool {
		_, ok := r.state.Current()
		return !ok
	}, testTimeout, 10*time.Millisecond)

	c := r.serve(t, "C")
	c.push(c.introduction())
	c.expectRoles("router", "peer")

	snap, ok := r.state.Current()
	require.True(t, ok)
	require.Equal(t, "C", snap.PeerID)
}

func TestSingleRouter(t *testing.T) {
	r := newTestRelay(t)

	const n = 20
	clients := make([]*testPeer, n)
	for i := range clients {
		clients[i] = r.accept(t, fmt.Sprintf("p%02d", i))
	}

	var wg sync.WaitGroup
	for _, p := range clients {
		wg.Add(1)
		go func(p *testPeer) {
			defer wg.Done()
			raw, _ := message.Encode(p.introduction())
			r.engine.HandleMessage(p.conn, raw)
		}(p)
	}
	wg.Wait()

	snap, ok := r.state.Current()
	require.True(t, ok)

	routers := 0
	for _, p := range clients {
		m := p.expect()
		require.Equal(t, message.RoleUpdate, m.Subject)

		roles := m.Body.([]interface{})
		if len(roles) == 2 {
			routers++
			require.Equal(t, snap.PeerID, p.id)
			continue
		}

		require.Equal(t, []interface{}{"peer"}, roles)
		require.Equal(t, snap.PeerID, p.expectRouterUpdate())
	}

	require.Equal(t, 1, routers)
}

func TestNonRouterDisconnect(t *testing.T) {
	r := newTestRelay(t)

	a := r.accept(t, "A")
	require.NoError(t, r.handle(a, a.introduction()))
	b := r.accept(t, "B")
	require.NoError(t, r.handle(b, b.introduction()))

	require.NoError(t, b.conn.Close())

	snap, ok := r.state.Current()
	require.True(t, ok)
	require.Equal(t, "A", snap.PeerID)

	n, err := r.bus.NumSub(bus.InboxChannel("B"))
	require.NoError(t, err)
	require.Equal(t, 0, n)

	list, _ := r.registry.List()
	require.Equal(t, []string{"A"}, list)
	require.Equal(t, 1, r.engine.NumConns())
}

func TestNegotiationFallback(t *testing.T) {
	r := newTestRelay(t)

	a := r.serve(t, "A")
	a.push(a.introduction())
	a.expectRoles("router", "peer")

	b := r.serve(t, "B")
	b.push(b.introduction())
	b.expectRoles("peer")
	b.expectRouterUpdate()

	// Z never introduced itself, so nobody listens on its inbox.
	z := testAddr("Z")
	b.push(message.New(message.ConnectionNegotiation, b.addr, z, map[string]interface{}{"offer": "x"}))

	m := a.expect()
	require.Equal(t, message.ConnectionNegotiation, m.Subject)
	require.Equal(t, b.addr, m.Sender)
	require.Equal(t, z, m.Receiver)
	require.Equal(t, map[string]interface{}{"offer": "x"}, m.Body)

	require.Equal(t, 1.0, testutil.ToFloat64(r.engine.metrics.Fallbacks))
}

func TestNegotiationWithoutRouter(t *testing.T) {
	r := newTestRelay(t)

	b := r.accept(t, "B")
	err := r.handle(b, message.New(message.ConnectionNegotiation, b.addr, testAddr("Z"), nil))
	require.True(t, common.IsRelay(err, common.NoRoute), "got %v", err)
	require.Equal(t, 0, r.bus.total())
}

func TestRouterReplyAuthorization(t *testing.T) {
	r := newTestRelay(t)

	a := r.accept(t, "A")
	require.NoError(t, r.handle(a, a.introduction()))
	a.expectRoles("router", "peer")

	b := r.accept(t, "B")
	require.NoError(t, r.handle(b, b.introduction()))
	b.expectRoles("peer")
	b.expectRouterUpdate()

	c := r.accept(t, "C")
	require.NoError(t, r.handle(c, c.introduction()))
	c.expectRoles("peer")
	c.expectRouterUpdate()

	// B speaks for itself.
	err := r.handle(b, message.New(message.PeerUpdate, b.addr, c.addr, map[string]interface{}{"answer": "y"}))
	require.True(t, common.IsRelay(err, common.Unauthorized), "got %v", err)

	// B impersonates the router.
	err = r.handle(b, message.New(message.Rejection, a.addr, c.addr, nil))
	require.True(t, common.IsRelay(err, common.Unauthorized), "got %v", err)

	require.Equal(t, 0, r.bus.total())
	c.expectNothing(100 * time.Millisecond)

	// The router itself is relayed, never redirected.
	require.NoError(t, r.handle(a, message.New(message.Rejection, a.addr, c.addr, "full")))
	m := c.expect()
	require.Equal(t, message.Rejection, m.Subject)
	require.Equal(t, "full", m.Body)
}

func TestRouterReplyToOfflinePeer(t *testing.T) {
	r := newTestRelay(t)

	a := r.accept(t, "A")
	require.NoError(t, r.handle(a, a.introduction()))
	a.expectRoles("router", "peer")

	require.NoError(t, r.handle(a, message.New(message.PeerUpdate, a.addr, testAddr("Z"), nil)))
	require.Equal(t, 1, r.bus.published[bus.InboxChannel("Z")])
	a.expectNothing(50 * time.Millisecond)
}

func TestProtocolViolations(t *testing.T) {
	r := newTestRelay(t)
	a := r.accept(t, "A")

	cases := map[string][]byte{
		"malformed json":       []byte(`{"subject": "introduction", `),
		"unknown subject":      []byte(`{"subject": "hello", "sender": "mitosis/v1/A"}`),
		"outbound subject":     []byte(`{"subject": "role-update", "sender": "mitosis/v1/A", "receiver": "mitosis/v1/B"}`),
		"missing sender":       []byte(`{"subject": "introduction"}`),
		"missing receiver":     []byte(`{"subject": "connection-negotiation", "sender": "mitosis/v1/A"}`),
		"router reply no recv": []byte(`{"subject": "peer-update", "sender": "mitosis/v1/A"}`),
	}

	for name, raw := range cases {
		err := r.engine.HandleMessage(a.conn, raw)
		if !common.IsRelay(err, common.ProtocolViolation) {
			t.Fatalf("%s: expected ProtocolViolation, got %v", name, err)
		}
	}

	err := r.handle(a, message.New(message.Introduction, "mitosis/v1", "", nil))
	require.True(t, common.IsRelay(err, common.MalformedAddress), "got %v", err)

	err = r.handle(a, message.New(message.ConnectionNegotiation, testAddr("A"), "bad", nil))
	require.True(t, common.IsRelay(err, common.MalformedAddress), "got %v", err)

	// The connection survives all of it.
	require.Equal(t, Connected, a.conn.State())
	require.NoError(t, r.handle(a, a.introduction()))
	a.expectRoles("router", "peer")
}

func TestDroppedMessagesKeepConnectionOpen(t *testing.T) {
	r := newTestRelay(t)

	a := r.serve(t, "A")
	a.transport.in <- []byte("not json")
	a.push(a.introduction())
	a.expectRoles("router", "peer")

	require.Equal(t, 1.0, testutil.ToFloat64(r.metrics.Dropped.WithLabelValues("protocol_violation")))
}

func TestReintroduction(t *testing.T) {
	r := newTestRelay(t)

	a := r.accept(t, "A")
	require.NoError(t, r.handle(a, a.introduction()))
	a.expectRoles("router", "peer")

	// Same identity: the router keeps its role.
	require.NoError(t, r.handle(a, a.introduction()))
	a.expectRoles("router", "peer")

	list, _ := r.registry.List()
	require.Equal(t, []string{"A"}, list)

	// Different identity: refused.
	err := r.handle(a, message.New(message.Introduction, testAddr("A2"), "", nil))
	require.True(t, common.IsRelay(err, common.ProtocolViolation), "got %v", err)
	require.Equal(t, "A", a.conn.PeerID())
}

func TestSharedPeerIDSingleRouter(t *testing.T) {
	r := newTestRelay(t)

	a := r.accept(t, "A")
	require.NoError(t, r.handle(a, a.introduction()))
	a.expectRoles("router", "peer")

	// A second connection claiming the router's identity is only a peer.
	twin := r.accept(t, "A")
	require.NoError(t, r.handle(twin, twin.introduction()))
	twin.expectRoles("peer")
	require.Equal(t, "A", twin.expectRouterUpdate())

	require.NoError(t, r.handle(twin, twin.introduction()))
	twin.expectRoles("peer")
	twin.expectRouterUpdate()

	require.False(t, twin.conn.IsRouter())
	require.True(t, a.conn.IsRouter())
	require.Equal(t, 1.0, testutil.ToFloat64(r.metrics.Elections))

	err := r.handle(twin, message.New(message.Rejection, twin.addr, testAddr("C"), nil))
	require.True(t, common.IsRelay(err, common.Unauthorized), "got %v", err)

	// The twin leaving does not release the elected connection's role.
	require.NoError(t, twin.conn.Close())

	snap, ok := r.state.Current()
	require.True(t, ok)
	require.Equal(t, "A", snap.PeerID)
	require.Equal(t, 0.0, testutil.ToFloat64(r.metrics.RouterDepartures))

	list, _ := r.registry.List()
	require.Equal(t, []string{"A"}, list)

	require.NoError(t, a.conn.Close())

	_, ok = r.state.Current()
	require.False(t, ok)
	require.Equal(t, 1.0, testutil.ToFloat64(r.metrics.RouterDepartures))
}

func TestIdempotentClose(t *testing.T) {
	r := newTestRelay(t)

	a := r.accept(t, "A")
	require.NoError(t, r.handle(a, a.introduction()))
	a.expectRoles("router", "peer")

	require.NoError(t, a.conn.Close())

	_, ok := r.state.Current()
	require.False(t, ok)

	d := r.accept(t, "D")
	require.NoError(t, r.handle(d, d.introduction()))
	d.expectRoles("router", "peer")

	// Closing A again must not touch D's router record.
	require.NoError(t, a.conn.Close())

	snap, ok := r.state.Current()
	require.True(t, ok)
	require.Equal(t, "D", snap.PeerID)
	require.Equal(t, 1.0, testutil.ToFloat64(r.metrics.RouterDepartures))
	require.Equal(t, 1, r.engine.NumConns())
}

func TestCloseDuringIntroduction(t *testing.T) {
	for i := 0; i < 50; i++ {
		r := newTestRelay(t)
		a := r.accept(t, "A")
		raw, _ := message.Encode(a.introduction())

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.engine.HandleMessage(a.conn, raw)
		}()
		go func() {
			defer wg.Done()
			a.conn.Close()
		}()
		wg.Wait()

		// Whatever the interleaving, nothing outlives the connection.
		_, ok := r.state.Current()
		require.False(t, ok)

		n, err := r.bus.NumSub(bus.InboxChannel("A"))
		require.NoError(t, err)
		require.Equal(t, 0, n)

		list, _ := r.registry.List()
		require.Empty(t, list)
	}
}

func TestShutdown(t *testing.T) {
	r := newTestRelay(t)

	a := r.serve(t, "A")
	a.push(a.introduction())
	a.expectRoles("router", "peer")

	b := r.serve(t, "B")
	b.push(b.introduction())
	b.expectRoles("peer")
	b.expectRouterUpdate()

	r.engine.Shutdown()

	require.Equal(t, 0, r.engine.NumConns())
	_, ok := r.state.Current()
	require.False(t, ok)
}
