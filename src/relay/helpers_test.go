package relay

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/mosaicnetworks/rendezvous/src/bus"
	"github.com/mosaicnetworks/rendezvous/src/common"
	"github.com/mosaicnetworks/rendezvous/src/message"
	"github.com/mosaicnetworks/rendezvous/src/peers"
	"github.com/mosaicnetworks/rendezvous/src/router"
	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

var errTestTransportClosed = errors.New("test transport closed")

// testTransport is an in-memory Transport. Frames pushed on in are read by the
// relay, and frames written by the relay appear on out.
type testTransport struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newTestTransport() *testTransport {
	return &testTransport{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (t *testTransport) ReadMessage() ([]byte, error) {
	select {
	case data := <-t.in:
		return data, nil
	case <-t.closed:
		return nil, io.EOF
	}
}

func (t *testTransport) WriteMessage(data []byte) error {
	select {
	case <-t.closed:
		return errTestTransportClosed
	default:
	}

	select {
	case t.out <- data:
		return nil
	case <-t.closed:
		return errTestTransportClosed
	}
}

func (t *testTransport) Close() error {
	t.once.Do(func() {
		close(t.closed)
	})
	return nil
}

func (t *testTransport) RemoteAddr() string {
	return "test"
}

// recordingBus counts publications on top of an InmemBus.
type recordingBus struct {
	*bus.InmemBus

	lock      sync.Mutex
	published map[string]int
}

func newRecordingBus() *recordingBus {
	return &recordingBus{
		InmemBus:  bus.NewInmemBus(),
		published: make(map[string]int),
	}
}

func (b *recordingBus) Publish(channel string, payload []byte) error {
	b.lock.Lock()
	b.published[channel]++
	b.lock.Unlock()

	return b.InmemBus.Publish(channel, payload)
}

func (b *recordingBus) total() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	n := 0
	for _, c := range b.published {
		n += c
	}
	return n
}

type testRelay struct {
	engine   *Engine
	bus      *recordingBus
	state    *router.State
	registry *peers.InmemRegistry
	metrics  *Metrics
}

func newTestRelay(t *testing.T) *testRelay {
	b := newRecordingBus()
	state := router.NewState()
	registry := peers.NewInmemRegistry()
	metrics := NewMetrics(nil)

	engine := NewEngine(b, state, registry, testRelayAddress, 16, metrics, common.NewTestEntry(t, "relay"))

	return &testRelay{
		engine:   engine,
		bus:      b,
		state:    state,
		registry: registry,
		metrics:  metrics,
	}
}

const testRelayAddress = "mitosis/v1/p000/wss/signal.mitosis.dev/websocket"

func testAddr(peerID string) string {
	return "mitosis/v1/" + peerID + "/webrtc/peer.test"
}

// testPeer is a client connected to a testRelay.
type testPeer struct {
	t         *testing.T
	id        string
	addr      string
	transport *testTransport
	conn      *Conn
}

// accept connects a peer without a read loop; frames are handled by calling
// handle directly, which returns the engine's error.
func (r *testRelay) accept(t *testing.T, peerID string) *testPeer {
	tr := newTestTransport()
	return &testPeer{
		t:         t,
		id:        peerID,
		addr:      testAddr(peerID),
		transport: tr,
		conn:      r.engine.Accept(tr),
	}
}

// serve connects a peer through Engine.Serve; frames are sent with push.
func (r *testRelay) serve(t *testing.T, peerID string) *testPeer {
	tr := newTestTransport()
	go r.engine.Serve(tr)
	return &testPeer{
		t:         t,
		id:        peerID,
		addr:      testAddr(peerID),
		transport: tr,
	}
}

func (r *testRelay) handle(p *testPeer, m *message.Message) error {
	raw, err := message.Encode(m)
	require.NoError(p.t, err)
	return r.engine.HandleMessage(p.conn, raw)
}

func (p *testPeer) push(m *message.Message) {
	raw, err := message.Encode(m)
	require.NoError(p.t, err)
	p.transport.in <- raw
}

func (p *testPeer) introduction() *message.Message {
	return message.New(message.Introduction, p.addr, "", nil)
}

func (p *testPeer) expect() *message.Message {
	select {
	case raw := <-p.transport.out:
		m, err := message.Decode(raw)
		require.NoError(p.t, err)
		return m
	case <-time.After(testTimeout):
		p.t.Fatalf("%s: timeout waiting for message", p.id)
		return nil
	}
}

func (p *testPeer) expectNothing(d time.Duration) {
	select {
	case raw := <-p.transport.out:
		p.t.Fatalf("%s: unexpected message %s", p.id, raw)
	case <-time.After(d):
	}
}

func (p *testPeer) expectRoles(roles ...string) {
	m := p.expect()
	require.Equal(p.t, message.RoleUpdate, m.Subject)
	require.Equal(p.t, testRelayAddress, m.Sender)
	require.Equal(p.t, p.addr, m.Receiver)

	expected := make([]interface{}, len(roles))
	for i, r := range roles {
		expected[i] = r
	}
	require.Equal(p.t, expected, m.Body)
}

// expectRouterUpdate checks the peer-update describing the router and returns
// the router's peer identifier.
func (p *testPeer) expectRouterUpdate() string {
	m := p.expect()
	require.Equal(p.t, message.PeerUpdate, m.Subject)
	require.Equal(p.t, p.addr, m.Receiver)

	list, ok := m.Body.([]interface{})
	require.True(p.t, ok, "peer-update body should be a list")
	require.Len(p.t, list, 1)

	snap, ok := list[0].(map[string]interface{})
	require.True(p.t, ok, "router snapshot should be an object")
	require.Equal(p.t, []interface{}{"router", "peer"}, snap["roles"])
	require.EqualValues(p.t, 1, snap["quality"])

	id, _ := snap["peerId"].(string)
	return id
}
