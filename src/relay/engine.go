package relay

import (
	"sync"

	"github.com/mosaicnetworks/rendezvous/src/address"
	"github.com/mosaicnetworks/rendezvous/src/bus"
	"github.com/mosaicnetworks/rendezvous/src/common"
	"github.com/mosaicnetworks/rendezvous/src/message"
	"github.com/mosaicnetworks/rendezvous/src/peers"
	"github.com/mosaicnetworks/rendezvous/src/router"
	"github.com/sirupsen/logrus"
)

// Engine drives the rendezvous protocol for every connection of a relay
// process. The router State is shared by all the connections and injected at
// construction.
type Engine struct {
	bus       bus.Bus
	state     *router.State
	registry  peers.Registry
	address   string
	queueSize int
	metrics   *Metrics
	logger    *logrus.Entry

	connLock sync.Mutex
	conns    map[string]*Conn
}

// NewEngine creates an Engine. relayAddress is the sender of the messages the
// relay originates. A nil registry defaults to an InmemRegistry, and nil
// metrics to unregistered collectors.
func NewEngine(
	b bus.Bus,
	state *router.State,
	registry peers.Registry,
	relayAddress string,
	queueSize int,
	metrics *Metrics,
	logger *logrus.Entry,
) *Engine {

	if registry == nil {
		registry = peers.NewInmemRegistry()
	}

	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &Engine{
		bus:       b,
		state:     state,
		registry:  registry,
		address:   relayAddress,
		queueSize: queueSize,
		metrics:   metrics,
		logger:    logger,
		conns:     make(map[string]*Conn),
	}
}

// Accept creates the Conn of a newly connected client and starts its write
// loop. The caller is responsible for feeding it, see Serve.
func (e *Engine) Accept(t Transport) *Conn {
	c := NewConn(t, e.bus, e.queueSize, e.metrics, e.logger)
	c.OnClose(e.leave)

	e.connLock.Lock()
	e.conns[c.ID()] = c
	e.connLock.Unlock()

	e.metrics.Connections.Inc()
	c.Logger().Debug("Connection open")

	c.Start()

	return c
}

// Serve handles a client until its transport fails or the connection is
// closed.
func (e *Engine) Serve(t Transport) {
	c := e.Accept(t)
	c.ReadLoop(e.handle)
}

// Shutdown closes every open connection.
func (e *Engine) Shutdown() {
	e.connLock.Lock()
	conns := make([]*Conn, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	e.connLock.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// NumConns returns the number of open connections.
func (e *Engine) NumConns() int {
	e.connLock.Lock()
	defer e.connLock.Unlock()

	return len(e.conns)
}

// Router returns the current router record.
func (e *Engine) Router() (router.Snapshot, bool) {
	return e.state.Current()
}

// handle runs HandleMessage and takes care of its error. Errors never affect
// other connections; only a failed write closes this one.
func (e *Engine) handle(c *Conn, raw []byte) {
	err := e.HandleMessage(c, raw)
	if err == nil {
		return
	}

	reason := "internal"
	typ, ok := common.RelayErrTypeOf(err)
	if ok {
		reason = typ.String()
	}
	e.metrics.Dropped.WithLabelValues(reason).Inc()

	entry := c.Logger().WithError(err)

	switch {
	case ok && typ == common.Unauthorized:
		entry.Debug("Ignoring router traffic from non-router")
	case ok && typ == common.TransportClosed:
		entry.Debug("Transport closed")
		c.Close()
	default:
		entry.Warn("Dropping message")
	}
}

// HandleMessage decodes and processes one frame received from c.
func (e *Engine) HandleMessage(c *Conn, raw []byte) error {
	msg, err := message.Decode(raw)
	if err != nil {
		return err
	}

	e.metrics.Messages.WithLabelValues(msg.Subject.String()).Inc()

	if err := msg.Validate(); err != nil {
		return err
	}

	switch msg.Subject {
	case message.Introduction:
		return e.introduce(c, msg)
	case message.ConnectionNegotiation:
		return e.negotiate(c, msg)
	case message.PeerUpdate, message.Rejection:
		return e.relayRouterReply(c, msg)
	default:
		return common.NewRelayErr(common.ProtocolViolation, c.PeerID(),
			msg.Subject.String()+" is not accepted from clients")
	}
}

func (e *Engine) introduce(c *Conn, msg *message.Message) error {
	sender, err := address.Parse(msg.Sender)
	if err != nil {
		return err
	}

	peerID := sender.PeerID()

	var (
		snap     router.Snapshot
		elected  bool
		isRouter bool
	)

	err = c.Introduce(peerID, func(first bool) {
		if first {
			if err := e.registry.Add(peerID); err != nil {
				c.Logger().WithError(err).Warn("Recording peer")
			}
		}
		snap, elected = e.state.TryBecomeRouter(peerID)
		if elected {
			c.markRouter()
		}
		// Only the connection that won the election holds the role, even
		// when another connection shares its peer identifier.
		isRouter = c.router && snap.PeerID == peerID
	})
	if err != nil {
		return err
	}

	logger := c.Logger().WithField("peer", peerID)

	if isRouter {
		if elected {
			e.metrics.Elections.Inc()
		}
		logger.Info("Router joined")
		return e.reply(c, msg.Sender, message.RoleUpdate, []string{router.RoleRouter, router.RolePeer})
	}

	logger.WithField("router", snap.PeerID).Info("Peer joined")

	if err := e.reply(c, msg.Sender, message.RoleUpdate, []string{router.RolePeer}); err != nil {
		return err
	}

	return e.reply(c, msg.Sender, message.PeerUpdate, []interface{}{snap.Body()})
}

// negotiate publishes a negotiation to its receiver, or to the router when
// nobody listens on the receiver's inbox. This includes receivers that have
// not introduced themselves yet.
func (e *Engine) negotiate(c *Conn, msg *message.Message) error {
	receiver, err := address.Parse(msg.Receiver)
	if err != nil {
		return err
	}

	target := receiver.PeerID()

	n, err := e.bus.NumSub(bus.InboxChannel(target))
	if err != nil {
		return common.WrapRelayErr(common.BusUnavailable, target, err)
	}

	if n == 0 {
		snap, ok := e.state.Current()
		if !ok {
			return common.NewRelayErr(common.NoRoute, target, "receiver not listening and no router")
		}

		c.Logger().WithFields(logrus.Fields{
			"receiver": target,
			"router":   snap.PeerID,
		}).Debug("Receiver not listening, forwarding to router")

		e.metrics.Fallbacks.Inc()
		target = snap.PeerID
	}

	return e.publish(target, msg)
}

// relayRouterReply forwards a peer-update or rejection, provided it comes from
// the router. The sender address must name the router and the message must
// arrive on the connection that was elected.
func (e *Engine) relayRouterReply(c *Conn, msg *message.Message) error {
	sender, err := address.Parse(msg.Sender)
	if err != nil {
		return err
	}

	senderID := sender.PeerID()

	if c.PeerID() != senderID || !c.IsRouter() || !e.state.IsRouter(senderID) {
		return common.NewRelayErr(common.Unauthorized, senderID, msg.Subject.String()+" from non-router")
	}

	receiver, err := address.Parse(msg.Receiver)
	if err != nil {
		return err
	}

	return e.publish(receiver.PeerID(), msg)
}

func (e *Engine) publish(peerID string, msg *message.Message) error {
	payload, err := message.Encode(msg)
	if err != nil {
		return err
	}

	if err := e.bus.Publish(bus.InboxChannel(peerID), payload); err != nil {
		return common.WrapRelayErr(common.BusUnavailable, peerID, err)
	}

	return nil
}

// reply writes a message from the relay directly on the connection.
func (e *Engine) reply(c *Conn, receiver string, subject message.Subject, body interface{}) error {
	payload, err := message.Encode(message.New(subject, e.address, receiver, body))
	if err != nil {
		return err
	}
	return c.Send(payload)
}

// leave runs once a connection has closed and released its subscriptions.
func (e *Engine) leave(c *Conn) {
	e.connLock.Lock()
	delete(e.conns, c.ID())
	e.connLock.Unlock()

	e.metrics.Connections.Dec()

	peerID := c.PeerID()
	if peerID == "" {
		c.Logger().Debug("Connection closed before introduction")
		return
	}

	if err := e.registry.Remove(peerID); err != nil {
		c.Logger().WithError(err).Warn("Forgetting peer")
	}

	logger := c.Logger().WithField("peer", peerID)

	if c.IsRouter() && e.state.ReleaseIfMatches(peerID) {
		e.metrics.RouterDepartures.Inc()
		logger.Info("Router left")
		return
	}

	logger.Info("Peer left")
}
