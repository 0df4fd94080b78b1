package relay

import (
	"sync"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/rendezvous/src/bus"
	"github.com/mosaicnetworks/rendezvous/src/common"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// DefaultQueueSize is the default capacity of the outbound queue of a Conn.
const DefaultQueueSize = 64

// Conn is the live session of one client. It owns the client's transport and
// the bus subscriptions made on its behalf, and releases all of them exactly
// once when it closes.
type Conn struct {
	state

	id        string
	transport Transport
	bus       bus.Bus
	metrics   *Metrics
	logger    *logrus.Entry

	// lock guards peerID, router and subs, and orders introduction against
	// Close.
	lock   sync.Mutex
	peerID string
	router bool
	subs   map[string]bus.Subscription

	writeLock sync.Mutex
	queue     chan []byte

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
	onClose   []func(*Conn)
}

// NewConn wraps a transport. Messages delivered by the bus wait in a queue of
// queueSize entries until the write loop, started by Start, sends them.
func NewConn(transport Transport, b bus.Bus, queueSize int, metrics *Metrics, logger *logrus.Entry) *Conn {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	id := uuid.New().String()

	return &Conn{
		id:        id,
		transport: transport,
		bus:       b,
		metrics:   metrics,
		logger: logger.WithFields(logrus.Fields{
			"conn":   id,
			"remote": transport.RemoteAddr(),
		}),
		subs:  make(map[string]bus.Subscription),
		queue: make(chan []byte, queueSize),
		done:  make(chan struct{}),
	}
}

// ID returns the unique identifier of the connection.
func (c *Conn) ID() string {
	return c.id
}

// PeerID returns the identifier the client introduced itself with, or "".
func (c *Conn) PeerID() string {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.peerID
}

// IsRouter reports whether this connection won the router election.
func (c *Conn) IsRouter() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.router
}

// markRouter must be called with the lock held, from an Introduce callback.
func (c *Conn) markRouter() {
	c.router = true
}

// State returns the current ConnState.
func (c *Conn) State() ConnState {
	return c.getState()
}

// Done is closed when the connection closes.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Logger returns the logger of the connection.
func (c *Conn) Logger() *logrus.Entry {
	return c.logger
}

// OnClose registers a function to run once the connection has closed and its
// subscriptions have been released. It must be called before Start.
func (c *Conn) OnClose(fn func(*Conn)) {
	c.onClose = append(c.onClose, fn)
}

// Subscribe forwards every message published on channel to the client.
// Subscribing twice to the same channel is a no-op.
func (c *Conn) Subscribe(channel string) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.subscribe(channel)
}

// subscribe must be called with the lock held.
func (c *Conn) subscribe(channel string) error {
	if c.getState() == Closed {
		return common.NewRelayErr(common.TransportClosed, c.peerID, "subscribe on closed connection")
	}

	if _, ok := c.subs[channel]; ok {
		return nil
	}

	sub, err := c.bus.Subscribe(channel, c.enqueue)
	if err != nil {
		return common.WrapRelayErr(common.BusUnavailable, c.peerID, err)
	}

	c.subs[channel] = sub

	return nil
}

// Introduce sets the peer identifier, subscribes the connection to the
// peer's inbox and calls then, all under the connection lock. A concurrent
// Close therefore either happens before, and Introduce fails, or after, and
// sees every effect of the introduction. first is false when the client had
// already introduced itself with the same identifier. Introducing with a
// different identifier is a ProtocolViolation.
func (c *Conn) Introduce(peerID string, then func(first bool)) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.getState() == Closed {
		return common.NewRelayErr(common.TransportClosed, peerID, "introduction on closed connection")
	}

	if c.peerID != "" && c.peerID != peerID {
		return common.NewRelayErr(common.ProtocolViolation, peerID, "already introduced as "+c.peerID)
	}

	first := c.peerID == ""

	if err := c.subscribe(bus.InboxChannel(peerID)); err != nil {
		return err
	}

	c.peerID = peerID
	c.setState(Introduced)

	then(first)

	return nil
}

// enqueue is the bus handler of every subscription. It never blocks: when the
// queue is full the message is dropped.
func (c *Conn) enqueue(channel string, payload []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.queue <- payload:
	default:
		c.metrics.QueueOverflows.Inc()
		c.logger.WithField("channel", channel).Warn("Outbound queue full, dropping message")
	}
}

// Send writes a payload to the client, verbatim.
func (c *Conn) Send(payload []byte) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	if c.getState() == Closed {
		return common.NewRelayErr(common.TransportClosed, "", "write on closed connection")
	}

	if err := c.transport.WriteMessage(payload); err != nil {
		return common.WrapRelayErr(common.TransportClosed, "", err)
	}

	return nil
}

// Start launches the write loop, which drains the queue until the connection
// closes.
func (c *Conn) Start() {
	go c.writeLoop()
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.queue:
			if err := c.Send(payload); err != nil {
				c.logger.WithError(err).Debug("Write failed")
				c.Close()
				return
			}
		}
	}
}

// ReadLoop reads frames and passes them to handle, in order, until the
// transport fails. It then closes the connection.
func (c *Conn) ReadLoop(handle func(*Conn, []byte)) {
	for {
		data, err := c.transport.ReadMessage()
		if err != nil {
			if c.getState() != Closed {
				c.logger.WithError(err).Debug("Read failed")
			}
			c.Close()
			return
		}

		handle(c, data)
	}
}

// Close releases every subscription, closes the transport and then runs the
// OnClose functions. Every step runs even if an earlier one fails, and only
// the first call has any effect.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.lock.Lock()
		c.setState(Closed)
		subs := c.subs
		c.subs = make(map[string]bus.Subscription)
		c.lock.Unlock()

		close(c.done)

		var err error
		for _, sub := range subs {
			err = multierr.Append(err, sub.Unsubscribe())
		}
		err = multierr.Append(err, c.transport.Close())

		if err != nil {
			c.logger.WithError(err).Debug("Errors while closing")
		}
		c.closeErr = err

		for _, fn := range c.onClose {
			fn(c)
		}
	})

	return c.closeErr
}
