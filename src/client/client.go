// Package client implements a peer of the rendezvous protocol in Go.
//
// A Client connects to the relay's websocket endpoint, introduces itself and
// learns its role. Peers send their WebRTC offers and ICE candidates to the
// router with connection-negotiation messages, and the router answers with
// peer-update or rejection messages. The relay forwards all of them without
// looking at their bodies; this package types them with pion/webrtc.
package client

import (
	"context"
	"errors"
	"sync"

	"github.com/mosaicnetworks/rendezvous/src/address"
	"github.com/mosaicnetworks/rendezvous/src/message"
	rnet "github.com/mosaicnetworks/rendezvous/src/net"
	"github.com/mosaicnetworks/rendezvous/src/router"
	webrtc "github.com/pion/webrtc/v2"
	"github.com/sirupsen/logrus"
)

// ConsumerSize is the capacity of the channel of received messages.
const ConsumerSize = 32

// ErrClosed is returned by Receive once the connection is closed.
var ErrClosed = errors.New("client closed")

// Client is a connection to a relay.
type Client struct {
	self      address.Address
	transport *rnet.WebsocketTransport
	consumer  chan *message.Message
	logger    *logrus.Entry

	lock   sync.Mutex
	roles  []string
	router string

	closeOnce sync.Once
	done      chan struct{}
	readDone  chan struct{}
}

// Dial connects to the relay's websocket endpoint at url. self is the address
// the client introduces itself with.
func Dial(ctx context.Context, url string, self string, opts rnet.WebsocketOptions, logger *logrus.Entry) (*Client, error) {
	addr, err := address.Parse(self)
	if err != nil {
		return nil, err
	}

	logger = logger.WithField("peer", addr.PeerID())

	t, err := rnet.DialWebsocket(ctx, url, nil, opts, logger)
	if err != nil {
		return nil, err
	}

	c := &Client{
		self:      addr,
		transport: t,
		consumer:  make(chan *message.Message, ConsumerSize),
		logger:    logger,
		done:      make(chan struct{}),
		readDone:  make(chan struct{}),
	}

	go c.readLoop()

	return c, nil
}

// Address returns the client's own address.
func (c *Client) Address() string {
	return c.self.String()
}

// PeerID returns the client's peer identifier.
func (c *Client) PeerID() string {
	return c.self.PeerID()
}

// Roles returns the roles last assigned by the relay.
func (c *Client) Roles() []string {
	c.lock.Lock()
	defer c.lock.Unlock()

	return append([]string(nil), c.roles...)
}

// IsRouter reports whether the relay made this client the router.
func (c *Client) IsRouter() bool {
	for _, r := range c.Roles() {
		if r == router.RoleRouter {
			return true
		}
	}
	return false
}

// Router returns the peer identifier of the router, as announced by the
// relay, or "".
func (c *Client) Router() string {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.router
}

// Introduce announces the client to the relay. The relay answers with a
// role-update, followed by a peer-update describing the router when the
// client is not the router.
func (c *Client) Introduce() error {
	return c.Send(message.New(message.Introduction, c.Address(), "", nil))
}

// Negotiate sends a connection-negotiation message with an arbitrary body.
func (c *Client) Negotiate(receiver string, body interface{}) error {
	return c.sendBody(message.ConnectionNegotiation, receiver, body)
}

// Offer sends a WebRTC offer to receiver, normally the router.
func (c *Client) Offer(receiver string, offer webrtc.SessionDescription) error {
	return c.Negotiate(receiver, offer)
}

// Candidate sends an ICE candidate to receiver.
func (c *Client) Candidate(receiver string, candidate webrtc.ICECandidateInit) error {
	return c.Negotiate(receiver, candidate)
}

// PeerUpdate sends a peer-update. The relay only forwards it if this client
// is the router.
func (c *Client) PeerUpdate(receiver string, body interface{}) error {
	return c.sendBody(message.PeerUpdate, receiver, body)
}

// Answer sends a WebRTC answer to receiver with a peer-update.
func (c *Client) Answer(receiver string, answer webrtc.SessionDescription) error {
	return c.PeerUpdate(receiver, answer)
}

// Reject refuses a negotiation. Only the router's rejections are forwarded.
func (c *Client) Reject(receiver string, reason interface{}) error {
	return c.sendBody(message.Rejection, receiver, reason)
}

func (c *Client) sendBody(subject message.Subject, receiver string, v interface{}) error {
	body, err := message.NewBody(v)
	if err != nil {
		return err
	}
	return c.Send(message.New(subject, c.Address(), receiver, body))
}

// Send writes a message to the relay.
func (c *Client) Send(m *message.Message) error {
	raw, err := message.Encode(m)
	if err != nil {
		return err
	}
	return c.transport.WriteMessage(raw)
}

// Consumer returns the channel of received messages. It is closed when the
// connection ends.
func (c *Client) Consumer() <-chan *message.Message {
	return c.consumer
}

// Receive waits for the next message.
func (c *Client) Receive(ctx context.Context) (*message.Message, error) {
	select {
	case m, ok := <-c.consumer:
		if !ok {
			return nil, ErrClosed
		}
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the connection and waits for the read loop to stop.
func (c *Client) Close() error {
	var err error

	c.closeOnce.Do(func() {
		close(c.done)
		err = c.transport.Close()
	})

	<-c.readDone

	return err
}

func (c *Client) readLoop() {
	defer close(c.readDone)
	defer close(c.consumer)

	for {
		data, err := c.transport.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.WithError(err).Debug("Connection lost")
			}
			return
		}

		m, err := message.Decode(data)
		if err != nil {
			c.logger.WithError(err).Warn("Ignoring malformed message")
			continue
		}

		c.track(m)

		select {
		case c.consumer <- m:
		case <-c.done:
			return
		}
	}
}

// track records the role and router announcements of the relay.
func (c *Client) track(m *message.Message) {
	switch m.Subject {
	case message.RoleUpdate:
		roles, err := Roles(m)
		if err != nil {
			c.logger.WithError(err).Warn("Malformed role-update")
			return
		}

		c.lock.Lock()
		c.roles = roles
		if contains(roles, router.RoleRouter) {
			c.router = c.PeerID()
		}
		c.lock.Unlock()

	case message.PeerUpdate:
		if id, ok := RouterOf(m); ok {
			c.lock.Lock()
			c.router = id
			c.lock.Unlock()
		}
	}
}

// Roles decodes the body of a role-update.
func Roles(m *message.Message) ([]string, error) {
	if m.Subject != message.RoleUpdate {
		return nil, errors.New("not a role-update")
	}

	var roles []string
	if err := message.DecodeBody(m.Body, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// RouterOf returns the router's peer identifier if m is the peer-update the
// relay sends after an introduction.
func RouterOf(m *message.Message) (string, bool) {
	if m.Subject != message.PeerUpdate {
		return "", false
	}

	var update []struct {
		PeerID  string   `json:"peerId"`
		Roles   []string `json:"roles"`
		Quality float64  `json:"quality"`
	}
	if err := message.DecodeBody(m.Body, &update); err != nil || len(update) != 1 {
		return "", false
	}

	if update[0].PeerID == "" || !contains(update[0].Roles, router.RoleRouter) {
		return "", false
	}

	return update[0].PeerID, true
}

// SessionDescription decodes a WebRTC offer or answer from a message body.
func SessionDescription(m *message.Message) (webrtc.SessionDescription, error) {
	var sdp webrtc.SessionDescription
	err := message.DecodeBody(m.Body, &sdp)
	return sdp, err
}

// ICECandidate decodes an ICE candidate from a message body.
func ICECandidate(m *message.Message) (webrtc.ICECandidateInit, error) {
	var candidate webrtc.ICECandidateInit
	err := message.DecodeBody(m.Body, &candidate)
	return candidate, err
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}
