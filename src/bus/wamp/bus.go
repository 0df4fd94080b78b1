package wamp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io/ioutil"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/mosaicnetworks/rendezvous/src/bus"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Bus implements the bus.Bus interface on a WAMP router. Topics are the bus
// channel names and payloads travel as a single string argument.
type Bus struct {
	connect   func() (*client.Client, error)
	publisher *client.Client
	timeout   time.Duration
	hub       *Hub
	logger    *logrus.Entry
}

// NewLocalBus creates a Bus on the hub's router, in-process. The bus takes
// ownership of the hub and shuts it down on Close.
func NewLocalBus(hub *Hub, responseTimeout time.Duration, logger *logrus.Entry) (*Bus, error) {
	cfg := client.Config{
		Realm:           hub.Realm(),
		ResponseTimeout: responseTimeout,
		Logger:          logger,
	}

	connect := func() (*client.Client, error) {
		return client.ConnectLocal(hub.Router(), cfg)
	}

	b, err := newBus(connect, responseTimeout, logger)
	if err != nil {
		return nil, err
	}
	b.hub = hub

	return b, nil
}

// NewRemoteBus creates a Bus connected to the Hub of another relay process.
// For wss URLs, caFile names a PEM certificate to trust; when the file does
// not exist the platform's trusted certificates are used.
func NewRemoteBus(
	url string,
	realm string,
	caFile string,
	insecureSkipVerify bool,
	responseTimeout time.Duration,
	logger *logrus.Entry,
) (*Bus, error) {

	cfg := client.Config{
		Realm:           realm,
		ResponseTimeout: responseTimeout,
		Logger:          logger,
	}

	if strings.HasPrefix(url, "wss://") {
		tlscfg, err := tlsConfig(caFile, insecureSkipVerify, logger)
		if err != nil {
			return nil, err
		}
		cfg.TlsCfg = tlscfg
	}

	connect := func() (*client.Client, error) {
		return client.ConnectNet(context.Background(), url, cfg)
	}

	return newBus(connect, responseTimeout, logger)
}

func newBus(connect func() (*client.Client, error), timeout time.Duration, logger *logrus.Entry) (*Bus, error) {
	publisher, err := connect()
	if err != nil {
		return nil, err
	}

	return &Bus{
		connect:   connect,
		publisher: publisher,
		timeout:   timeout,
		logger:    logger,
	}, nil
}

func tlsConfig(caFile string, insecureSkipVerify bool, logger *logrus.Entry) (*tls.Config, error) {
	tlscfg := &tls.Config{}

	if insecureSkipVerify {
		logger.Debug("Skip Verify. Accepting any certificate provided by WAMP hub.")
		tlscfg.InsecureSkipVerify = true
		return tlscfg, nil
	}

	if _, err := os.Stat(caFile); caFile == "" || os.IsNotExist(err) {
		logger.Debug("No certificate file found. Relying on platform trusted certificates.")
		return tlscfg, nil
	}

	certPEM, err := ioutil.ReadFile(caFile)
	if err != nil {
		return nil, err
	}

	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(certPEM) {
		return nil, errors.New("Failed to import certificate to trust")
	}
	tlscfg.RootCAs = roots

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, errors.New("Failed to decode certificate to trust")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}

	logger.Debugf("Trusting certificate %s with CN: %s", caFile, cert.Subject.CommonName)

	// Validate against the CN of the trusted cert, which may not match the
	// DNS name of the hub.
	tlscfg.ServerName = cert.Subject.CommonName

	return tlscfg, nil
}

// Subscribe implements the bus.Bus interface. It opens a dedicated WAMP
// session for the subscription.
func (b *Bus) Subscribe(channel string, handler bus.Handler) (bus.Subscription, error) {
	cli, err := b.connect()
	if err != nil {
		return nil, err
	}

	eventHandler := func(event *wamp.Event) {
		if len(event.Arguments) == 0 {
			return
		}
		payload, ok := wamp.AsString(event.Arguments[0])
		if !ok {
			b.logger.WithField("channel", channel).Debug("Ignoring non-string WAMP event")
			return
		}
		handler(channel, []byte(payload))
	}

	if err := cli.Subscribe(channel, eventHandler, nil); err != nil {
		cli.Close()
		return nil, err
	}

	return &subscription{
		client:  cli,
		channel: channel,
	}, nil
}

// Publish implements the bus.Bus interface.
func (b *Bus) Publish(channel string, payload []byte) error {
	return b.publisher.Publish(channel, nil, wamp.List{string(payload)}, nil)
}

// NumSub implements the bus.Bus interface with the subscription meta
// procedures of the WAMP router.
func (b *Bus) NumSub(channel string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	res, err := b.publisher.Call(ctx, string(wamp.MetaProcSubLookup), nil, wamp.List{channel}, nil, nil)
	if err != nil {
		return 0, err
	}

	if len(res.Arguments) == 0 {
		return 0, nil
	}

	subID, ok := wamp.AsID(res.Arguments[0])
	if !ok {
		// no subscription for this topic
		return 0, nil
	}

	res, err = b.publisher.Call(ctx, string(wamp.MetaProcSubCountSubscribers), nil, wamp.List{subID}, nil, nil)
	if err != nil {
		return 0, err
	}

	if len(res.Arguments) == 0 {
		return 0, nil
	}

	count, ok := wamp.AsInt64(res.Arguments[0])
	if !ok {
		return 0, errors.New("unexpected subscriber count")
	}

	return int(count), nil
}

// Close implements the bus.Bus interface. It closes the publishing session
// and, for a local bus, shuts the hub down.
func (b *Bus) Close() error {
	err := b.publisher.Close()
	if b.hub != nil {
		b.hub.Shutdown()
	}
	return err
}

type subscription struct {
	client  *client.Client
	channel string
	once    sync.Once
	err     error
}

func (s *subscription) Channel() string {
	return s.channel
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.err = multierr.Append(
			s.client.Unsubscribe(s.channel),
			s.client.Close(),
		)
	})
	return s.err
}
