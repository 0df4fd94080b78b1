package server

import (
	"github.com/mosaicnetworks/rendezvous/src/bus"
	"github.com/mosaicnetworks/rendezvous/src/bus/wamp"
	"github.com/mosaicnetworks/rendezvous/src/config"
	"github.com/mosaicnetworks/rendezvous/src/peers"
	"github.com/sirupsen/logrus"
)

// Backend is the bus and peer registry selected by the configuration.
type Backend struct {
	Bus      bus.Bus
	Registry peers.Registry
}

// NewBackend connects to the bus named by conf.Bus. The redis bus keeps the
// peer registry in the same Redis database; the other buses keep it in memory.
func NewBackend(conf *config.Config, logger *logrus.Entry) (*Backend, error) {
	switch conf.Bus {
	case config.BusRedis:
		return newRedisBackend(conf, logger.WithField("prefix", "redis"))
	case config.BusWamp:
		return newWampBackend(conf, logger.WithField("prefix", "wamp"))
	default:
		return &Backend{
			Bus:      bus.NewInmemBus(),
			Registry: peers.NewInmemRegistry(),
		}, nil
	}
}

func newRedisBackend(conf *config.Config, logger *logrus.Entry) (*Backend, error) {
	rb, err := bus.NewRedisBus(conf.RedisOptions(), logger)
	if err != nil {
		return nil, err
	}

	return &Backend{
		Bus:      rb,
		Registry: peers.NewRedisRegistry(rb.Client(), peers.DefaultRedisKey),
	}, nil
}

// newWampBackend connects to a remote WAMP router when conf.WampURL is set.
// Otherwise it starts a router in-process, listening on conf.WampListen if
// that is set so that other relay processes can join it.
func newWampBackend(conf *config.Config, logger *logrus.Entry) (*Backend, error) {
	var (
		wb  *wamp.Bus
		err error
	)

	if conf.WampURL != "" {
		wb, err = wamp.NewRemoteBus(
			conf.WampURL,
			conf.WampRealm,
			conf.WampCAFile,
			conf.WampSkipVerify,
			conf.WampTimeout,
			logger,
		)
	} else {
		var hub *wamp.Hub

		hub, err = wamp.NewHub(conf.WampListen, conf.WampRealm, conf.CertFile, conf.KeyFile, logger)
		if err != nil {
			return nil, err
		}

		go hub.Run()

		wb, err = wamp.NewLocalBus(hub, conf.WampTimeout, logger)
		if err != nil {
			hub.Shutdown()
		}
	}

	if err != nil {
		return nil, err
	}

	return &Backend{
		Bus:      wb,
		Registry: peers.NewInmemRegistry(),
	}, nil
}

// Close closes the bus.
func (b *Backend) Close() error {
	return b.Bus.Close()
}
