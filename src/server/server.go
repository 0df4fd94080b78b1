// Package server assembles a relay process: the HTTP listener and its routes,
// the rendezvous engine, the bus backend and the lifecycle hooks.
//
// Routes:
//
//  /websocket            rendezvous protocol
//  /reporting/websocket  live stream of reports
//  /reporting            POST a report
//  /router               current router record
//  /peers                introduced peers
//  /stats                counters
//  /metrics              Prometheus metrics
//
// Any other path answers 200 with an empty body.
package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/mosaicnetworks/rendezvous/src/config"
	rnet "github.com/mosaicnetworks/rendezvous/src/net"
	"github.com/mosaicnetworks/rendezvous/src/relay"
	"github.com/mosaicnetworks/rendezvous/src/reporting"
	"github.com/mosaicnetworks/rendezvous/src/router"
	"github.com/mosaicnetworks/rendezvous/src/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// ShutdownTimeout bounds the time Shutdown waits for HTTP requests in flight.
const ShutdownTimeout = 5 * time.Second

// Server is a relay process.
type Server struct {
	conf      *config.Config
	backend   *Backend
	state     *router.State
	engine    *relay.Engine
	reporting *reporting.Reporting
	metrics   *prometheus.Registry

	httpServer *http.Server

	lock     sync.Mutex
	listener net.Listener

	logger *logrus.Entry
}

// NewServer creates a Server and connects to its bus.
func NewServer(conf *config.Config) (*Server, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	logger := conf.Logger()

	backend, err := NewBackend(conf, logger)
	if err != nil {
		return nil, err
	}

	return newServer(conf, backend, logger), nil
}

func newServer(conf *config.Config, backend *Backend, logger *logrus.Entry) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metrics := relay.NewMetrics(reg)
	state := router.NewState()

	engine := relay.NewEngine(
		backend.Bus,
		state,
		backend.Registry,
		conf.Address,
		conf.QueueSize,
		metrics,
		logger.WithField("prefix", "relay"),
	)

	rep := reporting.NewReporting(
		backend.Bus,
		conf.QueueSize,
		metrics,
		logger.WithField("prefix", "reporting"),
	)

	s := &Server{
		conf:      conf,
		backend:   backend,
		state:     state,
		engine:    engine,
		reporting: rep,
		metrics:   reg,
		logger:    logger,
	}

	s.httpServer = &http.Server{
		Handler: s.routes(),
	}

	return s
}

func (s *Server) routes() *http.ServeMux {
	opts := s.conf.WebsocketOptions()
	wsLogger := s.logger.WithField("prefix", "websocket")

	mux := http.NewServeMux()

	mux.Handle("/websocket", rnet.WebsocketHandler(s.conf.AllowedOrigins, opts,
		func(t *rnet.WebsocketTransport) { s.engine.Serve(t) }, wsLogger))

	mux.Handle("/reporting/websocket", rnet.WebsocketHandler(s.conf.AllowedOrigins, opts,
		func(t *rnet.WebsocketTransport) { s.reporting.Serve(t) }, wsLogger))

	mux.Handle("/reporting", s.reporting)

	service.NewService(
		s.engine,
		s.backend.Registry,
		s.metrics,
		s.logger.WithField("prefix", "service"),
	).RegisterHandlers(mux)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

// Listen runs the startup hook, which clears any router and peer record left
// over by a previous run, and opens the listener.
func (s *Server) Listen() error {
	s.state.Reset()

	if err := s.backend.Registry.Clear(); err != nil {
		return err
	}

	l, err := net.Listen("tcp", s.conf.BindAddr)
	if err != nil {
		return err
	}

	s.lock.Lock()
	s.listener = l
	s.lock.Unlock()

	s.logger.WithFields(logrus.Fields{
		"address": l.Addr().String(),
		"bus":     s.conf.Bus,
		"tls":     s.conf.TLS(),
	}).Info("Listening")

	return nil
}

// Serve accepts connections until Shutdown is called. Listen must have been
// called first.
func (s *Server) Serve() error {
	s.lock.Lock()
	l := s.listener
	s.lock.Unlock()

	var err error
	if s.conf.TLS() {
		err = s.httpServer.ServeTLS(l, s.conf.CertFile, s.conf.KeyFile)
	} else {
		err = s.httpServer.Serve(l)
	}

	if err != nil && err != http.ErrServerClosed {
		s.logger.WithError(err).Error("Serve")
		return err
	}
	return nil
}

// Run calls Listen and Serve. This is a blocking call.
func (s *Server) Run() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Addr returns the address of the listener, or "" before Listen.
func (s *Server) Addr() string {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Engine returns the rendezvous engine.
func (s *Server) Engine() *relay.Engine {
	return s.engine
}

// Shutdown stops accepting requests, closes every live connection, clears the
// router and peer records and closes the bus.
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)

	// Websocket connections are hijacked, so the HTTP server does not know
	// about them.
	s.engine.Shutdown()
	s.reporting.Shutdown()

	s.state.Reset()
	err = multierr.Append(err, s.backend.Registry.Clear())
	err = multierr.Append(err, s.backend.Close())

	if err != nil {
		s.logger.WithError(err).Warn("Errors while shutting down")
	}

	return err
}
