package service

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/mosaicnetworks/rendezvous/src/peers"
	"github.com/mosaicnetworks/rendezvous/src/relay"
	"github.com/mosaicnetworks/rendezvous/src/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Service exposes the state of a relay over HTTP.
type Service struct {
	sync.Mutex

	engine   *relay.Engine
	registry peers.Registry
	gatherer prometheus.Gatherer
	logger   *logrus.Entry
}

// NewService returns a Service reading the relay state from engine and
// registry, and serving the metrics of gatherer.
func NewService(engine *relay.Engine, registry peers.Registry, gatherer prometheus.Gatherer, logger *logrus.Entry) *Service {
	return &Service{
		engine:   engine,
		registry: registry,
		gatherer: gatherer,
		logger:   logger,
	}
}

// RegisterHandlers registers the API handlers with mux.
func (s *Service) RegisterHandlers(mux *http.ServeMux) {
	s.logger.Debug("Registering status handlers")
	mux.HandleFunc("/stats", s.makeHandler(s.GetStats))
	mux.HandleFunc("/router", s.makeHandler(s.GetRouter))
	mux.HandleFunc("/peers", s.makeHandler(s.GetPeers))
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// GetStats returns the connection and peer counts, the router and the
// version as a JSON object of strings.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]string{
		"connections": strconv.Itoa(s.engine.NumConns()),
		"version":     version.Version,
	}

	if snap, ok := s.engine.Router(); ok {
		stats["router"] = snap.PeerID
	}

	if list, err := s.registry.List(); err == nil {
		stats["peers"] = strconv.Itoa(len(list))
	} else {
		s.logger.WithError(err).Warn("Listing peers")
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(stats)
}

// GetRouter returns the router record, as sent to peers in peer-updates, or
// 404 when there is no router.
func (s *Service) GetRouter(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.engine.Router()
	if !ok {
		http.Error(w, "no router", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(snap.Body())
}

// GetPeers returns the identifiers of the introduced peers.
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	list, err := s.registry.List()
	if err != nil {
		s.logger.WithError(err).Error("Listing peers")

		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(list)
}
