// Package reporting lets clients post diagnostic reports to the relay and
// lets observers follow them live.
//
// Reports are opaque blobs. A POST to the reporting endpoint publishes the
// request body on the bus channel "reports", and every websocket connected to
// the reporting stream receives each blob verbatim. Because reports travel on
// the bus, observers connected to one relay process see the reports posted to
// any other process sharing the same bus.
package reporting

import (
	"io/ioutil"
	"net/http"
	"sync"

	"github.com/mosaicnetworks/rendezvous/src/bus"
	"github.com/mosaicnetworks/rendezvous/src/relay"
	"github.com/sirupsen/logrus"
)

// MaxReportSize is the maximum accepted size of a report body.
const MaxReportSize = 1 << 20

var okResponse = []byte(`{"OK":200}`)

// Reporting serves the reporting endpoints.
type Reporting struct {
	bus       bus.Bus
	queueSize int
	metrics   *relay.Metrics
	logger    *logrus.Entry

	lock      sync.Mutex
	observers map[string]*relay.Conn
}

// NewReporting returns a Reporting that publishes posted reports on the
// reports channel of b and streams that channel to every observer. Each
// observer gets an outbound queue of queueSize messages.
func NewReporting(b bus.Bus, queueSize int, metrics *relay.Metrics, logger *logrus.Entry) *Reporting {
	return &Reporting{
		bus:       b,
		queueSize: queueSize,
		metrics:   metrics,
		logger:    logger,
		observers: make(map[string]*relay.Conn),
	}
}

// ServeHTTP handles POST, to publish a report, and the OPTIONS preflight of
// browsers.
func (r *Reporting) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	switch req.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS, POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
	case http.MethodPost:
		r.post(w, req)
	default:
		w.Header().Set("Allow", "GET, OPTIONS, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (r *Reporting) post(w http.ResponseWriter, req *http.Request) {
	body, err := ioutil.ReadAll(http.MaxBytesReader(w, req.Body, MaxReportSize))
	if err != nil {
		r.logger.WithError(err).Debug("Reading report")
		http.Error(w, "report too large", http.StatusRequestEntityTooLarge)
		return
	}

	if err := r.bus.Publish(bus.ReportsChannel, body); err != nil {
		r.logger.WithError(err).Error("Publishing report")
		http.Error(w, "bus unavailable", http.StatusServiceUnavailable)
		return
	}

	r.logger.WithField("size", len(body)).Debug("Report published")

	w.Header().Set("Content-Type", "application/json")
	w.Write(okResponse)
}

// Serve streams every report to the transport until it closes. Frames sent by
// the observer are ignored.
func (r *Reporting) Serve(t relay.Transport) {
	c := relay.NewConn(t, r.bus, r.queueSize, r.metrics, r.logger)
	c.OnClose(r.forget)

	r.lock.Lock()
	r.observers[c.ID()] = c
	r.lock.Unlock()

	if err := c.Subscribe(bus.ReportsChannel); err != nil {
		c.Logger().WithError(err).Warn("Subscribing to reports")
		c.Close()
		return
	}

	c.Logger().Debug("Report observer connected")

	c.Start()
	c.ReadLoop(func(*relay.Conn, []byte) {})
}

func (r *Reporting) forget(c *relay.Conn) {
	r.lock.Lock()
	delete(r.observers, c.ID())
	r.lock.Unlock()
}

// Shutdown disconnects every observer.
func (r *Reporting) Shutdown() {
	r.lock.Lock()
	observers := make([]*relay.Conn, 0, len(r.observers))
	for _, c := range r.observers {
		observers = append(observers, c)
	}
	r.lock.Unlock()

	for _, c := range observers {
		c.Close()
	}
}

// NumObservers returns the number of connected observers.
func (r *Reporting) NumObservers() int {
	r.lock.Lock()
	defer r.lock.Unlock()

	return len(r.observers)
}
