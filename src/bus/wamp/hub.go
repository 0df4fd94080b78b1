package wamp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/gammazero/nexus/v3/router"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/sirupsen/logrus"
)

// Hub embeds a WAMP router. When given an address it also serves the router
// to remote relay processes over WebSockets.
type Hub struct {
	address    string
	realm      string
	router     router.Router
	httpServer *http.Server
	logger     *logrus.Entry
}

// NewHub creates a WAMP router with a single anonymous realm. If address is
// empty, the router is only reachable in-process. If certFile and keyFile are
// set, the WebSocket listener uses TLS.
func NewHub(address string,
	realm string,
	certFile string,
	keyFile string,
	logger *logrus.Entry) (*Hub, error) {

	routerConfig := &router.Config{
		RealmConfigs: []*router.RealmConfig{
			{
				URI:           wamp.URI(realm),
				AnonymousAuth: true,
			},
		},
	}

	nxr, err := router.NewRouter(routerConfig, logger)
	if err != nil {
		return nil, err
	}

	res := &Hub{
		address: address,
		realm:   realm,
		router:  nxr,
		logger:  logger,
	}

	if address == "" {
		return res, nil
	}

	httpServer := &http.Server{
		Handler: router.NewWebsocketServer(nxr),
		Addr:    address,
	}

	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			nxr.Close()
			return nil, fmt.Errorf("error loading X509 key pair: %s", err)
		}
		httpServer.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
		}
	}

	res.httpServer = httpServer

	return res, nil
}

// Run serves the WAMP router over WebSockets. It blocks until Shutdown is
// called, and returns immediately when the hub has no address.
func (h *Hub) Run() error {
	if h.httpServer == nil {
		return nil
	}

	h.logger.WithField("address", h.address).Info("Serving WAMP bus")

	var err error
	if h.httpServer.TLSConfig != nil {
		// The certificates are already loaded in the TLSConfig
		err = h.httpServer.ListenAndServeTLS("", "")
	} else {
		err = h.httpServer.ListenAndServe()
	}

	if err != nil && err != http.ErrServerClosed {
		h.logger.WithError(err).Error("Run")
		return err
	}
	return nil
}

// Shutdown stops the WebSocket listener, if any, and the WAMP router.
func (h *Hub) Shutdown() {
	defer h.router.Close()

	if h.httpServer == nil {
		return
	}

	if err := h.httpServer.Shutdown(context.Background()); err != nil {
		h.logger.WithError(err).Error("Shutting down WAMP listener")
	}
}

// Addr returns the address of the WebSocket listener.
func (h *Hub) Addr() string {
	return h.address
}

// Realm returns the realm served by the hub.
func (h *Hub) Realm() string {
	return h.realm
}

// Router returns the embedded WAMP router.
func (h *Hub) Router() router.Router {
	return h.router
}
