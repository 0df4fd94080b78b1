package net

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	wsReadBuffer  = 1024
	wsWriteBuffer = 1024

	// DefaultPingInterval is the interval between two pings sent to an idle
	// peer.
	DefaultPingInterval = 1 * time.Second
	// DefaultPongTimeout is how long a peer may stay silent, pongs included,
	// before the transport gives up on it.
	DefaultPongTimeout = 30 * time.Second
	// DefaultWriteTimeout bounds every frame write.
	DefaultWriteTimeout = 10 * time.Second
	// DefaultReadLimit is the maximum size of an inbound frame.
	DefaultReadLimit = 64 * 1024
)

// WebsocketOptions configures a WebsocketTransport. Zero values are replaced
// by the defaults.
type WebsocketOptions struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
}

func (o WebsocketOptions) withDefaults() WebsocketOptions {
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = DefaultPongTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	return o
}

// WebsocketTransport carries one JSON message per text frame over a gorilla
// websocket connection. Reads must come from a single goroutine; writes may
// come from any number.
type WebsocketTransport struct {
	conn   *websocket.Conn
	opts   WebsocketOptions
	remote string
	logger *logrus.Entry

	writeLock sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// NewWebsocketTransport wraps an established connection and starts pinging
// the other end.
func NewWebsocketTransport(conn *websocket.Conn, opts WebsocketOptions, logger *logrus.Entry) *WebsocketTransport {
	opts = opts.withDefaults()

	t := &WebsocketTransport{
		conn:   conn,
		opts:   opts,
		remote: conn.RemoteAddr().String(),
		logger: logger.WithField("remote", conn.RemoteAddr().String()),
		closed: make(chan struct{}),
	}

	conn.SetReadLimit(opts.ReadLimit)
	t.extendReadDeadline()
	conn.SetPongHandler(func(string) error {
		t.extendReadDeadline()
		return nil
	})

	go t.pingLoop()

	return t
}

func (t *WebsocketTransport) extendReadDeadline() {
	t.conn.SetReadDeadline(time.Now().Add(t.opts.PingInterval + t.opts.PongTimeout))
}

// pingLoop sends a ping every PingInterval until the transport closes.
func (t *WebsocketTransport) pingLoop() {
	ticker := time.NewTicker(t.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.closed:
			return
		case <-ticker.C:
			deadline := time.Now().Add(t.opts.WriteTimeout)
			if err := t.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				t.logger.WithError(err).Debug("Ping failed")
				t.Close()
				return
			}
		}
	}
}

// ReadMessage blocks until the next data frame arrives.
func (t *WebsocketTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	t.extendReadDeadline()

	return data, nil
}

// WriteMessage sends data as a single text frame.
func (t *WebsocketTransport) WriteMessage(data []byte) error {
	t.writeLock.Lock()
	defer t.writeLock.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout))

	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame, on a best effort basis, and closes the underlying
// connection. It is idempotent.
func (t *WebsocketTransport) Close() error {
	var err error

	t.closeOnce.Do(func() {
		close(t.closed)

		deadline := time.Now().Add(t.opts.WriteTimeout)
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline)

		err = t.conn.Close()
	})

	return err
}

// RemoteAddr returns the network address of the other end.
func (t *WebsocketTransport) RemoteAddr() string {
	return t.remote
}

// WebsocketHandler upgrades HTTP requests to websocket connections and hands
// each one to serve, which runs on the request goroutine.
func WebsocketHandler(
	allowedOrigins []string,
	opts WebsocketOptions,
	serve func(*WebsocketTransport),
	logger *logrus.Entry,
) http.Handler {

	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBuffer,
		WriteBufferSize: wsWriteBuffer,
		CheckOrigin:     originValidator(allowedOrigins, logger),
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.WithError(err).Debug("Websocket upgrade failed")
			return
		}

		serve(NewWebsocketTransport(conn, opts, logger))
	})
}

// DialWebsocket opens a client connection to a websocket endpoint.
func DialWebsocket(
	ctx context.Context,
	endpoint string,
	header http.Header,
	opts WebsocketOptions,
	logger *logrus.Entry,
) (*WebsocketTransport, error) {

	dialer := websocket.Dialer{
		ReadBufferSize:   wsReadBuffer,
		WriteBufferSize:  wsWriteBuffer,
		HandshakeTimeout: opts.withDefaults().WriteTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	conn, _, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return nil, err
	}

	return NewWebsocketTransport(conn, opts, logger), nil
}

// originValidator accepts requests without an Origin header, since only
// browsers set it, and requests whose origin is in allowedOrigins. "*" allows
// every origin, and so does an empty list. Entries without a scheme match on
// the host alone.
func originValidator(allowedOrigins []string, logger *logrus.Entry) func(*http.Request) bool {
	allowAll := len(allowedOrigins) == 0

	origins := make(map[string]bool)
	for _, o := range allowedOrigins {
		o = strings.ToLower(strings.TrimSpace(o))
		if o == "*" {
			allowAll = true
		}
		if o != "" {
			origins[o] = true
		}
	}

	return func(r *http.Request) bool {
		origin := strings.ToLower(r.Header.Get("Origin"))
		if allowAll || origin == "" {
			return true
		}

		if origins[origin] {
			return true
		}

		if u, err := url.Parse(origin); err == nil && origins[u.Host] {
			return true
		}

		logger.WithField("origin", origin).Warn("Rejected websocket connection")

		return false
	}
}
