package net

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mosaicnetworks/rendezvous/src/common"
	"github.com/stretchr/testify/require"
)

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func echoServer(t *testing.T, origins []string) *httptest.Server {
	logger := common.NewTestEntry(t, "ws-server")

	handler := WebsocketHandler(origins, WebsocketOptions{PingInterval: 50 * time.Millisecond}, func(tr *WebsocketTransport) {
		defer tr.Close()
		for {
			data, err := tr.ReadMessage()
			if err != nil {
				return
			}
			if err := tr.WriteMessage(data); err != nil {
				return
			}
		}
	}, logger)

	return httptest.NewServer(handler)
}

func TestWebsocketEcho(t *testing.T) {
	srv := echoServer(t, nil)
	defer srv.Close()

	tr, err := DialWebsocket(context.Background(), wsURL(srv), nil,
		WebsocketOptions{PingInterval: 50 * time.Millisecond}, common.NewTestEntry(t, "ws-client"))
	require.NoError(t, err)
	defer tr.Close()

	require.NotEmpty(t, tr.RemoteAddr())

	for _, frame := range []string{`{"a":1}`, `{"b":2}`} {
		require.NoError(t, tr.WriteMessage([]byte(frame)))

		data, err := tr.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, frame, string(data))
	}

	// Several ping intervals go by; pongs keep both ends alive.
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, tr.WriteMessage([]byte("still here")))
	data, err := tr.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "still here", string(data))
}

func TestWebsocketClose(t *testing.T) {
	srv := echoServer(t, nil)
	defer srv.Close()

	tr, err := DialWebsocket(context.Background(), wsURL(srv), nil,
		WebsocketOptions{}, common.NewTestEntry(t, "ws-client"))
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	_, err = tr.ReadMessage()
	require.Error(t, err)
}

func TestWebsocketOrigins(t *testing.T) {
	srv := echoServer(t, []string{"https://app.mitosis.dev", "localhost:3000"})
	defer srv.Close()

	cases := []struct {
		origin string
		ok     bool
	}{
		{"", true},
		{"https://app.mitosis.dev", true},
		{"HTTPS://APP.MITOSIS.DEV", true},
		{"http://localhost:3000", true},
		{"https://evil.example", false},
	}

	for _, c := range cases {
		header := http.Header{}
		if c.origin != "" {
			header.Set("Origin", c.origin)
		}

		tr, err := DialWebsocket(context.Background(), wsURL(srv), header,
			WebsocketOptions{}, common.NewTestEntry(t, "ws-client"))

		if c.ok {
			require.NoError(t, err, c.origin)
			tr.Close()
		} else {
			require.Error(t, err, c.origin)
		}
	}
}

func TestOriginValidatorWildcard(t *testing.T) {
	check := originValidator([]string{"*"}, common.NewTestEntry(t, "ws"))

	r := httptest.NewRequest("GET", "/websocket", nil)
	r.Header.Set("Origin", "https://anything.example")

	require.True(t, check(r))
}
