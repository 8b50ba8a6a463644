// Package wstest provides server side peers for testing the client.
//
// The module under test is client only so an independent
// implementation, gorilla/websocket, plays the server role.
package wstest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

// URL returns the ws url for s.
func URL(s *httptest.Server) string {
	return strings.Replace(s.URL, "http", "ws", 1)
}

// EchoServer starts a WebSocket echo server that echoes every data
// message back with the same message type. Pings and close frames are
// answered by gorilla's default handlers.
func EchoServer(tb testing.TB, opts ...func(*websocket.Upgrader)) *httptest.Server {
	up := &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	for _, o := range opts {
		o(up)
	}

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			tb.Logf("wstest: failed to upgrade: %v", err)
			return
		}
		defer c.Close()

		c.SetReadLimit(1 << 30)

		for {
			typ, p, err := c.ReadMessage()
			if err != nil {
				return
			}
			err = c.WriteMessage(typ, p)
			if err != nil {
				return
			}
		}
	}))
	tb.Cleanup(s.Close)

	return s
}

// WithSubprotocols makes the echo server negotiate one of the given
// subprotocols.
func WithSubprotocols(subprotocols ...string) func(*websocket.Upgrader) {
	return func(up *websocket.Upgrader) {
		up.Subprotocols = subprotocols
	}
}
