package websocket

import (
	"context"
	"net/http"
	"testing"

	"github.com/streamlock/websocket/internal/test/assert"
)

func Test_resolveURL(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		url      string
		hostport string
		secure   bool
		err      bool
	}{
		{
			url:      "ws://example.com/feed",
			hostport: "example.com:80",
		},
		{
			url:      "wss://example.com/feed",
			hostport: "example.com:443",
			secure:   true,
		},
		{
			url:      "ws://example.com:8080",
			hostport: "example.com:8080",
		},
		{
			url:      "wss://[::1]:9443/x",
			hostport: "[::1]:9443",
			secure:   true,
		},
		{
			url:      "wss://[::1]/x",
			hostport: "[::1]:443",
			secure:   true,
		},
		{
			url: "http://example.com",
			err: true,
		},
		{
			url: "ws://",
			err: true,
		},
		{
			url: ":/bad\x00url",
			err: true,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.url, func(t *testing.T) {
			t.Parallel()

			_, secure, hostport, err := resolveURL(tc.url)
			if tc.err {
				assert.Error(t, err)
				return
			}
			assert.Success(t, err)
			assert.Equal(t, "secure", tc.secure, secure)
			assert.Equal(t, "hostport", tc.hostport, hostport)
		})
	}
}

func Test_upgradeRequest(t *testing.T) {
	t.Parallel()

	u, _, _, err := resolveURL("wss://example.com/feed?x=1")
	assert.Success(t, err)

	h := make(http.Header)
	h.Set("Origin", "https://example.com")

	req, err := upgradeRequest(context.Background(), u, true, "a2V5a2V5a2V5a2V5a2V5a2V5", &DialOptions{
		HTTPHeader:   h,
		Subprotocols: []string{"chat", "echo"},
	})
	assert.Success(t, err)

	assert.Equal(t, "method", http.MethodGet, req.Method)
	assert.Equal(t, "url", "https://example.com/feed?x=1", req.URL.String())
	assert.Equal(t, "connection", "Upgrade", req.Header.Get("Connection"))
	assert.Equal(t, "upgrade", "websocket", req.Header.Get("Upgrade"))
	assert.Equal(t, "version", "13", req.Header.Get("Sec-WebSocket-Version"))
	assert.Equal(t, "key", "a2V5a2V5a2V5a2V5a2V5a2V5", req.Header.Get("Sec-WebSocket-Key"))
	assert.Equal(t, "subprotocols", "chat,echo", req.Header.Get("Sec-WebSocket-Protocol"))
	assert.Equal(t, "origin", "https://example.com", req.Header.Get("Origin"))
}

func TestDialBadURL(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, _, err := Dial(ctx, "http://example.com", nil)
	assert.Contains(t, err, `unexpected url scheme`)
}
