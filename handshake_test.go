package websocket

import (
	"encoding/base64"
	"errors"
	"net/http"
	"testing"

	"github.com/streamlock/websocket/internal/test/assert"
)

func Test_secWebSocketKey(t *testing.T) {
	t.Parallel()

	k1, err := secWebSocketKey()
	assert.Success(t, err)

	b, err := base64.StdEncoding.DecodeString(k1)
	assert.Success(t, err)
	assert.Equal(t, "key length", 16, len(b))

	k2, err := secWebSocketKey()
	assert.Success(t, err)
	if k1 == k2 {
		t.Fatal("two generated keys were identical")
	}
}

func Test_secWebSocketAccept(t *testing.T) {
	t.Parallel()

	// The example handshake from https://tools.ietf.org/html/rfc6455#section-1.3
	got := secWebSocketAccept("dGhlIHNhbXBsZSBub25jZQ==")
	assert.Equal(t, "accept", "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", got)
}

func Test_verifyServerResponse(t *testing.T) {
	t.Parallel()

	const key = "dGhlIHNhbXBsZSBub25jZQ=="

	goodResp := func() *http.Response {
		h := make(http.Header)
		h.Set("Connection", "Upgrade")
		h.Set("Upgrade", "websocket")
		h.Set("Sec-WebSocket-Accept", secWebSocketAccept(key))
		return &http.Response{
			StatusCode: http.StatusSwitchingProtocols,
			Header:     h,
		}
	}

	testCases := []struct {
		name        string
		opts        DialOptions
		mutate      func(resp *http.Response)
		success     bool
		subprotocol string
	}{
		{
			name:    "valid",
			mutate:  func(resp *http.Response) {},
			success: true,
		},
		{
			name: "badStatus",
			mutate: func(resp *http.Response) {
				resp.StatusCode = http.StatusOK
			},
		},
		{
			name: "missingConnection",
			mutate: func(resp *http.Response) {
				resp.Header.Del("Connection")
			},
		},
		{
			name: "missingUpgrade",
			mutate: func(resp *http.Response) {
				resp.Header.Del("Upgrade")
			},
		},
		{
			name: "connectionTokenList",
			mutate: func(resp *http.Response) {
				resp.Header.Set("Connection", "keep-alive, Upgrade")
			},
			success: true,
		},
		{
			name: "badAccept",
			mutate: func(resp *http.Response) {
				resp.Header.Set("Sec-WebSocket-Accept", "YmFkIGFjY2VwdCBrZXkhISEhISE=")
			},
		},
		{
			name: "missingAccept",
			mutate: func(resp *http.Response) {
				resp.Header.Del("Sec-WebSocket-Accept")
			},
		},
		{
			name: "negotiatedSubprotocol",
			opts: DialOptions{
				Subprotocols: []string{"chat", "echo"},
			},
			mutate: func(resp *http.Response) {
				resp.Header.Set("Sec-WebSocket-Protocol", "echo")
			},
			success:     true,
			subprotocol: "echo",
		},
		{
			name: "subprotocolCaseInsensitive",
			opts: DialOptions{
				Subprotocols: []string{"Echo"},
			},
			mutate: func(resp *http.Response) {
				resp.Header.Set("Sec-WebSocket-Protocol", "echo")
			},
			success:     true,
			subprotocol: "echo",
		},
		{
			name: "unofferedSubprotocol",
			mutate: func(resp *http.Response) {
				resp.Header.Set("Sec-WebSocket-Protocol", "chat")
			},
		},
		{
			name: "unexpectedExtension",
			mutate: func(resp *http.Response) {
				resp.Header.Set("Sec-WebSocket-Extensions", "permessage-deflate")
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			resp := goodResp()
			tc.mutate(resp)

			subprotocol, err := verifyServerResponse(&tc.opts, key, resp)
			if !tc.success {
				var he HandshakeError
				if !errors.As(err, &he) {
					t.Fatalf("expected HandshakeError but got %v", err)
				}
				return
			}
			assert.Success(t, err)
			assert.Equal(t, "subprotocol", tc.subprotocol, subprotocol)
		})
	}
}

func Test_headerContainsToken(t *testing.T) {
	t.Parallel()

	h := make(http.Header)
	h.Add("Connection", "keep-alive , Upgrade")
	h.Add("Connection", "x")

	assert.Equal(t, "contains", true, headerContainsToken(h, "Connection", "upgrade"))
	assert.Equal(t, "contains", true, headerContainsToken(h, "connection", "keep-alive"))
	assert.Equal(t, "contains", false, headerContainsToken(h, "Connection", "websocket"))
}
