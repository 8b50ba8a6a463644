package websocket

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strings"
)

// keyGUID is the fixed GUID every WebSocket handshake concatenates
// with the client key to compute the accept digest.
// See https://tools.ietf.org/html/rfc6455#section-1.3
var keyGUID = []byte("258EAFA5-E914-47DA-95CA-C5AB0DC85B11")

// secWebSocketKey generates the Sec-WebSocket-Key header value, the
// base64 encoding of 16 random bytes.
func secWebSocketKey() (string, error) {
	b := make([]byte, 16)
	_, err := io.ReadFull(rand.Reader, b)
	if err != nil {
		return "", fmt.Errorf("failed to read random data from rand.Reader: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// secWebSocketAccept computes the expected Sec-WebSocket-Accept value
// for the given Sec-WebSocket-Key.
func secWebSocketAccept(secWebSocketKey string) string {
	h := sha1.New()
	h.Write([]byte(secWebSocketKey))
	h.Write(keyGUID)

	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// verifyServerResponse checks the upgrade response against
// https://tools.ietf.org/html/rfc6455#section-4.2.2 and returns the
// negotiated subprotocol.
func verifyServerResponse(opts *DialOptions, secWebSocketKey string, resp *http.Response) (string, error) {
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return "", handshakeErrorf("expected handshake response status code %v but got %v", http.StatusSwitchingProtocols, resp.StatusCode)
	}

	if !headerContainsToken(resp.Header, "Connection", "Upgrade") {
		return "", handshakeErrorf("WebSocket protocol violation: Connection header %q does not contain Upgrade", resp.Header.Get("Connection"))
	}

	if !headerContainsToken(resp.Header, "Upgrade", "websocket") {
		return "", handshakeErrorf("WebSocket protocol violation: Upgrade header %q does not contain websocket", resp.Header.Get("Upgrade"))
	}

	if resp.Header.Get("Sec-WebSocket-Accept") != secWebSocketAccept(secWebSocketKey) {
		return "", handshakeErrorf("WebSocket protocol violation: invalid Sec-WebSocket-Accept %q, key %q", resp.Header.Get("Sec-WebSocket-Accept"), secWebSocketKey)
	}

	subprotocol, err := verifySubprotocol(opts.Subprotocols, resp)
	if err != nil {
		return "", err
	}

	if ext := resp.Header.Get("Sec-WebSocket-Extensions"); ext != "" {
		// None were offered so none may be negotiated.
		return "", handshakeErrorf("WebSocket protocol violation: unexpected Sec-WebSocket-Extensions from server: %q", ext)
	}

	return subprotocol, nil
}

func verifySubprotocol(subprotos []string, resp *http.Response) (string, error) {
	proto := resp.Header.Get("Sec-WebSocket-Protocol")
	if proto == "" {
		return "", nil
	}

	for _, sp2 := range subprotos {
		if strings.EqualFold(sp2, proto) {
			return proto, nil
		}
	}

	return "", handshakeErrorf("WebSocket protocol violation: unexpected Sec-WebSocket-Protocol from server: %q", proto)
}

func headerContainsToken(h http.Header, key, token string) bool {
	key = textproto.CanonicalMIMEHeaderKey(key)

	token = strings.ToLower(token)
	for _, v := range h[key] {
		if searchHeaderTokens(v, token) {
			return true
		}
	}

	return false
}

func searchHeaderTokens(v, token string) bool {
	for _, v2 := range strings.Split(v, ",") {
		if strings.ToLower(strings.TrimSpace(v2)) == token {
			return true
		}
	}

	return false
}
