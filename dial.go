package websocket

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/streamlock/websocket/internal/errd"
)

// DialOptions represents the options available to pass to Dial.
type DialOptions struct {
	// HTTPHeader specifies the HTTP headers included in the handshake request.
	HTTPHeader http.Header

	// Subprotocols lists the WebSocket subprotocols to negotiate with the server.
	Subprotocols []string

	// TLSConfig is used for the TLS handshake on wss URLs.
	// If nil, a zero tls.Config is used with ServerName derived
	// from the dialed host.
	TLSConfig *tls.Config

	// HandshakeTimeout bounds dialing the transport and the opening
	// handshake. Defaults to 30s.
	HandshakeTimeout time.Duration

	// CloseTimeout bounds how long Close waits for the peer's close
	// frame before forcing the connection down. Defaults to 10s.
	CloseTimeout time.Duration

	// ReadLimit is the maximum number of bytes to read for a single
	// message. Defaults to 32768. Exceeding it closes the connection
	// with StatusMessageTooBig.
	ReadLimit int64

	// NetDial is used to dial the raw TCP connection.
	// If nil, a net.Dialer is used.
	NetDial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// HandshakeError indicates the opening handshake with the server
// failed. The connection never reaches the open state when it occurs.
type HandshakeError struct {
	Reason string
}

func (e HandshakeError) Error() string {
	return "handshake failed: " + e.Reason
}

func handshakeErrorf(f string, v ...interface{}) HandshakeError {
	return HandshakeError{
		Reason: fmt.Sprintf(f, v...),
	}
}

const defaultHandshakeTimeout = time.Second * 30

// Dial performs a WebSocket handshake on url with the given options.
//
// The url must use the ws or wss scheme. Dial establishes the TCP
// connection itself and wraps it in TLS for wss. Use NewClientConn to
// perform the handshake over a stream you manage yourself.
//
// The returned response is the server's handshake response.
func Dial(ctx context.Context, u string, opts *DialOptions) (*Conn, *http.Response, error) {
	c, resp, err := dial(ctx, u, opts)
	if err != nil {
		return nil, resp, fmt.Errorf("failed to WebSocket dial: %w", err)
	}
	return c, resp, nil
}

func dial(ctx context.Context, u string, opts *DialOptions) (_ *Conn, _ *http.Response, err error) {
	opts = normalizeDialOptions(opts)

	parsedURL, secure, hostport, err := resolveURL(u)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.HandshakeTimeout)
	defer cancel()

	netDial := opts.NetDial
	if netDial == nil {
		var d net.Dialer
		netDial = d.DialContext
	}

	netConn, err := netDial(ctx, "tcp", hostport)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial %q: %w", hostport, err)
	}

	var rwc io.ReadWriteCloser = netConn
	if secure {
		tlsConfig := opts.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{}
		} else {
			tlsConfig = tlsConfig.Clone()
		}
		if tlsConfig.ServerName == "" {
			tlsConfig.ServerName = parsedURL.Hostname()
		}

		tlsConn := tls.Client(netConn, tlsConfig)
		err = tlsConn.HandshakeContext(ctx)
		if err != nil {
			netConn.Close()
			return nil, nil, fmt.Errorf("failed to TLS handshake with %q: %w", hostport, err)
		}
		rwc = tlsConn
	}

	c, resp, err := clientHandshake(ctx, rwc, parsedURL, secure, opts)
	if err != nil {
		rwc.Close()
		return nil, resp, err
	}
	return c, resp, nil
}

// NewClientConn performs the client side of the opening handshake over
// rwc and returns the resulting connection. The url is only used for
// the request line and Host header; the transport is whatever rwc is.
//
// Most callers should use Dial.
func NewClientConn(ctx context.Context, rwc io.ReadWriteCloser, u string, opts *DialOptions) (_ *Conn, _ *http.Response, err error) {
	defer errd.Wrap(&err, "failed to WebSocket handshake")

	opts = normalizeDialOptions(opts)

	parsedURL, secure, _, err := resolveURL(u)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.HandshakeTimeout)
	defer cancel()

	return clientHandshake(ctx, rwc, parsedURL, secure, opts)
}

func clientHandshake(ctx context.Context, rwc io.ReadWriteCloser, u *url.URL, secure bool, opts *DialOptions) (_ *Conn, _ *http.Response, err error) {
	key, err := secWebSocketKey()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate Sec-WebSocket-Key: %w", err)
	}

	req, err := upgradeRequest(ctx, u, secure, key, opts)
	if err != nil {
		return nil, nil, err
	}

	// The stream has no concept of the context so close it out from
	// under the blocked read or write if the context expires.
	handshakeDone := make(chan struct{})
	defer close(handshakeDone)
	go func() {
		select {
		case <-handshakeDone:
		case <-ctx.Done():
			select {
			case <-handshakeDone:
			default:
				rwc.Close()
			}
		}
	}()

	err = req.Write(rwc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to write upgrade request: %w", err)
	}

	br := bufio.NewReader(rwc)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read upgrade response: %w", err)
	}

	subprotocol, err := verifyServerResponse(opts, key, resp)
	if err != nil {
		return nil, resp, err
	}

	// br may have buffered frames the server sent immediately after
	// its response so it must carry over to the connection.
	c := newConn(connConfig{
		subprotocol:  subprotocol,
		rwc:          rwc,
		br:           br,
		bw:           bufio.NewWriter(rwc),
		readLimit:    opts.ReadLimit,
		closeTimeout: opts.CloseTimeout,
	})
	return c, resp, nil
}

func upgradeRequest(ctx context.Context, u *url.URL, secure bool, key string, opts *DialOptions) (*http.Request, error) {
	reqURL := *u
	if secure {
		reqURL.Scheme = "https"
	} else {
		reqURL.Scheme = "http"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build upgrade request: %w", err)
	}

	if opts.HTTPHeader != nil {
		req.Header = opts.HTTPHeader.Clone()
	}
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", key)
	if len(opts.Subprotocols) > 0 {
		req.Header.Set("Sec-WebSocket-Protocol", strings.Join(opts.Subprotocols, ","))
	}

	return req, nil
}

func resolveURL(rawURL string) (u *url.URL, secure bool, hostport string, err error) {
	u, err = url.Parse(rawURL)
	if err != nil {
		return nil, false, "", fmt.Errorf("failed to parse url: %w", err)
	}

	switch u.Scheme {
	case "ws":
	case "wss":
		secure = true
	default:
		return nil, false, "", fmt.Errorf("unexpected url scheme %q (use \"ws\" or \"wss\")", u.Scheme)
	}

	if u.Host == "" {
		return nil, false, "", fmt.Errorf("url %q is missing a host", rawURL)
	}

	hostport = u.Host
	if u.Port() == "" {
		port := "80"
		if secure {
			port = "443"
		}
		hostport = net.JoinHostPort(u.Hostname(), port)
	}

	return u, secure, hostport, nil
}

func normalizeDialOptions(opts *DialOptions) *DialOptions {
	if opts == nil {
		opts = &DialOptions{}
	}
	o := *opts
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &o
}
