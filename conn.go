package websocket

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// MessageType represents the type of a WebSocket message.
// See https://tools.ietf.org/html/rfc6455#section-5.6
type MessageType int

// MessageType constants.
const (
	// MessageText is for UTF-8 encoded text messages like JSON.
	MessageText MessageType = iota + 1
	// MessageBinary is for binary messages like protobufs.
	MessageBinary
)

// Conn represents a client WebSocket connection.
// All methods may be called concurrently except for Reader and Read.
//
// You must always read from the connection. Otherwise control
// frames will not be handled. See the docs on Reader and CloseRead.
//
// Be sure to call Close on the connection when you
// are finished with it to release the associated resources.
//
// Every error from Read or Reader will cause the connection
// to be closed so you do not need to write your own error message.
// This applies to the Read methods in the wsjson/wspb subpackages as well.
type Conn struct {
	subprotocol string
	rwc         io.ReadWriteCloser
	br          *bufio.Reader
	bw          *bufio.Writer

	// rng generates masking keys. It is only touched by the write
	// path while writeFrameMu is held.
	rng *rand.Rand

	closeTimeout time.Duration

	readTimeout  chan context.Context
	writeTimeout chan context.Context

	closed            chan struct{}
	closeMu           sync.Mutex
	closeErr          error
	wroteClose        bool
	readCloseFrameErr error

	readMu         mu
	msgReader      *msgReader
	readControlBuf [maxControlPayload]byte

	writeFrameMu mu
	writeBuf     []byte
	writeHeader  header
	msgWriter    *msgWriter

	pingCounter   int32
	activePingsMu sync.Mutex
	activePings   map[string]chan<- struct{}
}

type connConfig struct {
	subprotocol  string
	rwc          io.ReadWriteCloser
	br           *bufio.Reader
	bw           *bufio.Writer
	readLimit    int64
	closeTimeout time.Duration
}

func newConn(cfg connConfig) *Conn {
	c := &Conn{
		subprotocol:  cfg.subprotocol,
		rwc:          cfg.rwc,
		br:           cfg.br,
		bw:           cfg.bw,
		closeTimeout: cfg.closeTimeout,
	}
	if c.closeTimeout <= 0 {
		c.closeTimeout = defaultCloseTimeout
	}

	c.readTimeout = make(chan context.Context)
	c.writeTimeout = make(chan context.Context)

	c.msgReader = newMsgReader(c)
	if cfg.readLimit > 0 {
		c.msgReader.limitReader.limit.Store(cfg.readLimit + 1)
	}

	c.msgWriter = newMsgWriter(c)
	c.writeBuf = extractBufioWriterBuf(c.bw, c.rwc)

	c.rng = newRand()

	c.closed = make(chan struct{})
	c.activePings = make(map[string]chan<- struct{})

	runtime.SetFinalizer(c, func(c *Conn) {
		c.close(errors.New("connection garbage collected"))
	})

	go c.timeoutLoop()

	return c
}

// Subprotocol returns the negotiated subprotocol.
// An empty string means the default protocol.
func (c *Conn) Subprotocol() string {
	return c.subprotocol
}

func (c *Conn) close(err error) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.isClosed() {
		return
	}
	c.setCloseErrLocked(err)
	close(c.closed)
	runtime.SetFinalizer(c, nil)

	// Closing the stream after closed is closed ensures any goroutine
	// that wakes up from a blocked read or write also sees closeErr.
	c.rwc.Close()
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Conn) setCloseErr(err error) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	c.setCloseErrLocked(err)
}

func (c *Conn) setCloseErrLocked(err error) {
	if c.closeErr == nil && err != nil {
		c.closeErr = fmt.Errorf("%w: %w", net.ErrClosed, err)
	}
}

func (c *Conn) isWroteClose() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.wroteClose
}

// timeoutLoop applies the context of the in flight read or write to
// the connection so a blocked stream operation is torn down when the
// caller gives up.
func (c *Conn) timeoutLoop() {
	readCtx := context.Background()
	writeCtx := context.Background()

	for {
		select {
		case <-c.closed:
			return

		case writeCtx = <-c.writeTimeout:
		case readCtx = <-c.readTimeout:

		case <-readCtx.Done():
			// Writing a close frame here would need timeoutLoop itself
			// to receive on writeTimeout, so tear down directly.
			c.close(fmt.Errorf("read timed out: %w", readCtx.Err()))
			return
		case <-writeCtx.Done():
			c.close(fmt.Errorf("write timed out: %w", writeCtx.Err()))
			return
		}
	}
}

// Ping sends a ping to the peer and waits for a pong.
// Use this to measure latency or ensure the peer is responsive.
// Ping must be called concurrently with Reader as it does
// not read from the connection but instead waits for a Reader call
// to read the pong.
//
// TCP Keepalives should suffice for most use cases.
func (c *Conn) Ping(ctx context.Context) error {
	p := atomic.AddInt32(&c.pingCounter, 1)

	err := c.ping(ctx, strconv.Itoa(int(p)))
	if err != nil {
		return fmt.Errorf("failed to ping: %w", err)
	}
	return nil
}

func (c *Conn) ping(ctx context.Context, p string) error {
	if c.isWroteClose() {
		return net.ErrClosed
	}

	pong := make(chan struct{})

	c.activePingsMu.Lock()
	c.activePings[p] = pong
	c.activePingsMu.Unlock()

	defer func() {
		c.activePingsMu.Lock()
		delete(c.activePings, p)
		c.activePingsMu.Unlock()
	}()

	err := c.writeControl(ctx, opPing, []byte(p))
	if err != nil {
		return err
	}

	select {
	case <-c.closed:
		return c.closeErr
	case <-ctx.Done():
		err := fmt.Errorf("failed to wait for pong: %w", ctx.Err())
		c.close(err)
		return err
	case <-pong:
		return nil
	}
}

// mu is a mutex that can fail to lock when a context expires.
// Goroutines blocked on the channel send are served in FIFO order by
// the runtime which is what serializes concurrent writes onto the
// stream in issuance order.
type mu struct {
	once sync.Once
	ch   chan struct{}
}

func (m *mu) init() {
	m.once.Do(func() {
		m.ch = make(chan struct{}, 1)
	})
}

func (m *mu) Lock(ctx context.Context) error {
	m.init()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case m.ch <- struct{}{}:
		return nil
	}
}

func (m *mu) TryLock() bool {
	m.init()
	select {
	case m.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

func (m *mu) Unlock() {
	<-m.ch
}
