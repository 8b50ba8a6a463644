package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/streamlock/websocket/internal/errd"
)

// Reader reads from the connection until there is a WebSocket
// data message to be read. It will handle ping, pong and close frames
// as appropriate.
//
// It returns the type of the message and an io.Reader to read it.
// The passed context will also bound the reader.
// Ensure you read to EOF otherwise the connection will hang.
//
// Call CloseRead if you do not expect any data messages from the peer.
//
// Only one Reader may be open at a time.
func (c *Conn) Reader(ctx context.Context) (MessageType, io.Reader, error) {
	return c.reader(ctx)
}

// Read is a convenience method around Reader to read a single message
// from the connection.
func (c *Conn) Read(ctx context.Context) (MessageType, []byte, error) {
	typ, r, err := c.Reader(ctx)
	if err != nil {
		return 0, nil, err
	}

	b, err := io.ReadAll(r)
	return typ, b, err
}

// CloseRead starts a goroutine to read from the connection until it is
// closed or a data message is received.
//
// Once CloseRead is called you cannot read any messages from the connection.
// The returned context will be cancelled when the connection is closed.
//
// If a data message is received, the connection will be closed with
// StatusPolicyViolation.
//
// Call CloseRead when you do not expect to read any more messages.
// Since it actively reads from the connection, it will ensure that ping,
// pong and close frames are responded to.
func (c *Conn) CloseRead(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		c.Reader(ctx)
		c.Close(StatusPolicyViolation, "unexpected data message")
	}()
	return ctx
}

// SetReadLimit sets the max number of bytes to read for a single message.
// It applies to the Reader and Read methods.
//
// By default, the connection has a message read limit of 32768 bytes.
//
// When the limit is hit, the connection will be closed with
// StatusMessageTooBig.
func (c *Conn) SetReadLimit(n int64) {
	// Read n+1 so the limit trips only once a message exceeds n.
	c.msgReader.limitReader.limit.Store(n + 1)
}

const defaultReadLimit = 32768

func newMsgReader(c *Conn) *msgReader {
	mr := &msgReader{
		c:   c,
		fin: true,
	}

	mr.limitReader = newLimitReader(c, readerFunc(mr.read), defaultReadLimit+1)
	return mr
}

func (c *Conn) reader(ctx context.Context) (_ MessageType, _ io.Reader, err error) {
	defer errd.Wrap(&err, "failed to get reader")

	err = c.readMu.Lock(ctx)
	if err != nil {
		return 0, nil, err
	}
	defer c.readMu.Unlock()

	if !c.msgReader.fin {
		return 0, nil, errors.New("previous message not read to completion")
	}

	h, err := c.readLoop(ctx)
	if err != nil {
		return 0, nil, err
	}

	if h.opcode == opContinuation {
		err := protocolError(StatusProtocolError, "received continuation frame without text or binary frame")
		c.writeError(StatusProtocolError, err)
		return 0, nil, err
	}

	c.msgReader.reset(ctx, h)

	return MessageType(h.opcode), c.msgReader, nil
}

// readLoop reads frames off the stream until it hits a data frame,
// handling any control frames that interleave. Control frames never
// disturb the fragmentation state of an in progress message.
func (c *Conn) readLoop(ctx context.Context) (header, error) {
	for {
		h, err := c.readFrameHeader(ctx)
		if err != nil {
			return header{}, err
		}

		if h.rsv1 || h.rsv2 || h.rsv3 {
			// No extension is ever negotiated so these are always illegal.
			err := protocolError(StatusProtocolError, "received header with rsv bits set: %v:%v:%v", h.rsv1, h.rsv2, h.rsv3)
			c.writeError(StatusProtocolError, err)
			return header{}, err
		}

		switch h.opcode {
		case opClose, opPing, opPong:
			err = c.handleControl(ctx, h)
			if err != nil {
				// Pass through CloseErrors when receiving a close frame.
				if h.opcode == opClose && CloseStatus(err) != -1 {
					return header{}, err
				}
				return header{}, fmt.Errorf("failed to handle control frame opcode %v: %w", h.opcode, err)
			}
		case opContinuation, opText, opBinary:
			return h, nil
		default:
			err := protocolError(StatusProtocolError, "received unknown opcode %v", h.opcode)
			c.writeError(StatusProtocolError, err)
			return header{}, err
		}
	}
}

func (c *Conn) readFrameHeader(ctx context.Context) (header, error) {
	select {
	case <-c.closed:
		return header{}, c.closeErr
	case <-ctx.Done():
		return header{}, ctx.Err()
	case c.readTimeout <- ctx:
	}

	h, err := readFrameHeader(c.br)
	if err != nil {
		select {
		case <-c.closed:
			return header{}, c.closeErr
		case <-ctx.Done():
			return header{}, ctx.Err()
		default:
			var pe ProtocolError
			if errors.As(err, &pe) {
				c.writeError(pe.Code, err)
			} else {
				c.close(err)
			}
			return header{}, err
		}
	}

	select {
	case <-c.closed:
		return header{}, c.closeErr
	case <-ctx.Done():
		return header{}, ctx.Err()
	case c.readTimeout <- context.Background():
	}

	return h, nil
}

func (c *Conn) readFramePayload(ctx context.Context, p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, c.closeErr
	case <-ctx.Done():
		return 0, ctx.Err()
	case c.readTimeout <- ctx:
	}

	n, err := io.ReadFull(c.br, p)
	if err != nil {
		select {
		case <-c.closed:
			return n, c.closeErr
		case <-ctx.Done():
			return n, ctx.Err()
		default:
			err = fmt.Errorf("failed to read frame payload: %w", err)
			c.close(err)
			return n, err
		}
	}

	select {
	case <-c.closed:
		return n, c.closeErr
	case <-ctx.Done():
		return n, ctx.Err()
	case c.readTimeout <- context.Background():
	}

	return n, err
}

func (c *Conn) handleControl(ctx context.Context, h header) (err error) {
	if h.payloadLength < 0 || h.payloadLength > maxControlPayload {
		err := protocolError(StatusProtocolError, "received control frame payload with invalid length: %d", h.payloadLength)
		c.writeError(StatusProtocolError, err)
		return err
	}

	if !h.fin {
		err := protocolError(StatusProtocolError, "received fragmented control frame")
		c.writeError(StatusProtocolError, err)
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	b := c.readControlBuf[:h.payloadLength]
	_, err = c.readFramePayload(ctx, b)
	if err != nil {
		return err
	}

	// Servers never mask but unmask anyway so a misbehaving peer
	// cannot corrupt the payload.
	if h.masked {
		mask(h.maskKey, b)
	}

	switch h.opcode {
	case opPing:
		return c.writeControl(ctx, opPong, b)
	case opPong:
		c.activePingsMu.Lock()
		pong, ok := c.activePings[string(b)]
		c.activePingsMu.Unlock()
		if ok {
			close(pong)
		}
		return nil
	}

	// opClose

	defer func() {
		c.readCloseFrameErr = err
	}()

	ce, err := parseClosePayload(b)
	if err != nil {
		err = protocolError(StatusProtocolError, "received invalid close payload: %v", err)
		c.writeError(StatusProtocolError, err)
		return err
	}

	err = fmt.Errorf("received close frame: %w", ce)
	c.setCloseErr(err)

	// Echo the close frame with the same status code, or none at all
	// if the peer sent none, then tear the connection down.
	c.writeClose(ce.Code, "")
	c.close(err)
	return err
}

type msgReader struct {
	c *Conn

	ctx         context.Context
	typ         MessageType
	limitReader *limitReader
	v           utf8Validator

	fin           bool
	payloadLength int64
	masked        bool
	maskKey       uint32
}

func (mr *msgReader) reset(ctx context.Context, h header) {
	mr.ctx = ctx
	mr.typ = MessageType(h.opcode)
	mr.v.reset()
	mr.limitReader.reset()
	mr.setFrame(h)
}

func (mr *msgReader) setFrame(h header) {
	mr.fin = h.fin
	mr.payloadLength = h.payloadLength
	mr.masked = h.masked
	mr.maskKey = h.maskKey
}

func (mr *msgReader) Read(p []byte) (_ int, err error) {
	err = mr.c.readMu.Lock(mr.ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read: %w", err)
	}
	defer mr.c.readMu.Unlock()

	n, err := mr.limitReader.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = fmt.Errorf("failed to read: %w", err)
	}
	return n, err
}

func (mr *msgReader) read(p []byte) (int, error) {
	if mr.payloadLength == 0 {
		if mr.fin {
			// The message is fully assembled so the concatenated
			// text payload must now be valid UTF-8.
			if mr.typ == MessageText && !mr.v.done() {
				err := protocolError(StatusInvalidFramePayloadData, "received text message with invalid utf-8 payload")
				mr.c.writeError(StatusInvalidFramePayloadData, err)
				return 0, err
			}
			return 0, io.EOF
		}

		h, err := mr.c.readLoop(mr.ctx)
		if err != nil {
			return 0, err
		}
		if h.opcode != opContinuation {
			err := protocolError(StatusProtocolError, "received new data message without finishing the previous message")
			mr.c.writeError(StatusProtocolError, err)
			return 0, err
		}
		mr.setFrame(h)
	}

	if int64(len(p)) > mr.payloadLength {
		p = p[:mr.payloadLength]
	}

	n, err := mr.c.readFramePayload(mr.ctx, p)
	if err != nil {
		return n, err
	}

	mr.payloadLength -= int64(n)

	if mr.masked {
		mr.maskKey = mask(mr.maskKey, p[:n])
	}

	if mr.typ == MessageText && !mr.v.push(p[:n]) {
		err := protocolError(StatusInvalidFramePayloadData, "received text message with invalid utf-8 payload")
		mr.c.writeError(StatusInvalidFramePayloadData, err)
		return n, err
	}

	return n, nil
}

type limitReader struct {
	c     *Conn
	r     io.Reader
	limit atomicInt64
	n     int64
}

func newLimitReader(c *Conn, r io.Reader, limit int64) *limitReader {
	lr := &limitReader{
		c: c,
	}
	lr.limit.Store(limit)
	lr.r = r
	lr.reset()
	return lr
}

func (lr *limitReader) reset() {
	lr.n = lr.limit.Load()
}

func (lr *limitReader) Read(p []byte) (int, error) {
	if lr.n <= 0 {
		err := protocolError(StatusMessageTooBig, "read limited at %v bytes", lr.limit.Load()-1)
		lr.c.writeError(StatusMessageTooBig, err)
		return 0, err
	}

	if int64(len(p)) > lr.n {
		p = p[:lr.n]
	}
	n, err := lr.r.Read(p)
	lr.n -= int64(n)
	return n, err
}

type atomicInt64 struct {
	v atomic.Int64
}

func (v *atomicInt64) Load() int64 {
	return v.v.Load()
}

func (v *atomicInt64) Store(i int64) {
	v.v.Store(i)
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) {
	return f(p)
}
