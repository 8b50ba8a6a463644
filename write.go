package websocket

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/streamlock/websocket/internal/errd"
)

// Writer returns a writer bounded by the context that will write
// a WebSocket message of type dataType to the connection.
//
// You must close the writer once you have written the entire message.
//
// Only one writer can be open at a time, multiple calls will block until
// the previous writer is closed.
func (c *Conn) Writer(ctx context.Context, typ MessageType) (io.WriteCloser, error) {
	err := c.msgWriter.reset(ctx, typ)
	if err != nil {
		return nil, fmt.Errorf("failed to get writer: %w", err)
	}
	return c.msgWriter, nil
}

// Write writes a message to the connection.
//
// See the Writer method if you want to stream a message.
// The message is guaranteed to be written in a single frame.
func (c *Conn) Write(ctx context.Context, typ MessageType, p []byte) error {
	_, err := c.write(ctx, typ, p)
	if err != nil {
		return fmt.Errorf("failed to write msg: %w", err)
	}
	return nil
}

func (c *Conn) write(ctx context.Context, typ MessageType, p []byte) (int, error) {
	err := c.msgWriter.reset(ctx, typ)
	if err != nil {
		return 0, err
	}

	// Single frame fast path.
	defer c.msgWriter.mu.Unlock()
	return c.writeFrame(ctx, true, c.msgWriter.opcode, p)
}

func newMsgWriter(c *Conn) *msgWriter {
	return &msgWriter{
		c: c,
	}
}

type msgWriter struct {
	c *Conn

	mu     mu
	ctx    context.Context
	opcode opcode
	closed bool
}

func (mw *msgWriter) reset(ctx context.Context, typ MessageType) error {
	err := mw.mu.Lock(ctx)
	if err != nil {
		return err
	}

	mw.closed = false
	mw.ctx = ctx
	mw.opcode = opcode(typ)
	return nil
}

// Write writes the given bytes to the WebSocket connection as one
// fragment of the current message.
func (mw *msgWriter) Write(p []byte) (_ int, err error) {
	defer errd.Wrap(&err, "failed to write")

	if mw.closed {
		return 0, errors.New("cannot use closed writer")
	}

	n, err := mw.c.writeFrame(mw.ctx, false, mw.opcode, p)
	if err != nil {
		return n, fmt.Errorf("failed to write data frame: %w", err)
	}
	mw.opcode = opContinuation
	return n, nil
}

// Close flushes the frame to the connection.
// This must be called for every Writer.
func (mw *msgWriter) Close() (err error) {
	defer errd.Wrap(&err, "failed to close writer")

	if mw.closed {
		return errors.New("cannot use closed writer")
	}
	mw.closed = true

	_, err = mw.c.writeFrame(mw.ctx, true, mw.opcode, nil)
	if err != nil {
		return fmt.Errorf("failed to write fin frame: %w", err)
	}

	mw.mu.Unlock()
	return nil
}

func (c *Conn) writeControl(ctx context.Context, opcode opcode, p []byte) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	_, err := c.writeFrame(ctx, true, opcode, p)
	if err != nil {
		return fmt.Errorf("failed to write control frame opcode %v: %w", opcode, err)
	}
	return nil
}

// writeFrame handles all writes to the connection. Whole frames are
// serialized under writeFrameMu so concurrent callers never interleave
// partial frames on the stream.
func (c *Conn) writeFrame(ctx context.Context, fin bool, opcode opcode, p []byte) (_ int, err error) {
	err = c.writeFrameMu.Lock(ctx)
	if err != nil {
		return 0, err
	}
	defer c.writeFrameMu.Unlock()

	select {
	case <-c.closed:
		return 0, c.closeErr
	default:
	}

	// Once a close frame has been written only the close handshake's
	// own frames and control echoes may follow.
	if !opcode.controlOp() && c.isWroteClose() {
		return 0, fmt.Errorf("connection is closing: %w", net.ErrClosed)
	}

	select {
	case <-c.closed:
		return 0, c.closeErr
	case <-ctx.Done():
		return 0, ctx.Err()
	case c.writeTimeout <- ctx:
	}

	c.writeHeader.fin = fin
	c.writeHeader.opcode = opcode
	c.writeHeader.payloadLength = int64(len(p))

	// Client frames are always masked.
	c.writeHeader.masked = true
	c.writeHeader.maskKey = c.rng.Uint32()

	err = writeFrameHeader(c.writeHeader, c.bw)
	if err != nil {
		c.close(err)
		return 0, err
	}

	n, err := c.writeFramePayload(p)
	if err != nil {
		c.close(err)
		return n, err
	}

	if c.writeHeader.fin {
		err = c.bw.Flush()
		if err != nil {
			err = fmt.Errorf("failed to flush: %w", err)
			c.close(err)
			return n, err
		}
	}

	select {
	case <-c.closed:
		if opcode == opClose {
			// The close frame raced with the connection tearing
			// down; the write itself succeeded.
			return n, nil
		}
		return n, c.closeErr
	case <-ctx.Done():
		return n, ctx.Err()
	case c.writeTimeout <- context.Background():
	}

	return n, nil
}

// writeFramePayload masks the payload into the bufio.Writer's buffer
// in place so no intermediate copy of the masked bytes is needed.
func (c *Conn) writeFramePayload(p []byte) (_ int, err error) {
	defer errd.Wrap(&err, "failed to write frame payload")

	var n int
	maskKey := c.writeHeader.maskKey
	for len(p) > 0 {
		// If the buffer is full, we need to flush.
		if c.bw.Available() == 0 {
			err = c.bw.Flush()
			if err != nil {
				return n, err
			}
		}

		// Start of next write in the buffer.
		i := c.bw.Buffered()

		j := len(p)
		if j > c.bw.Available() {
			j = c.bw.Available()
		}

		_, err := c.bw.Write(p[:j])
		if err != nil {
			return n, err
		}

		maskKey = mask(maskKey, c.writeBuf[i:c.bw.Buffered()])

		p = p[j:]
		n += j
	}

	return n, nil
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) {
	return f(p)
}

// extractBufioWriterBuf grabs the []byte backing a *bufio.Writer
// and returns it.
func extractBufioWriterBuf(bw *bufio.Writer, w io.Writer) []byte {
	var writeBuf []byte
	bw.Reset(writerFunc(func(p2 []byte) (int, error) {
		writeBuf = p2[:cap(p2)]
		return len(p2), nil
	}))

	bw.WriteByte(0)
	bw.Flush()

	bw.Reset(w)

	return writeBuf
}
