package websocket

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/streamlock/websocket/internal/errd"
)

// StatusCode represents a WebSocket status code.
// https://tools.ietf.org/html/rfc6455#section-7.4
type StatusCode int

// https://www.iana.org/assignments/websocket/websocket.xhtml#close-code-number
//
// The defined constants only represent the status codes registered with IANA.
// The 4000-4999 range of status codes is reserved for arbitrary use by applications.
const (
	StatusNormalClosure   StatusCode = 1000
	StatusGoingAway       StatusCode = 1001
	StatusProtocolError   StatusCode = 1002
	StatusUnsupportedData StatusCode = 1003

	// 1004 is reserved and so unexported.
	statusReserved StatusCode = 1004

	// StatusNoStatusRcvd cannot be sent in a close message.
	// It is reserved for when a close message is received without
	// an explicit status.
	StatusNoStatusRcvd StatusCode = 1005

	// StatusAbnormalClosure cannot be sent in a close message. It is
	// reserved for when the connection terminates without a close
	// frame having been exchanged.
	StatusAbnormalClosure StatusCode = 1006

	StatusInvalidFramePayloadData StatusCode = 1007
	StatusPolicyViolation         StatusCode = 1008
	StatusMessageTooBig           StatusCode = 1009
	StatusMandatoryExtension      StatusCode = 1010
	StatusInternalError           StatusCode = 1011
	StatusServiceRestart          StatusCode = 1012
	StatusTryAgainLater           StatusCode = 1013
	StatusBadGateway              StatusCode = 1014

	// StatusTLSHandshake is reserved and cannot be sent in a close
	// message.
	statusTLSHandshake StatusCode = 1015
)

// CloseError is returned when the connection is closed with a status
// and reason.
//
// Use Go 1.13's errors.As to check for this error.
// Also see the CloseStatus helper.
type CloseError struct {
	Code   StatusCode
	Reason string
}

func (ce CloseError) Error() string {
	return fmt.Sprintf("status = %v and reason = %q", ce.Code, ce.Reason)
}

// CloseStatus is a convenience wrapper around errors.As to grab
// the status code from a CloseError.
//
// -1 will be returned if the passed error is nil or not a CloseError.
func CloseStatus(err error) StatusCode {
	var ce CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return -1
}

// Close performs the WebSocket close handshake with the given status
// code and reason.
//
// It will write a WebSocket close frame with a timeout of 5s and then
// wait for the peer to send a close frame, bounded by the close
// handshake grace period.
// All data messages received from the peer during the close handshake
// will be discarded.
//
// The connection can only be closed once. Additional calls to Close
// are no-ops.
//
// The maximum length of reason must be 125 bytes. Avoid
// sending a dynamic reason.
//
// Close will unblock all goroutines interacting with the connection
// once complete.
func (c *Conn) Close(code StatusCode, reason string) error {
	return c.closeHandshake(code, reason)
}

func (c *Conn) closeHandshake(code StatusCode, reason string) (err error) {
	defer errd.Wrap(&err, "failed to close WebSocket")

	err = c.writeClose(code, reason)
	if err != nil && CloseStatus(err) == -1 && err != errAlreadyWroteClose {
		return err
	}

	err = c.waitCloseHandshake()
	if CloseStatus(err) == -1 && !errors.Is(err, errAlreadyClosed) {
		return err
	}
	return nil
}

var errAlreadyWroteClose = errors.New("already wrote close")
var errAlreadyClosed = errors.New("already closed")

func (c *Conn) writeClose(code StatusCode, reason string) error {
	ce := CloseError{
		Code:   code,
		Reason: reason,
	}

	var p []byte
	if ce.Code != StatusNoStatusRcvd {
		var err error
		p, err = ce.bytes()
		if err != nil {
			return fmt.Errorf("failed to marshal close frame: %w", err)
		}
	}

	c.closeMu.Lock()
	wroteClose := c.wroteClose
	c.wroteClose = true
	c.closeMu.Unlock()
	if wroteClose {
		return errAlreadyWroteClose
	}

	c.setCloseErr(fmt.Errorf("sent close frame: %w", ce))

	err := c.writeControl(context.Background(), opClose, p)
	if err != nil && CloseStatus(err) == -1 {
		return err
	}
	return nil
}

// waitCloseHandshake reads until the peer's close frame arrives,
// discarding any data messages, so the close handshake completes
// before the stream is torn down. The wait is bounded by the close
// timeout.
func (c *Conn) waitCloseHandshake() error {
	defer c.close(errAlreadyClosed)

	ctx, cancel := context.WithTimeout(context.Background(), c.closeTimeout)
	defer cancel()

	err := c.readMu.Lock(ctx)
	if err != nil {
		return err
	}
	defer c.readMu.Unlock()

	if c.readCloseFrameErr != nil {
		return c.readCloseFrameErr
	}

	for {
		h, err := c.readLoop(ctx)
		if err != nil {
			return err
		}

		for i := int64(0); i < h.payloadLength; i++ {
			_, err := c.br.ReadByte()
			if err != nil {
				return err
			}
		}
	}
}

const defaultCloseTimeout = time.Second * 10

// writeError sends a close frame for a protocol level failure and
// tears the connection down.
func (c *Conn) writeError(code StatusCode, err error) {
	c.setCloseErr(err)

	reason := err.Error()
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	c.writeClose(code, reason)
	c.close(err)
}

// The close payload is the 2 byte status code followed by the reason.
const maxCloseReason = maxControlPayload - 2

func parseClosePayload(p []byte) (CloseError, error) {
	if len(p) == 0 {
		return CloseError{
			Code: StatusNoStatusRcvd,
		}, nil
	}

	if len(p) < 2 {
		return CloseError{}, fmt.Errorf("close payload %q too small, cannot even contain the 2 byte status code", p)
	}

	ce := CloseError{
		Code:   StatusCode(binary.BigEndian.Uint16(p)),
		Reason: string(p[2:]),
	}

	if !validWireCloseCode(ce.Code) {
		return CloseError{}, fmt.Errorf("invalid status code %v", ce.Code)
	}

	if !utf8.ValidString(ce.Reason) {
		return CloseError{}, fmt.Errorf("invalid utf-8 in reason %q", ce.Reason)
	}

	return ce, nil
}

// See https://www.iana.org/assignments/websocket/websocket.xhtml#close-code-number
// and https://tools.ietf.org/html/rfc6455#section-7.4.1
func validWireCloseCode(code StatusCode) bool {
	switch code {
	case statusReserved, StatusNoStatusRcvd, StatusAbnormalClosure, statusTLSHandshake:
		return false
	}

	if code >= StatusNormalClosure && code <= StatusBadGateway {
		return true
	}
	if code >= 3000 && code <= 4999 {
		return true
	}

	return false
}

func (ce CloseError) bytes() ([]byte, error) {
	if len(ce.Reason) > maxCloseReason {
		return nil, fmt.Errorf("reason string max is %v but got %q with length %v", maxCloseReason, ce.Reason, len(ce.Reason))
	}
	if !validWireCloseCode(ce.Code) {
		return nil, fmt.Errorf("status code %v cannot be set", ce.Code)
	}

	buf := make([]byte, 2+len(ce.Reason))
	binary.BigEndian.PutUint16(buf, uint16(ce.Code))
	copy(buf[2:], ce.Reason)
	return buf, nil
}
