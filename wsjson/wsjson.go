// Package wsjson provides helpers for reading and writing JSON messages.
package wsjson

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streamlock/websocket"
	"github.com/streamlock/websocket/internal/bufpool"
	"github.com/streamlock/websocket/internal/errd"
)

// Read reads a JSON message from c into v.
// It will reuse buffers in between calls to avoid allocations.
func Read(ctx context.Context, c *websocket.Conn, v interface{}) (err error) {
	defer errd.Wrap(&err, "failed to read JSON message")

	_, r, err := c.Reader(ctx)
	if err != nil {
		return err
	}

	b := bufpool.Get()
	defer bufpool.Put(b)

	_, err = b.ReadFrom(r)
	if err != nil {
		return err
	}

	err = json.Unmarshal(b.Bytes(), v)
	if err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	return nil
}

// Write writes the JSON message v to c.
// It will reuse buffers in between calls to avoid allocations.
func Write(ctx context.Context, c *websocket.Conn, v interface{}) (err error) {
	defer errd.Wrap(&err, "failed to write JSON message")

	b := bufpool.Get()
	defer bufpool.Put(b)

	err = json.NewEncoder(b).Encode(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	return c.Write(ctx, websocket.MessageText, b.Bytes())
}
