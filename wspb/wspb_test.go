package wspb_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/protobuf/ptypes"

	"github.com/streamlock/websocket"
	"github.com/streamlock/websocket/internal/test/assert"
	"github.com/streamlock/websocket/internal/test/wstest"
	"github.com/streamlock/websocket/wspb"
)

func TestPB(t *testing.T) {
	t.Parallel()

	s := wstest.EchoServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*15)
	defer cancel()

	c, _, err := websocket.Dial(ctx, wstest.URL(s), nil)
	assert.Success(t, err)
	defer c.Close(websocket.StatusInternalError, "")

	exp := ptypes.DurationProto(time.Second * 100)
	err = wspb.Write(ctx, c, exp)
	assert.Success(t, err)

	got := ptypes.DurationProto(0)
	err = wspb.Read(ctx, c, got)
	assert.Success(t, err)

	if !proto.Equal(exp, got) {
		t.Fatalf("unexpected message: expected %v but got %v", exp, got)
	}

	err = c.Close(websocket.StatusNormalClosure, "")
	assert.Success(t, err)
}

func TestPBTextMessage(t *testing.T) {
	t.Parallel()

	s := wstest.EchoServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*15)
	defer cancel()

	c, _, err := websocket.Dial(ctx, wstest.URL(s), nil)
	assert.Success(t, err)
	defer c.Close(websocket.StatusInternalError, "")

	err = c.Write(ctx, websocket.MessageText, []byte("text, not protobuf"))
	assert.Success(t, err)

	got := ptypes.DurationProto(0)
	err = wspb.Read(ctx, c, got)
	assert.Contains(t, err, "expected binary message")
}
