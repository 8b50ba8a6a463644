package xsync

import (
	"errors"
	"io"
	"testing"

	"github.com/streamlock/websocket/internal/test/assert"
)

func TestGo(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		errs := Go(func() error {
			return nil
		})
		assert.Success(t, <-errs)
	})

	t.Run("error", func(t *testing.T) {
		t.Parallel()

		errs := Go(func() error {
			return io.EOF
		})
		assert.ErrorIs(t, io.EOF, <-errs)
	})

	t.Run("panic", func(t *testing.T) {
		t.Parallel()

		errs := Go(func() error {
			panic(errors.New("bad"))
		})
		assert.Contains(t, <-errs, "panic in go fn")
	})
}
