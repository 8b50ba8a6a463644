// Package xrand contains helpers for generating random test data.
package xrand

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
)

// Bytes generates random bytes with length n.
func Bytes(n int) []byte {
	b := make([]byte, n)
	_, err := rand.Reader.Read(b)
	if err != nil {
		panic(fmt.Sprintf("failed to generate rand bytes: %v", err))
	}
	return b
}

// String generates a random string with length n.
// The result is ASCII so it stays valid UTF-8 at any truncation.
func String(n int) string {
	s := base64.StdEncoding.EncodeToString(Bytes(base64.StdEncoding.DecodedLen(n) + 3))
	return s[:n]
}

// Bool returns a randomly generated boolean.
func Bool() bool {
	return Int(2) == 1
}

// Int returns a randomly generated integer between [0, max).
func Int(max int) int {
	x, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic(fmt.Sprintf("failed to generate rand int: %v", err))
	}
	return int(x.Int64())
}

// Uint32 returns a randomly generated uint32.
func Uint32() uint32 {
	return uint32(Int(1 << 32))
}
