package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/streamlock/websocket/internal/test/assert"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "wscat.yaml")
	err := os.WriteFile(p, []byte(`
url: wss://example.com/feed
headers:
  Authorization: Bearer tok
subprotocols:
  - chat
  - echo
ping_interval: 30s
messages_per_second: 2.5
read_limit: 65536
insecure_skip_verify: true
`), 0o644)
	assert.Success(t, err)

	cfg, err := loadConfig(p)
	assert.Success(t, err)

	assert.Equal(t, "url", "wss://example.com/feed", cfg.URL)
	assert.Equal(t, "headers", map[string]string{"Authorization": "Bearer tok"}, cfg.Headers)
	assert.Equal(t, "subprotocols", []string{"chat", "echo"}, cfg.Subprotocols)
	assert.Equal(t, "pingInterval", 30*time.Second, cfg.PingInterval)
	assert.Equal(t, "messagesPerSecond", 2.5, cfg.MessagesPerSecond)
	assert.Equal(t, "readLimit", int64(65536), cfg.ReadLimit)
	assert.Equal(t, "insecureSkipVerify", true, cfg.InsecureSkipVerify)
}

func TestLoadConfigMissing(t *testing.T) {
	t.Parallel()

	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigInvalid(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "wscat.yaml")
	err := os.WriteFile(p, []byte("url: [unclosed"), 0o644)
	assert.Success(t, err)

	_, err = loadConfig(p)
	assert.Error(t, err)
}

func TestMergeFlagsHeaders(t *testing.T) {
	cfg := defaultConfig()
	flagHeaders = []string{"X-Token: abc", "bogus-no-colon", "X-Other:  padded  "}
	defer func() { flagHeaders = nil }()

	mergeFlags(rootCmd, cfg, []string{"ws://localhost/ws"})

	assert.Equal(t, "url", "ws://localhost/ws", cfg.URL)
	assert.Equal(t, "headers", map[string]string{
		"X-Token": "abc",
		"X-Other": "padded",
	}, cfg.Headers)
}
