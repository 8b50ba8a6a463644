// Wscat is an interactive WebSocket client.
//
// It dials the given ws:// or wss:// URL, forwards every line read
// from stdin to the server as a text message and prints every message
// received to stdout.
//
// Usage:
//
//	wscat [flags] URL
//
// A YAML config file can supply the URL, extra handshake headers,
// subprotocols and keepalive settings; flags override it.
package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/streamlock/websocket"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var (
	flagConfig       string
	flagHeaders      []string
	flagSubprotocols []string
	flagPingInterval time.Duration
	flagRate         float64
	flagReadLimit    int64
	flagInsecure     bool
	flagVerbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "wscat [URL]",
	Short: "Interactive WebSocket client",
	Long: `Wscat dials a WebSocket URL, sends stdin lines as text messages
and prints received messages to stdout.

The URL may be given as an argument or in the config file.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "path to YAML config file")
	rootCmd.Flags().StringArrayVarP(&flagHeaders, "header", "H", nil, "extra handshake header as 'Name: value' (repeatable)")
	rootCmd.Flags().StringArrayVarP(&flagSubprotocols, "subprotocol", "s", nil, "subprotocol to offer (repeatable)")
	rootCmd.Flags().DurationVar(&flagPingInterval, "ping-interval", 0, "interval between keepalive pings (0 disables)")
	rootCmd.Flags().Float64Var(&flagRate, "rate", 0, "maximum outgoing messages per second (0 means unlimited)")
	rootCmd.Flags().Int64Var(&flagReadLimit, "read-limit", 0, "maximum message size in bytes")
	rootCmd.Flags().BoolVarP(&flagInsecure, "insecure", "k", false, "skip TLS certificate verification")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
}

func run(cmd *cobra.Command, args []string) error {
	cfg := defaultConfig()
	if flagConfig != "" {
		var err error
		cfg, err = loadConfig(flagConfig)
		if err != nil {
			return err
		}
	}
	mergeFlags(cmd, cfg, args)

	if cfg.URL == "" {
		return errors.New("no URL given on the command line or in the config file")
	}

	logger, err := newLogger(flagVerbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runClient(ctx, cfg, logger)
}

func newLogger(verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if !verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return zcfg.Build()
}

func runClient(ctx context.Context, cfg *config, logger *zap.Logger) error {
	opts := &websocket.DialOptions{
		HTTPHeader:   make(http.Header),
		Subprotocols: cfg.Subprotocols,
		ReadLimit:    cfg.ReadLimit,
	}
	for k, v := range cfg.Headers {
		opts.HTTPHeader.Set(k, v)
	}
	if cfg.InsecureSkipVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	c, resp, err := websocket.Dial(ctx, cfg.URL, opts)
	if err != nil {
		return fmt.Errorf("failed to connect to %q: %w", cfg.URL, err)
	}
	defer c.Close(websocket.StatusInternalError, "")

	logger.Info("connected",
		zap.String("url", cfg.URL),
		zap.Int("status", resp.StatusCode),
		zap.String("subprotocol", c.Subprotocol()),
	)

	readErrs := make(chan error, 1)
	go func() {
		readErrs <- readLoop(ctx, c, logger)
	}()

	if cfg.PingInterval > 0 {
		go pingLoop(ctx, c, cfg.PingInterval, logger)
	}

	writeErrs := make(chan error, 1)
	go func() {
		writeErrs <- writeLoop(ctx, c, cfg.MessagesPerSecond, logger)
	}()

	select {
	case <-ctx.Done():
		logger.Info("interrupted, closing")
		return c.Close(websocket.StatusNormalClosure, "")
	case err := <-writeErrs:
		if err != nil {
			return err
		}
		// stdin hit EOF so close cleanly.
		return c.Close(websocket.StatusNormalClosure, "")
	case err := <-readErrs:
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			logger.Info("server closed the connection")
			return nil
		}
		return err
	}
}

func readLoop(ctx context.Context, c *websocket.Conn, logger *zap.Logger) error {
	for {
		typ, p, err := c.Read(ctx)
		if err != nil {
			return err
		}
		switch typ {
		case websocket.MessageText:
			fmt.Printf("< %s\n", p)
		case websocket.MessageBinary:
			logger.Info("received binary message", zap.Int("len", len(p)))
			fmt.Printf("< %x\n", p)
		}
	}
}

func writeLoop(ctx context.Context, c *websocket.Conn, perSecond float64, logger *zap.Logger) error {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		err := limiter.Wait(ctx)
		if err != nil {
			return err
		}

		err = c.Write(ctx, websocket.MessageText, scanner.Bytes())
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to send message: %w", err)
		}
	}
	return scanner.Err()
}

func pingLoop(ctx context.Context, c *websocket.Conn, interval time.Duration, logger *zap.Logger) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		start := time.Now()
		err := c.Ping(ctx)
		if err != nil {
			logger.Debug("ping failed", zap.Error(err))
			return
		}
		logger.Debug("pong received", zap.Duration("rtt", time.Since(start)))
	}
}
