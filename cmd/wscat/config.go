package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// config holds the wscat settings. Flags override config file values.
type config struct {
	URL                string            `yaml:"url"`
	Headers            map[string]string `yaml:"headers"`
	Subprotocols       []string          `yaml:"subprotocols"`
	PingInterval       time.Duration     `yaml:"ping_interval"`
	MessagesPerSecond  float64           `yaml:"messages_per_second"`
	ReadLimit          int64             `yaml:"read_limit"`
	InsecureSkipVerify bool              `yaml:"insecure_skip_verify"`
}

func defaultConfig() *config {
	return &config{
		Headers: make(map[string]string),
	}
}

func loadConfig(path string) (*config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaultConfig()
	err = yaml.Unmarshal(b, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	return cfg, nil
}

// mergeFlags applies command line arguments and changed flags on top of cfg.
func mergeFlags(cmd *cobra.Command, cfg *config, args []string) {
	if len(args) > 0 {
		cfg.URL = args[0]
	}
	for _, h := range flagHeaders {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			continue
		}
		cfg.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	if len(flagSubprotocols) > 0 {
		cfg.Subprotocols = flagSubprotocols
	}
	if cmd.Flags().Changed("ping-interval") {
		cfg.PingInterval = flagPingInterval
	}
	if cmd.Flags().Changed("rate") {
		cfg.MessagesPerSecond = flagRate
	}
	if cmd.Flags().Changed("read-limit") {
		cfg.ReadLimit = flagReadLimit
	}
	if flagInsecure {
		cfg.InsecureSkipVerify = true
	}
}
