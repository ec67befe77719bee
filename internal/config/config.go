// Package config loads the bridge configuration from a TOML file.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// ListenConfig configures the client-facing listener.
type ListenConfig struct {
	Addr            string   `toml:"addr"`             // e.g. ":3001"
	Path            string   `toml:"path"`             // WebSocket endpoint, e.g. "/python-lsp"
	ReusePort       bool     `toml:"reuse_port"`       // set SO_REUSEPORT on the listener
	AllowedOrigins  []string `toml:"allowed_origins"`  // empty allows every origin
	ShutdownTimeout string   `toml:"shutdown_timeout"` // wait for sessions on shutdown, e.g. "10s"
}

// BackendConfig configures connections to the language server.
type BackendConfig struct {
	Addr           string `toml:"addr"`             // host:port of the language server
	DialTimeout    string `toml:"dial_timeout"`     // e.g. "5s"
	IdleTimeout    string `toml:"idle_timeout"`     // "0s" disables socket deadlines
	MaxMessageSize int    `toml:"max_message_size"` // bytes, applies to both directions
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn or error
}

// Config is the complete bridge configuration.
type Config struct {
	Listen  ListenConfig  `toml:"listen"`
	Backend BackendConfig `toml:"backend"`
	Log     LogConfig     `toml:"log"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen: ListenConfig{
			Addr:            ":3001",
			Path:            "/python-lsp",
			ShutdownTimeout: "10s",
		},
		Backend: BackendConfig{
			Addr:           "localhost:3000",
			DialTimeout:    "5s",
			IdleTimeout:    "0s",
			MaxMessageSize: 32 << 20,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path on top of the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}

	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return cfg, errors.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	return cfg, cfg.Validate()
}

// Validate checks that every field holds a usable value.
func (c Config) Validate() error {
	if c.Listen.Addr == "" {
		return errors.New("listen.addr is required")
	}
	if !strings.HasPrefix(c.Listen.Path, "/") {
		return errors.Errorf("listen.path must start with '/': %q", c.Listen.Path)
	}
	if c.Backend.Addr == "" {
		return errors.New("backend.addr is required")
	}
	if c.Backend.MaxMessageSize <= 0 {
		return errors.Errorf("backend.max_message_size must be positive: %d", c.Backend.MaxMessageSize)
	}

	for name, value := range map[string]string{
		"listen.shutdown_timeout": c.Listen.ShutdownTimeout,
		"backend.dial_timeout":    c.Backend.DialTimeout,
		"backend.idle_timeout":    c.Backend.IdleTimeout,
	} {
		if _, err := parseDuration(value); err != nil {
			return errors.Wrap(err, name)
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("log.level must be debug, info, warn or error: %q", c.Log.Level)
	}

	return nil
}

// ShutdownTimeout returns listen.shutdown_timeout.
func (c Config) ShutdownTimeout() time.Duration {
	d, _ := parseDuration(c.Listen.ShutdownTimeout)
	return d
}

// DialTimeout returns backend.dial_timeout.
func (c Config) DialTimeout() time.Duration {
	d, _ := parseDuration(c.Backend.DialTimeout)
	return d
}

// IdleTimeout returns backend.idle_timeout.
func (c Config) IdleTimeout() time.Duration {
	d, _ := parseDuration(c.Backend.IdleTimeout)
	return d
}

// parseDuration accepts an empty string as zero.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.Errorf("negative duration %q", s)
	}
	return d, nil
}
