// Package config holds the configuration of the attestation service.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/edgelesssys/go-tdx-attest/eventlog"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// DefaultSocket is the Unix socket the service listens on by default.
const DefaultSocket = "/run/ccnp/uds/ccnp-server.sock"

// Config is the service configuration.
type Config struct {
	// Socket is the path of the Unix domain socket to listen on. Empty disables the socket listener.
	Socket string `yaml:"socket"`
	// SocketMode is the octal file mode of the socket.
	SocketMode string `yaml:"socketMode"`
	// TCPAddress is an optional host:port to additionally listen on.
	TCPAddress string `yaml:"tcpAddress"`
	// DeviceRoot is the filesystem root below which device nodes are looked up.
	DeviceRoot string `yaml:"deviceRoot"`
	// QuoteTimeout bounds how long a single request waits for the TDX guest device.
	QuoteTimeout time.Duration `yaml:"quoteTimeout"`
	// LogLevel is a zap log level.
	LogLevel string `yaml:"logLevel"`
	// EventlogPaths are the candidate locations of the CCEL data.
	EventlogPaths []string `yaml:"eventlogPaths"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Socket:        DefaultSocket,
		SocketMode:    "0666",
		DeviceRoot:    "/",
		QuoteTimeout:  30 * time.Second,
		LogLevel:      "info",
		EventlogPaths: slices.Clone(eventlog.DefaultPaths),
	}
}

// Load reads a YAML configuration file. Values not set in the file keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decoding config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	var errs []error
	if c.Socket == "" && c.TCPAddress == "" {
		errs = append(errs, errors.New("at least one of socket and tcpAddress must be set"))
	}
	if _, err := c.FileMode(); err != nil {
		errs = append(errs, err)
	}
	if c.DeviceRoot == "" {
		errs = append(errs, errors.New("deviceRoot must not be empty"))
	}
	if c.QuoteTimeout < 0 {
		errs = append(errs, fmt.Errorf("quoteTimeout must not be negative, got %s", c.QuoteTimeout))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if len(c.EventlogPaths) == 0 {
		errs = append(errs, errors.New("eventlogPaths must not be empty"))
	}
	return errors.Join(errs...)
}

// FileMode parses SocketMode.
func (c Config) FileMode() (os.FileMode, error) {
	mode, err := strconv.ParseUint(c.SocketMode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid socketMode %q: %w", c.SocketMode, err)
	}
	if mode > 0o777 {
		return 0, fmt.Errorf("invalid socketMode %q: only permission bits may be set", c.SocketMode)
	}
	return os.FileMode(mode), nil
}

// Level parses LogLevel.
func (c Config) Level() (zapcore.Level, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid logLevel: %w", err)
	}
	return level, nil
}
