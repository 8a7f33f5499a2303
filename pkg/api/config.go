package api

import (
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/netstub/netstub/internal/errx"
)

const (
	DefaultProxyAddr  = "127.0.0.1:8080"
	DefaultDriverAddr = "127.0.0.1:8081"
	DefaultDriverPath = "/driver"
	DefaultCodec      = CodecJSON
	DefaultLogLevel   = "info"
)

const (
	CodecJSON = "json"
	CodecCBOR = "cbor"
)

// Config is the runtime configuration of a netstub server.
type Config struct {
	ProxyAddr  string `json:"proxy_addr,omitempty" mapstructure:"proxy-addr"`
	DriverAddr string `json:"driver_addr,omitempty" mapstructure:"driver-addr"`
	DriverPath string `json:"driver_path,omitempty" mapstructure:"driver-path"`
	// MetricsAddr is optional; empty disables the metrics listener.
	MetricsAddr string `json:"metrics_addr,omitempty" mapstructure:"metrics-addr"`
	CADir       string `json:"ca_dir,omitempty" mapstructure:"ca-dir"`
	Codec       string `json:"codec,omitempty" mapstructure:"codec"`
	LogLevel    string `json:"log_level,omitempty" mapstructure:"log-level"`
	// EventLog is a JSON-L file receiving structured interception events.
	EventLog string `json:"event_log,omitempty" mapstructure:"event-log"`
	RunID    string `json:"run_id,omitempty" mapstructure:"run-id"`
}

// DefaultCADir returns ~/.netstub/ca, falling back to the working
// directory when no home directory is available.
func DefaultCADir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".netstub", "ca")
	}
	return filepath.Join(home, ".netstub", "ca")
}

func DefaultConfig() Config {
	return Config{
		ProxyAddr:  DefaultProxyAddr,
		DriverAddr: DefaultDriverAddr,
		DriverPath: DefaultDriverPath,
		CADir:      DefaultCADir(),
		Codec:      DefaultCodec,
		LogLevel:   DefaultLogLevel,
	}
}

// ApplyDefaults fills empty fields from DefaultConfig.
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.ProxyAddr == "" {
		c.ProxyAddr = def.ProxyAddr
	}
	if c.DriverAddr == "" {
		c.DriverAddr = def.DriverAddr
	}
	if c.DriverPath == "" {
		c.DriverPath = def.DriverPath
	}
	if c.CADir == "" {
		c.CADir = def.CADir
	}
	if c.Codec == "" {
		c.Codec = def.Codec
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}

func (c *Config) Validate() error {
	if err := validateAddr("proxy-addr", c.ProxyAddr); err != nil {
		return err
	}
	if err := validateAddr("driver-addr", c.DriverAddr); err != nil {
		return err
	}
	if c.MetricsAddr != "" {
		if err := validateAddr("metrics-addr", c.MetricsAddr); err != nil {
			return err
		}
	}
	if !strings.HasPrefix(c.DriverPath, "/") {
		return errx.With(ErrInvalidConfig, ": driver-path %q must start with /", c.DriverPath)
	}
	switch c.Codec {
	case CodecJSON, CodecCBOR:
	default:
		return errx.With(ErrInvalidConfig, ": unsupported codec %q (want %s or %s)", c.Codec, CodecJSON, CodecCBOR)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errx.With(ErrInvalidConfig, ": unsupported log level %q", c.LogLevel)
	}
	if strings.TrimSpace(c.CADir) == "" {
		return errx.With(ErrInvalidConfig, ": ca-dir is required")
	}
	return nil
}

func validateAddr(name, addr string) error {
	if addr == "" {
		return errx.With(ErrInvalidConfig, ": %s is required", name)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return errx.With(ErrInvalidConfig, ": %s %q: %v", name, addr, err)
	}
	return nil
}
