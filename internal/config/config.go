// Package config manages the gipd daemon configuration using koanf/v2.
//
// Supports YAML files, environment variables, and CLI flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete gipd configuration.
type Config struct {
	HTTP        HTTPConfig        `koanf:"http"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	Log         LogConfig         `koanf:"log"`
	Transport   TransportConfig   `koanf:"transport"`
	Audio       AudioConfig       `koanf:"audio"`
	Coordinator CoordinatorConfig `koanf:"coordinator"`
	Pairing     PairingConfig     `koanf:"pairing"`
}

// HTTPConfig holds the daemon's HTTP surface configuration (grpchealth
// liveness/readiness endpoint plus the JSON control API).
type HTTPConfig struct {
	// Addr is the HTTP listen address (e.g., ":8080").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// TransportConfig holds the reference AF_PACKET transport's parameters
// (spec.md §6, L0).
type TransportConfig struct {
	// Interface is the network interface the raw socket transport binds to.
	Interface string `koanf:"interface"`

	// MaxAdapters bounds how many dongle adapters this daemon will drive
	// concurrently (spec.md §3: "small integer used in device names").
	MaxAdapters int `koanf:"max_adapters"`

	// DiscoveryEnabled turns on udev-based accessory hot-plug discovery.
	DiscoveryEnabled bool `koanf:"discovery_enabled"`
}

// AudioConfig holds the default audio plumbing parameters (spec.md §4.7).
type AudioConfig struct {
	// PacketCount is the number of fragments a TX buffer_size is split
	// into (spec.md §4.7's "audio_packet_count").
	PacketCount int `koanf:"packet_count"`
}

// CoordinatorConfig holds the external power/telemetry coordinator's gRPC
// client parameters and flap-debounce tuning (spec.md §4's supplemented
// "Telemetry/coordinator notification").
type CoordinatorConfig struct {
	// Addr is the coordinator's gRPC listen address (e.g., "127.0.0.1:50061").
	Addr string `koanf:"addr"`

	// Enabled controls whether lifecycle transitions are reported at all.
	Enabled bool `koanf:"enabled"`

	// FlapSuppressThreshold is the penalty value at or above which
	// notifications are suppressed.
	FlapSuppressThreshold float64 `koanf:"flap_suppress_threshold"`

	// FlapReuseThreshold is the penalty value below which suppressed
	// notifications resume.
	FlapReuseThreshold float64 `koanf:"flap_reuse_threshold"`

	// FlapHalfLife is the penalty decay half-life.
	FlapHalfLife time.Duration `koanf:"flap_half_life"`
}

// PairingConfig holds the D-Bus pairing/LED surface's defaults (spec.md §6).
type PairingConfig struct {
	// WatchdogTimeout is loaded from configuration but is not passed to
	// the dongle multiplexer; pairing mode auto-closes after the
	// multiplexer's fixed 30 s watchdog regardless of this value.
	WatchdogTimeout time.Duration `koanf:"watchdog_timeout"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Transport: TransportConfig{
			MaxAdapters:      4,
			DiscoveryEnabled: true,
		},
		Audio: AudioConfig{
			PacketCount: 4,
		},
		Coordinator: CoordinatorConfig{
			Enabled:               false,
			FlapSuppressThreshold: 3,
			FlapReuseThreshold:    2,
			FlapHalfLife:          15 * time.Second,
		},
		Pairing: PairingConfig{
			WatchdogTimeout: 30 * time.Second,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for gipd configuration.
// Variables are named GIPD_<section>_<key>, e.g., GIPD_HTTP_ADDR.
const envPrefix = "GIPD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (GIPD_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	GIPD_HTTP_ADDR        -> http.addr
//	GIPD_METRICS_ADDR     -> metrics.addr
//	GIPD_METRICS_PATH     -> metrics.path
//	GIPD_LOG_LEVEL        -> log.level
//	GIPD_LOG_FORMAT       -> log.format
//	GIPD_TRANSPORT_INTERFACE -> transport.interface
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms GIPD_HTTP_ADDR -> http.addr.
// Strips the GIPD_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"http.addr":                           defaults.HTTP.Addr,
		"metrics.addr":                        defaults.Metrics.Addr,
		"metrics.path":                        defaults.Metrics.Path,
		"log.level":                           defaults.Log.Level,
		"log.format":                          defaults.Log.Format,
		"transport.max_adapters":              defaults.Transport.MaxAdapters,
		"transport.discovery_enabled":         defaults.Transport.DiscoveryEnabled,
		"audio.packet_count":                  defaults.Audio.PacketCount,
		"coordinator.enabled":                 defaults.Coordinator.Enabled,
		"coordinator.flap_suppress_threshold": defaults.Coordinator.FlapSuppressThreshold,
		"coordinator.flap_reuse_threshold":    defaults.Coordinator.FlapReuseThreshold,
		"coordinator.flap_half_life":          defaults.Coordinator.FlapHalfLife.String(),
		"pairing.watchdog_timeout":            defaults.Pairing.WatchdogTimeout.String(),
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyHTTPAddr indicates the HTTP listen address is empty.
	ErrEmptyHTTPAddr = errors.New("http.addr must not be empty")

	// ErrInvalidMaxAdapters indicates transport.max_adapters is not positive.
	ErrInvalidMaxAdapters = errors.New("transport.max_adapters must be >= 1")

	// ErrInvalidPacketCount indicates audio.packet_count is not positive.
	ErrInvalidPacketCount = errors.New("audio.packet_count must be >= 1")

	// ErrInvalidFlapThresholds indicates the coordinator's flap thresholds
	// are inverted (reuse must be strictly below suppress).
	ErrInvalidFlapThresholds = errors.New("coordinator.flap_reuse_threshold must be < flap_suppress_threshold")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.HTTP.Addr == "" {
		return ErrEmptyHTTPAddr
	}

	if cfg.Transport.MaxAdapters < 1 {
		return ErrInvalidMaxAdapters
	}

	if cfg.Audio.PacketCount < 1 {
		return ErrInvalidPacketCount
	}

	if cfg.Coordinator.Enabled && cfg.Coordinator.FlapReuseThreshold >= cfg.Coordinator.FlapSuppressThreshold {
		return ErrInvalidFlapThresholds
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
