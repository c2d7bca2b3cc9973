package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gip-host/gogip/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("HTTP.Addr = %q, want %q", cfg.HTTP.Addr, ":8080")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if cfg.Transport.MaxAdapters != 4 {
		t.Errorf("Transport.MaxAdapters = %d, want %d", cfg.Transport.MaxAdapters, 4)
	}

	if cfg.Audio.PacketCount != 4 {
		t.Errorf("Audio.PacketCount = %d, want %d", cfg.Audio.PacketCount, 4)
	}

	if cfg.Pairing.WatchdogTimeout != 30*time.Second {
		t.Errorf("Pairing.WatchdogTimeout = %v, want %v", cfg.Pairing.WatchdogTimeout, 30*time.Second)
	}

	// Defaults must pass validation.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
http:
  addr: ":60000"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
transport:
  interface: "wlan0"
  max_adapters: 2
  discovery_enabled: false
audio:
  packet_count: 8
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.HTTP.Addr != ":60000" {
		t.Errorf("HTTP.Addr = %q, want %q", cfg.HTTP.Addr, ":60000")
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}

	if cfg.Transport.Interface != "wlan0" {
		t.Errorf("Transport.Interface = %q, want %q", cfg.Transport.Interface, "wlan0")
	}

	if cfg.Transport.MaxAdapters != 2 {
		t.Errorf("Transport.MaxAdapters = %d, want %d", cfg.Transport.MaxAdapters, 2)
	}

	if cfg.Transport.DiscoveryEnabled {
		t.Errorf("Transport.DiscoveryEnabled = true, want false")
	}

	if cfg.Audio.PacketCount != 8 {
		t.Errorf("Audio.PacketCount = %d, want %d", cfg.Audio.PacketCount, 8)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override http.addr and log.level.
	// Everything else should inherit from defaults.
	yamlContent := `
http:
  addr: ":55555"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	// Overridden values.
	if cfg.HTTP.Addr != ":55555" {
		t.Errorf("HTTP.Addr = %q, want %q", cfg.HTTP.Addr, ":55555")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	// Default values should be preserved.
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}

	if cfg.Transport.MaxAdapters != 4 {
		t.Errorf("Transport.MaxAdapters = %d, want default %d", cfg.Transport.MaxAdapters, 4)
	}

	if cfg.Pairing.WatchdogTimeout != 30*time.Second {
		t.Errorf("Pairing.WatchdogTimeout = %v, want default %v", cfg.Pairing.WatchdogTimeout, 30*time.Second)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty http addr",
			modify: func(cfg *config.Config) {
				cfg.HTTP.Addr = ""
			},
			wantErr: config.ErrEmptyHTTPAddr,
		},
		{
			name: "zero max adapters",
			modify: func(cfg *config.Config) {
				cfg.Transport.MaxAdapters = 0
			},
			wantErr: config.ErrInvalidMaxAdapters,
		},
		{
			name: "negative max adapters",
			modify: func(cfg *config.Config) {
				cfg.Transport.MaxAdapters = -1
			},
			wantErr: config.ErrInvalidMaxAdapters,
		},
		{
			name: "zero packet count",
			modify: func(cfg *config.Config) {
				cfg.Audio.PacketCount = 0
			},
			wantErr: config.ErrInvalidPacketCount,
		},
		{
			name: "inverted flap thresholds when coordinator enabled",
			modify: func(cfg *config.Config) {
				cfg.Coordinator.Enabled = true
				cfg.Coordinator.FlapReuseThreshold = 5
				cfg.Coordinator.FlapSuppressThreshold = 3
			},
			wantErr: config.ErrInvalidFlapThresholds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestInvertedFlapThresholdsIgnoredWhenDisabled(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Coordinator.Enabled = false
	cfg.Coordinator.FlapReuseThreshold = 5
	cfg.Coordinator.FlapSuppressThreshold = 3

	if err := config.Validate(cfg); err != nil {
		t.Errorf("Validate() = %v, want nil (coordinator disabled)", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "gipd.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
