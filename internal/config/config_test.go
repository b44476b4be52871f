package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sanjayc77/cumulus/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Admin.Addr != ":1936" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":1936")
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

	if cfg.RTMFP.Port != 1935 {
		t.Errorf("RTMFP.Port = %d, want %d", cfg.RTMFP.Port, 1935)
	}

	if cfg.RTMFP.KeepAliveServer != 15*time.Second {
		t.Errorf("RTMFP.KeepAliveServer = %v, want %v", cfg.RTMFP.KeepAliveServer, 15*time.Second)
	}

	if cfg.RTMFP.KeepAlivePeer != 10*time.Second {
		t.Errorf("RTMFP.KeepAlivePeer = %v, want %v", cfg.RTMFP.KeepAlivePeer, 10*time.Second)
	}

	if cfg.Handshake.CookieTTL != 30*time.Second {
		t.Errorf("Handshake.CookieTTL = %v, want %v", cfg.Handshake.CookieTTL, 30*time.Second)
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
admin:
  addr: ":7777"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
rtmfp:
  port: 19350
  keep_alive_server: "20s"
  keep_alive_peer: "5s"
handshake:
  max_pending_cookies: 100
  cookie_ttl: "45s"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Admin.Addr != ":7777" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":7777")
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.RTMFP.Port != 19350 {
		t.Errorf("RTMFP.Port = %d, want %d", cfg.RTMFP.Port, 19350)
	}

	if cfg.RTMFP.KeepAliveServer != 20*time.Second {
		t.Errorf("RTMFP.KeepAliveServer = %v, want %v", cfg.RTMFP.KeepAliveServer, 20*time.Second)
	}

	if cfg.Handshake.MaxPendingCookies != 100 {
		t.Errorf("Handshake.MaxPendingCookies = %d, want %d", cfg.Handshake.MaxPendingCookies, 100)
	}

	if cfg.Handshake.CookieTTL != 45*time.Second {
		t.Errorf("Handshake.CookieTTL = %v, want %v", cfg.Handshake.CookieTTL, 45*time.Second)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	yamlContent := `
admin:
  addr: ":7777"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Admin.Addr != ":7777" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":7777")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.RTMFP.Port != 1935 {
		t.Errorf("RTMFP.Port = %d, want default %d", cfg.RTMFP.Port, 1935)
	}

	if cfg.RTMFP.KeepAliveServer != 15*time.Second {
		t.Errorf("RTMFP.KeepAliveServer = %v, want default %v", cfg.RTMFP.KeepAliveServer, 15*time.Second)
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
			name: "empty admin addr",
			modify: func(cfg *config.Config) {
				cfg.Admin.Addr = ""
			},
			wantErr: config.ErrEmptyAdminAddr,
		},
		{
			name: "zero port",
			modify: func(cfg *config.Config) {
				cfg.RTMFP.Port = 0
			},
			wantErr: config.ErrInvalidPort,
		},
		{
			name: "zero keep alive server",
			modify: func(cfg *config.Config) {
				cfg.RTMFP.KeepAliveServer = 0
			},
			wantErr: config.ErrInvalidKeepAliveServer,
		},
		{
			name: "negative keep alive server",
			modify: func(cfg *config.Config) {
				cfg.RTMFP.KeepAliveServer = -1 * time.Second
			},
			wantErr: config.ErrInvalidKeepAliveServer,
		},
		{
			name: "zero keep alive peer",
			modify: func(cfg *config.Config) {
				cfg.RTMFP.KeepAlivePeer = 0
			},
			wantErr: config.ErrInvalidKeepAlivePeer,
		},
		{
			name: "zero cookie ttl",
			modify: func(cfg *config.Config) {
				cfg.Handshake.CookieTTL = 0
			},
			wantErr: config.ErrInvalidCookieTTL,
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

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
admin:
  addr: ":1936"
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("RTMFPD_ADMIN_ADDR", ":6000")
	t.Setenv("RTMFPD_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Admin.Addr != ":6000" {
		t.Errorf("Admin.Addr = %q, want %q (from env)", cfg.Admin.Addr, ":6000")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

func TestLoadEnvOverridesMetrics(t *testing.T) {
	yamlContent := `
admin:
  addr: ":1936"
metrics:
  addr: ":9100"
  path: "/metrics"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("RTMFPD_METRICS_ADDR", ":9200")
	t.Setenv("RTMFPD_METRICS_PATH", "/custom")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q (from env)", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom" {
		t.Errorf("Metrics.Path = %q, want %q (from env)", cfg.Metrics.Path, "/custom")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "rtmfpd.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
