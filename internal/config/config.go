// Package config manages the RTMFP daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
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

// Config holds the complete rtmfpd configuration.
type Config struct {
	Admin     AdminConfig     `koanf:"admin"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`
	RTMFP     RTMFPConfig     `koanf:"rtmfp"`
	Handshake HandshakeConfig `koanf:"handshake"`
}

// AdminConfig holds the operator-facing HTTP admin surface configuration
// (§4.11): session-list JSON and a healthz probe.
type AdminConfig struct {
	// Addr is the HTTP listen address (e.g., ":1936").
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

// RTMFPConfig holds the server dispatcher's protocol-level parameters
// (§6 "Configuration recognized").
type RTMFPConfig struct {
	// Port is the UDP port the dispatcher binds (default 1935).
	Port uint16 `koanf:"port"`

	// KeepAliveServer is the interval between server-originated keep-alive
	// probes to an idle session (default 15s).
	KeepAliveServer time.Duration `koanf:"keep_alive_server"`

	// KeepAlivePeer is the interval the server advertises to peers as its
	// own expected keep-alive cadence (default 10s).
	KeepAlivePeer time.Duration `koanf:"keep_alive_peer"`

	// ManageFrequency is how often the dispatcher runs SessionTable.Manage
	// (default 2s; §4.8 step 1). Zero disables periodic management, used
	// when a middle-proxy is configured (out of scope here, kept for
	// parity with spec.md's recognized configuration surface).
	ManageFrequency time.Duration `koanf:"manage_frequency"`

	// Cirrus is an optional upstream address enabling middle-proxy mode.
	// Out of scope (spec.md Non-goals): recognized for configuration
	// compatibility but never consulted by the dispatcher.
	Cirrus string `koanf:"cirrus"`
}

// HandshakeConfig holds cookie-issuance policy (§3 "HandshakePolicy").
type HandshakeConfig struct {
	// MaxPendingCookies caps outstanding unconfirmed cookies (0 = unlimited).
	MaxPendingCookies int `koanf:"max_pending_cookies"`

	// CookieTTL is how long an issued cookie remains valid for stage 2.
	CookieTTL time.Duration `koanf:"cookie_ttl"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with the reference server's
// defaults (§6): port 1935, 15s/10s keep-alive periods, a 2s management
// tick, and a 30s handshake cookie TTL.
func DefaultConfig() *Config {
	return &Config{
		Admin: AdminConfig{
			Addr: ":1936",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		RTMFP: RTMFPConfig{
			Port:            1935,
			KeepAliveServer: 15 * time.Second,
			KeepAlivePeer:   10 * time.Second,
			ManageFrequency: 2 * time.Second,
		},
		Handshake: HandshakeConfig{
			MaxPendingCookies: 0,
			CookieTTL:         30 * time.Second,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for rtmfpd configuration.
// Variables are named RTMFPD_<section>_<key>, e.g., RTMFPD_RTMFP_PORT.
const envPrefix = "RTMFPD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (RTMFPD_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	RTMFPD_ADMIN_ADDR              -> admin.addr
//	RTMFPD_METRICS_ADDR            -> metrics.addr
//	RTMFPD_METRICS_PATH            -> metrics.path
//	RTMFPD_LOG_LEVEL               -> log.level
//	RTMFPD_LOG_FORMAT              -> log.format
//	RTMFPD_RTMFP_PORT              -> rtmfp.port
//	RTMFPD_RTMFP_KEEP_ALIVE_SERVER -> rtmfp.keep_alive_server
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
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

// envKeyMapper transforms RTMFPD_RTMFP_PORT -> rtmfp.port.
// Strips the RTMFPD_ prefix, lowercases, and replaces the first _ with .
// (section names are single words; key names keep their underscores).
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"admin.addr":                   defaults.Admin.Addr,
		"metrics.addr":                 defaults.Metrics.Addr,
		"metrics.path":                 defaults.Metrics.Path,
		"log.level":                    defaults.Log.Level,
		"log.format":                   defaults.Log.Format,
		"rtmfp.port":                   defaults.RTMFP.Port,
		"rtmfp.keep_alive_server":      defaults.RTMFP.KeepAliveServer.String(),
		"rtmfp.keep_alive_peer":        defaults.RTMFP.KeepAlivePeer.String(),
		"rtmfp.manage_frequency":       defaults.RTMFP.ManageFrequency.String(),
		"rtmfp.cirrus":                 defaults.RTMFP.Cirrus,
		"handshake.max_pending_cookies": defaults.Handshake.MaxPendingCookies,
		"handshake.cookie_ttl":          defaults.Handshake.CookieTTL.String(),
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
	// ErrEmptyAdminAddr indicates the admin HTTP listen address is empty.
	ErrEmptyAdminAddr = errors.New("admin.addr must not be empty")

	// ErrInvalidPort indicates rtmfp.port is zero.
	ErrInvalidPort = errors.New("rtmfp.port must be nonzero")

	// ErrInvalidKeepAliveServer indicates the server keep-alive period is
	// not positive.
	ErrInvalidKeepAliveServer = errors.New("rtmfp.keep_alive_server must be > 0")

	// ErrInvalidKeepAlivePeer indicates the peer keep-alive period is not
	// positive.
	ErrInvalidKeepAlivePeer = errors.New("rtmfp.keep_alive_peer must be > 0")

	// ErrInvalidCookieTTL indicates handshake.cookie_ttl is not positive.
	ErrInvalidCookieTTL = errors.New("handshake.cookie_ttl must be > 0")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Admin.Addr == "" {
		return ErrEmptyAdminAddr
	}

	if cfg.RTMFP.Port == 0 {
		return ErrInvalidPort
	}

	if cfg.RTMFP.KeepAliveServer <= 0 {
		return ErrInvalidKeepAliveServer
	}

	if cfg.RTMFP.KeepAlivePeer <= 0 {
		return ErrInvalidKeepAlivePeer
	}

	if cfg.Handshake.CookieTTL <= 0 {
		return ErrInvalidCookieTTL
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
