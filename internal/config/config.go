// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"spiffs-devproxy.toml",
	"configs/config.toml",
}

// ReservedPrefix is the URL prefix owned by the dev server itself. Everything
// outside it is dispatched to the local root or the upstream device.
const ReservedPrefix = "/_devproxy"

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Root     string `kong:"short='r',help='Directory to serve local files from (overrides config).',env='DEVPROXY_ROOT'"`
	Upstream string `kong:"short='u',help='Device origin, e.g. 192.168.68.69 or http://host:port (overrides config).',env='DEVPROXY_UPSTREAM'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Static   StaticConfig   `toml:"static"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8080)
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// StaticConfig holds the local root directory settings.
type StaticConfig struct {
	Root string `toml:"root"`
}

// UpstreamConfig holds the device origin and exchange settings.
type UpstreamConfig struct {
	Origin         string `toml:"origin"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the optional TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// spiffs-devproxy.toml then configs/config.toml; finding neither is fine.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Root != "" {
		c.Static.Root = cli.Root
	}
	if cli.Upstream != "" {
		c.Upstream.Origin = cli.Upstream
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

// validate checks every field and normalises the root and origin in place.
func (c *Config) validate() error {
	if c.Upstream.Origin == "" {
		return fmt.Errorf("upstream.origin is required (set it in the config file or pass --upstream)")
	}
	origin, err := NormalizeOrigin(c.Upstream.Origin)
	if err != nil {
		return err
	}
	c.Upstream.Origin = origin

	root, err := filepath.Abs(c.Static.Root)
	if err != nil {
		return fmt.Errorf("static.root %q: %w", c.Static.Root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("static.root %q does not exist", root)
		}
		return fmt.Errorf("static.root %q: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("static.root %q is not a directory", root)
	}
	c.Static.Root = root

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// The metrics route must live under the reserved prefix, otherwise it
	// would shadow a path on the device.
	if c.Metrics.Enabled {
		p := c.Metrics.Path
		if !strings.HasPrefix(p, ReservedPrefix+"/") {
			return fmt.Errorf("metrics.path must start with %q; got %q", ReservedPrefix+"/", p)
		}
		for _, reserved := range []string{ReservedPrefix + "/healthz", ReservedPrefix + "/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Static.Root == "" {
		c.Static.Root = "spiffs_image"
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = ReservedPrefix + "/metrics"
	}
}

// NormalizeOrigin turns "host", "host:port" or "scheme://host[:port][/]" into
// a canonical "scheme://host[:port]" origin without a trailing slash.
func NormalizeOrigin(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("upstream.origin is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("upstream.origin must use http or https; got %q", raw)
	}
	if u.Host == "" || u.Hostname() == "" {
		return "", fmt.Errorf("upstream.origin has no host; got %q", raw)
	}
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return "", fmt.Errorf("upstream.origin must be scheme://host[:port] only; got %q", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FilePath returns the config file that was loaded, or "" when running on
// defaults and flags only.
func (c *Config) FilePath() string {
	return c.filePath
}
