package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeConfig writes data to a config.toml inside a fresh temp dir and
// returns its path together with a root directory that exists.
func writeConfig(t *testing.T, data string) (path, root string) {
	t.Helper()
	dir := t.TempDir()
	root = filepath.Join(dir, "spiffs_image")
	if err := os.Mkdir(root, 0o755); err != nil {
		t.Fatal(err)
	}
	path = filepath.Join(dir, "config.toml")
	data = strings.ReplaceAll(data, "@ROOT@", filepath.ToSlash(root))
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path, root
}

func TestLoad_ValidConfig(t *testing.T) {
	path, root := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880

[static]
root = "@ROOT@"

[upstream]
origin = "http://192.168.68.69"
timeout_seconds = 5

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(&CLI{Config: path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Static.Root != root {
		t.Errorf("Static.Root = %q, want %q", cfg.Static.Root, root)
	}
	if cfg.Upstream.Origin != "http://192.168.68.69" {
		t.Errorf("Upstream.Origin = %q, want %q", cfg.Upstream.Origin, "http://192.168.68.69")
	}
	if cfg.Upstream.TimeoutSeconds != 5 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 5)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
	if cfg.FilePath() != path {
		t.Errorf("FilePath() = %q, want %q", cfg.FilePath(), path)
	}
}

func TestLoad_Defaults(t *testing.T) {
	root := t.TempDir()

	cfg, err := Load(&CLI{Root: root, Upstream: "device.local"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}
	if cfg.Server.BodyMaxBytes != 10*1024*1024 {
		t.Errorf("Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 10*1024*1024)
	}
	if cfg.Upstream.TimeoutSeconds != 30 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 30)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Metrics.Path != "/_devproxy/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/_devproxy/metrics")
	}
	if cfg.FilePath() != "" {
		t.Errorf("FilePath() = %q, want empty without a config file", cfg.FilePath())
	}
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := Load(&CLI{Config: "/nonexistent/config.toml", Upstream: "device.local"})
	if err == nil {
		t.Fatal("Load() expected error for missing explicit config file, got nil")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	path, _ := writeConfig(t, `[server`)

	_, err := Load(&CLI{Config: path})
	if err == nil {
		t.Fatal("Load() expected parse error, got nil")
	}
	if !strings.Contains(err.Error(), "parse") {
		t.Errorf("error = %q, want mention of parse", err)
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path, _ := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000

[static]
root = "@ROOT@"

[upstream]
origin = "http://10.0.0.1"

[log]
level = "info"
`)
	otherRoot := t.TempDir()

	cfg, err := Load(&CLI{
		Config:   path,
		Host:     "0.0.0.0",
		Port:     3000,
		Root:     otherRoot,
		Upstream: "10.0.0.2:8081",
		LogLevel: "warn",
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 3000)
	}
	if cfg.Static.Root != otherRoot {
		t.Errorf("Static.Root = %q, want %q", cfg.Static.Root, otherRoot)
	}
	if cfg.Upstream.Origin != "http://10.0.0.2:8081" {
		t.Errorf("Upstream.Origin = %q, want %q", cfg.Upstream.Origin, "http://10.0.0.2:8081")
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}
}

func TestLoad_MissingUpstream(t *testing.T) {
	_, err := Load(&CLI{Root: t.TempDir()})
	if err == nil {
		t.Fatal("Load() expected error without upstream origin, got nil")
	}
	if !strings.Contains(err.Error(), "upstream.origin") {
		t.Errorf("error = %q, want mention of upstream.origin", err)
	}
}

func TestLoad_RootValidation(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "index.html")
	if err := os.WriteFile(file, []byte("<html></html>"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		root string
		want string
	}{
		{"missing", filepath.Join(dir, "nope"), "does not exist"},
		{"regular file", file, "not a directory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(&CLI{Root: tt.root, Upstream: "device.local"})
			if err == nil {
				t.Fatalf("Load() expected error for root %q, got nil", tt.root)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoad_RelativeRootMadeAbsolute(t *testing.T) {
	// "." always exists; Load must hand back an absolute path for it.
	cfg, err := Load(&CLI{Root: ".", Upstream: "device.local"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !filepath.IsAbs(cfg.Static.Root) {
		t.Errorf("Static.Root = %q, want absolute path", cfg.Static.Root)
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	_, err := Load(&CLI{Root: t.TempDir(), Upstream: "device.local", LogLevel: "verbose"})
	if err == nil {
		t.Fatal("Load() expected error for invalid log level, got nil")
	}
}

func TestLoad_InvalidLogFormat(t *testing.T) {
	path, _ := writeConfig(t, `
[static]
root = "@ROOT@"

[upstream]
origin = "device.local"

[log]
format = "xml"
`)

	_, err := Load(&CLI{Config: path})
	if err == nil {
		t.Fatal("Load() expected error for invalid log format, got nil")
	}
}

func TestLoad_NegativePort(t *testing.T) {
	_, err := Load(&CLI{Root: t.TempDir(), Upstream: "device.local", Port: -1})
	if err == nil {
		t.Fatal("Load() expected error for negative port, got nil")
	}
}

func TestLoad_NegativeTimeout(t *testing.T) {
	path, _ := writeConfig(t, `
[static]
root = "@ROOT@"

[upstream]
origin = "device.local"
timeout_seconds = -5
`)

	_, err := Load(&CLI{Config: path})
	if err == nil {
		t.Fatal("Load() expected error for negative timeout, got nil")
	}
}

func TestLoad_NegativeBodyMaxBytes(t *testing.T) {
	path, _ := writeConfig(t, `
[server]
body_max_bytes = -1

[static]
root = "@ROOT@"

[upstream]
origin = "device.local"
`)

	_, err := Load(&CLI{Config: path})
	if err == nil {
		t.Fatal("Load() expected error for negative body_max_bytes, got nil")
	}
}

func TestLoad_RateLimitConfig(t *testing.T) {
	tests := []struct {
		name    string
		section string
		wantErr bool
	}{
		{"enabled", "enabled = true\nrequests_per_second = 5.0", false},
		{"disabled", "enabled = false", false},
		{"enabled without rate", "enabled = true\nrequests_per_second = 0", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, _ := writeConfig(t, `
[server.rate_limit]
`+tt.section+`

[static]
root = "@ROOT@"

[upstream]
origin = "device.local"
`)

			cfg, err := Load(&CLI{Config: path})
			if tt.wantErr {
				if err == nil {
					t.Fatal("Load() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if tt.name == "enabled" && cfg.Server.RateLimit.RequestsPerSecond != 5.0 {
				t.Errorf("RequestsPerSecond = %v, want %v", cfg.Server.RateLimit.RequestsPerSecond, 5.0)
			}
		})
	}
}

func TestLoad_MetricsPath(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		path    string
		wantErr string
	}{
		{"valid", true, "/_devproxy/prom", ""},
		{"outside reserved prefix", true, "/metrics", "must start with"},
		{"no leading slash", true, "metrics", "must start with"},
		{"conflicts with healthz", true, "/_devproxy/healthz", "conflicts"},
		{"conflicts with status", true, "/_devproxy/status", "conflicts"},
		{"disabled skips validation", false, "bad-no-slash", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := "false"
			if tt.enabled {
				enabled = "true"
			}
			path, _ := writeConfig(t, `
[static]
root = "@ROOT@"

[upstream]
origin = "device.local"

[metrics]
enabled = `+enabled+`
path = "`+tt.path+`"
`)

			cfg, err := Load(&CLI{Config: path})
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("Load() expected error for metrics.path=%q, got nil", tt.path)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Metrics.Path != tt.path {
				t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, tt.path)
			}
		})
	}
}

func TestNormalizeOrigin(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"192.168.68.69", "http://192.168.68.69", false},
		{"192.168.68.69:8081", "http://192.168.68.69:8081", false},
		{"http://device.local", "http://device.local", false},
		{"http://device.local/", "http://device.local", false},
		{"https://device.local:8443", "https://device.local:8443", false},
		{"  device.local  ", "http://device.local", false},
		{"ftp://device.local", "", true},
		{"http://", "", true},
		{"http://device.local/api", "", true},
		{"http://device.local/?a=b", "", true},
		{"http://user:pw@device.local", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := NormalizeOrigin(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NormalizeOrigin(%q) = %q, want error", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeOrigin(%q) error = %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeOrigin(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestFindConfigInPaths_Found(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}

	if got := findConfigInPaths([]string{path}); got != path {
		t.Errorf("findConfigInPaths() = %q, want %q", got, path)
	}
}

func TestFindConfigInPaths_NotFound(t *testing.T) {
	if got := findConfigInPaths([]string{"/nonexistent/a.toml", "/nonexistent/b.toml"}); got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestFindConfigInPaths_Priority(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.toml")
	second := filepath.Join(dir, "second.toml")
	for _, p := range []string{first, second} {
		if err := os.WriteFile(p, []byte(""), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if got := findConfigInPaths([]string{first, second}); got != first {
		t.Errorf("findConfigInPaths() = %q, want %q", got, first)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
