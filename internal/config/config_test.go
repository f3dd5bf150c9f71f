package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every WSDROP_* variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, envPrefix) {
			t.Setenv(key, "")
		}
	}
}

func TestParseServerConfig_Defaults(t *testing.T) {
	clearEnv(t)

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := parseServerConfigWithFlagSet(fs, []string{"-port", "9000"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("expected Port to be 9000, got %d", cfg.Port)
	}
	if cfg.BufferMB != 512 {
		t.Errorf("expected BufferMB to be 512, got %d", cfg.BufferMB)
	}
	if cfg.BufferSize() != 512*1024*1024 {
		t.Errorf("expected BufferSize to be 512 MiB, got %d", cfg.BufferSize())
	}
	if cfg.StorageDir != "Data" {
		t.Errorf("expected StorageDir to be Data, got %s", cfg.StorageDir)
	}
	if len(cfg.Subprotocols) != 1 || cfg.Subprotocols[0] != "tccs" {
		t.Errorf("expected Subprotocols [tccs], got %v", cfg.Subprotocols)
	}
	if cfg.KeepAlive != 30*time.Second {
		t.Errorf("expected KeepAlive 30s, got %s", cfg.KeepAlive)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LogLevel to be info, got %s", cfg.LogLevel)
	}
	if cfg.MaxConnections != 16 {
		t.Errorf("expected MaxConnections to be 16, got %d", cfg.MaxConnections)
	}
	if cfg.Chunked {
		t.Error("expected chunked transfers to be off by default")
	}
}

func TestParseServerConfig_Chunked(t *testing.T) {
	clearEnv(t)

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := parseServerConfigWithFlagSet(fs, []string{"-port", "9000", "-chunked", "-max-file-bytes", "4096"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Chunked || cfg.MaxFileBytes != 4096 {
		t.Errorf("chunked flags not applied: %+v", cfg)
	}

	t.Setenv("WSDROP_CHUNKED", "true")
	fs = flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err = parseServerConfigWithFlagSet(fs, []string{"-port", "9000"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Chunked {
		t.Error("expected WSDROP_CHUNKED to enable chunked transfers")
	}
}

func TestParseServerConfig_PortRequired(t *testing.T) {
	clearEnv(t)

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	if _, err := parseServerConfigWithFlagSet(fs, []string{}); err == nil {
		t.Fatal("expected error when port is missing")
	}
}

func TestParseServerConfig_Flags(t *testing.T) {
	clearEnv(t)

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := parseServerConfigWithFlagSet(fs, []string{
		"-port", "9090",
		"-buffer-mb", "16",
		"-storage-dir", "downloads",
		"-clean-storage",
		"-subprotocol", "tccs",
		"-subprotocol", "tccs.v2",
		"-max-connections", "0",
		"-idle-timeout", "0s",
		"-log-level", "debug",
		"-log-format", "json",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9090 || cfg.BufferMB != 16 || cfg.StorageDir != "downloads" || !cfg.CleanStorage {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if strings.Join(cfg.Subprotocols, ",") != "tccs,tccs.v2" {
		t.Errorf("expected repeated subprotocols, got %v", cfg.Subprotocols)
	}
	if cfg.MaxConnections != 0 || cfg.IdleTimeout != 0 {
		t.Errorf("expected unlimited connections and no idle timeout, got %d %s", cfg.MaxConnections, cfg.IdleTimeout)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
		t.Errorf("unexpected log settings %s/%s", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestParseServerConfig_EnvFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("WSDROP_PORT", "7070")
	t.Setenv("WSDROP_SUBPROTOCOLS", "a, b")
	t.Setenv("WSDROP_KEEPALIVE", "5s")
	t.Setenv("WSDROP_LOG_LEVEL", "warn")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := parseServerConfigWithFlagSet(fs, []string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 7070 {
		t.Errorf("expected Port to be 7070, got %d", cfg.Port)
	}
	if strings.Join(cfg.Subprotocols, ",") != "a,b" {
		t.Errorf("expected Subprotocols [a b], got %v", cfg.Subprotocols)
	}
	if cfg.KeepAlive != 5*time.Second {
		t.Errorf("expected KeepAlive 5s, got %s", cfg.KeepAlive)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("expected LogLevel to be warn, got %s", cfg.LogLevel)
	}
}

func TestParseServerConfig_InvalidEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("WSDROP_PORT", "not-a-port")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	if _, err := parseServerConfigWithFlagSet(fs, []string{}); err == nil || !strings.Contains(err.Error(), "WSDROP_PORT") {
		t.Errorf("expected WSDROP_PORT error, got %v", err)
	}
}

func TestParseServerConfig_FlagsOverrideEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("WSDROP_PORT", "7070")
	t.Setenv("WSDROP_LOG_LEVEL", "warn")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := parseServerConfigWithFlagSet(fs, []string{"-port", "9090", "-log-level", "error"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Flags should override env
	if cfg.Port != 9090 {
		t.Errorf("expected Port to be 9090 (from flag), got %d", cfg.Port)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("expected LogLevel to be error (from flag), got %s", cfg.LogLevel)
	}
}

func TestParseServerConfig_File(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "wsdropd.yaml")
	content := `port: 6000
buffer_mb: 8
storage_dir: inbox
subprotocols: [tccs, other]
keepalive: 15s
max_file_bytes: 1048576
log_level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WSDROP_LOG_LEVEL", "warn")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := parseServerConfigWithFlagSet(fs, []string{"--config", path, "-buffer-mb", "4"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 6000 || cfg.StorageDir != "inbox" || cfg.MaxFileBytes != 1048576 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.KeepAlive != 15*time.Second {
		t.Errorf("expected KeepAlive 15s from file, got %s", cfg.KeepAlive)
	}
	if cfg.BufferMB != 4 {
		t.Errorf("expected flag to override file buffer-mb, got %d", cfg.BufferMB)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("expected env to override file log level, got %s", cfg.LogLevel)
	}
	if strings.Join(cfg.Subprotocols, ",") != "tccs,other" {
		t.Errorf("unexpected subprotocols %v", cfg.Subprotocols)
	}
}

func TestParseServerConfig_MissingFile(t *testing.T) {
	clearEnv(t)

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	_, err := parseServerConfigWithFlagSet(fs, []string{"--config=" + filepath.Join(t.TempDir(), "nope.yaml")})
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestServerConfig_Validate(t *testing.T) {
	valid := DefaultServerConfig()
	valid.Port = 9000
	if err := valid.Validate(); err != nil {
		t.Fatalf("default config with port should be valid: %v", err)
	}

	tests := map[string]func(c *ServerConfig){
		"port too large":     func(c *ServerConfig) { c.Port = 70000 },
		"zero buffer":        func(c *ServerConfig) { c.BufferMB = 0 },
		"huge buffer":        func(c *ServerConfig) { c.BufferMB = 1 << 20 },
		"no storage dir":     func(c *ServerConfig) { c.StorageDir = " " },
		"no subprotocols":    func(c *ServerConfig) { c.Subprotocols = nil },
		"blank subprotocol":  func(c *ServerConfig) { c.Subprotocols = []string{""} },
		"negative limit":     func(c *ServerConfig) { c.MaxConnections = -1 },
		"negative keepalive": func(c *ServerConfig) { c.KeepAlive = -time.Second },
		"bad log format":     func(c *ServerConfig) { c.LogFormat = "xml" },
	}
	for name, mutate := range tests {
		c := valid
		c.Subprotocols = append([]string(nil), valid.Subprotocols...)
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestParseClientConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("WSDROP_SERVER_URL", "ws://example.test:9000/")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := parseClientConfigWithFlagSet(fs, []string{"-chunk-size", "65536", "-file", "a.bin", "b.bin", "c.bin"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ServerURL != "ws://example.test:9000/" {
		t.Errorf("expected ServerURL from env, got %s", cfg.ServerURL)
	}
	if cfg.ChunkSize != 65536 {
		t.Errorf("expected ChunkSize 65536, got %d", cfg.ChunkSize)
	}
	if strings.Join(cfg.Files, ",") != "a.bin,b.bin,c.bin" {
		t.Errorf("unexpected files %v", cfg.Files)
	}
	if cfg.Subprotocol != "tccs" {
		t.Errorf("expected default subprotocol tccs, got %s", cfg.Subprotocol)
	}
}

func TestParseClientConfig_NothingToSend(t *testing.T) {
	clearEnv(t)

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	if _, err := parseClientConfigWithFlagSet(fs, []string{}); err == nil {
		t.Fatal("expected error without files or message")
	}
}

func TestFindConfigPath(t *testing.T) {
	clearEnv(t)
	t.Setenv("WSDROP_CONFIG", "env.yaml")

	tests := []struct {
		args []string
		want string
	}{
		{nil, "env.yaml"},
		{[]string{"-config", "a.yaml"}, "a.yaml"},
		{[]string{"--config=b.yaml", "-port", "1"}, "b.yaml"},
		{[]string{"--", "-config", "c.yaml"}, "env.yaml"},
	}
	for _, tt := range tests {
		if got := findConfigPath(tt.args); got != tt.want {
			t.Errorf("findConfigPath(%v) = %q, want %q", tt.args, got, tt.want)
		}
	}
}
