package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envPrefix = "WSDROP_"
	mib       = 1024 * 1024

	// maxBufferMB keeps BufferMB*MiB inside a 32-bit int.
	maxBufferMB = 2047
)

// ServerConfig holds configuration for the server binary.
type ServerConfig struct {
	Port           int           `yaml:"port"`
	BufferMB       int           `yaml:"buffer_mb"` // receive buffer per connection, in MiB
	StorageDir     string        `yaml:"storage_dir"`
	CleanStorage   bool          `yaml:"clean_storage"` // wipe StorageDir at startup
	Subprotocols   []string      `yaml:"subprotocols"`
	MaxConnections int           `yaml:"max_connections"`  // 0 = unlimited
	ConnectsPerMin int           `yaml:"connects_per_min"` // per IP, 0 = unlimited
	ConnectsBurst  int           `yaml:"connects_burst"`
	KeepAlive      time.Duration `yaml:"keepalive"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`   // 0 disables
	Chunked        bool          `yaml:"chunked"`        // accept code 2 chunked transfers
	MaxFileBytes   int64         `yaml:"max_file_bytes"` // chunked transfers, 0 = unlimited
	LogLevel       string        `yaml:"log_level"`
	LogFormat      string        `yaml:"log_format"`
}

// BufferSize returns the receive buffer size in bytes.
func (c ServerConfig) BufferSize() int {
	return c.BufferMB * mib
}

// ClientConfig holds configuration for the sender binary.
type ClientConfig struct {
	ServerURL   string        `yaml:"server_url"`
	Subprotocol string        `yaml:"subprotocol"`
	Files       []string      `yaml:"files"`
	ChunkSize   int           `yaml:"chunk_size"` // 0 sends each file as one message
	Message     string        `yaml:"message"`
	Timeout     time.Duration `yaml:"timeout"`
	LogLevel    string        `yaml:"log_level"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		BufferMB:       512,
		StorageDir:     "Data",
		Subprotocols:   []string{"tccs"},
		MaxConnections: 16,
		ConnectsBurst:  10,
		KeepAlive:      30 * time.Second,
		IdleTimeout:    10 * time.Minute,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// ParseServerConfig parses server configuration from an optional YAML file,
// environment variables and flags, in increasing order of precedence.
func ParseServerConfig() (ServerConfig, error) {
	return parseServerConfigWithFlagSet(flag.CommandLine, os.Args[1:])
}

// parseServerConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseServerConfigWithFlagSet(fs *flag.FlagSet, args []string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	configPath := findConfigPath(args)
	if configPath != "" {
		if err := loadFile(configPath, &cfg); err != nil {
			return ServerConfig{}, err
		}
	}

	// Read from environment next
	env := envReader{}
	env.int("PORT", &cfg.Port)
	env.int("BUFFER_MB", &cfg.BufferMB)
	env.string("STORAGE_DIR", &cfg.StorageDir)
	env.bool("CLEAN_STORAGE", &cfg.CleanStorage)
	env.list("SUBPROTOCOLS", &cfg.Subprotocols)
	env.int("MAX_CONNECTIONS", &cfg.MaxConnections)
	env.int("CONNECTS_PER_MIN", &cfg.ConnectsPerMin)
	env.int("CONNECTS_BURST", &cfg.ConnectsBurst)
	env.duration("KEEPALIVE", &cfg.KeepAlive)
	env.duration("IDLE_TIMEOUT", &cfg.IdleTimeout)
	env.bool("CHUNKED", &cfg.Chunked)
	env.int64("MAX_FILE_BYTES", &cfg.MaxFileBytes)
	env.string("LOG_LEVEL", &cfg.LogLevel)
	env.string("LOG_FORMAT", &cfg.LogFormat)
	if env.err != nil {
		return ServerConfig{}, env.err
	}

	// Flags override environment
	fs.String("config", configPath, "YAML config file")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "listening port (required)")
	fs.IntVar(&cfg.BufferMB, "buffer-mb", cfg.BufferMB, "receive buffer size per connection in MiB")
	fs.StringVar(&cfg.StorageDir, "storage-dir", cfg.StorageDir, "directory received files are written to")
	fs.BoolVar(&cfg.CleanStorage, "clean-storage", cfg.CleanStorage, "empty the storage directory at startup")
	fs.IntVar(&cfg.MaxConnections, "max-connections", cfg.MaxConnections, "max concurrent connections, each holding a buffer-mb receive buffer (0 = unlimited)")
	fs.IntVar(&cfg.ConnectsPerMin, "connects-per-min", cfg.ConnectsPerMin, "max websocket connects per minute per IP (0 = unlimited)")
	fs.IntVar(&cfg.ConnectsBurst, "connects-burst", cfg.ConnectsBurst, "burst websocket connects per IP")
	fs.DurationVar(&cfg.KeepAlive, "keepalive", cfg.KeepAlive, "websocket ping interval (0 disables)")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "close connections idle this long (0 disables)")
	fs.BoolVar(&cfg.Chunked, "chunked", cfg.Chunked, "accept chunked transfers (command code 2)")
	fs.Int64Var(&cfg.MaxFileBytes, "max-file-bytes", cfg.MaxFileBytes, "max size of a chunked transfer (0 = unlimited)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (text, json)")

	// Handle repeatable --subprotocol flag
	subprotocols := make([]string, 0)
	fs.Var((*stringSlice)(&subprotocols), "subprotocol", "accepted websocket sub-protocol (repeatable)")

	if err := fs.Parse(args); err != nil {
		return ServerConfig{}, err
	}
	if len(subprotocols) > 0 {
		cfg.Subprotocols = subprotocols
	}

	return cfg, cfg.Validate()
}

// Validate reports the first invalid setting.
func (c ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.BufferMB < 1 || c.BufferMB > maxBufferMB {
		return fmt.Errorf("buffer-mb must be between 1 and %d, got %d", maxBufferMB, c.BufferMB)
	}
	if strings.TrimSpace(c.StorageDir) == "" {
		return errors.New("storage-dir must not be empty")
	}
	if len(c.Subprotocols) == 0 {
		return errors.New("at least one subprotocol is required")
	}
	for _, p := range c.Subprotocols {
		if strings.TrimSpace(p) == "" {
			return errors.New("subprotocol names must not be empty")
		}
	}
	if c.MaxConnections < 0 || c.ConnectsPerMin < 0 || c.ConnectsBurst < 0 || c.MaxFileBytes < 0 {
		return errors.New("limits must not be negative")
	}
	if c.KeepAlive < 0 || c.IdleTimeout < 0 {
		return errors.New("durations must not be negative")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log-format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// DefaultClientConfig returns the built-in client defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ServerURL:   "ws://localhost:9000/",
		Subprotocol: "tccs",
		Timeout:     30 * time.Second,
		LogLevel:    "info",
	}
}

// ParseClientConfig parses client configuration the same way as the server:
// YAML file, then environment, then flags. Remaining arguments are files to send.
func ParseClientConfig() (ClientConfig, error) {
	return parseClientConfigWithFlagSet(flag.CommandLine, os.Args[1:])
}

// parseClientConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseClientConfigWithFlagSet(fs *flag.FlagSet, args []string) (ClientConfig, error) {
	cfg := DefaultClientConfig()

	configPath := findConfigPath(args)
	if configPath != "" {
		if err := loadFile(configPath, &cfg); err != nil {
			return ClientConfig{}, err
		}
	}

	env := envReader{}
	env.string("SERVER_URL", &cfg.ServerURL)
	env.string("SUBPROTOCOL", &cfg.Subprotocol)
	env.int("CHUNK_SIZE", &cfg.ChunkSize)
	env.duration("TIMEOUT", &cfg.Timeout)
	env.string("LOG_LEVEL", &cfg.LogLevel)
	if env.err != nil {
		return ClientConfig{}, env.err
	}

	fs.String("config", configPath, "YAML config file")
	fs.StringVar(&cfg.ServerURL, "server-url", cfg.ServerURL, "server websocket URL")
	fs.StringVar(&cfg.Subprotocol, "subprotocol", cfg.Subprotocol, "websocket sub-protocol to request")
	fs.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "send files in chunks of N bytes (0 = one message per file)")
	fs.StringVar(&cfg.Message, "message", cfg.Message, "text message to send before any files")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")

	files := make([]string, 0)
	fs.Var((*stringSlice)(&files), "file", "file to send (repeatable)")

	if err := fs.Parse(args); err != nil {
		return ClientConfig{}, err
	}
	files = append(files, fs.Args()...)
	if len(files) > 0 {
		cfg.Files = files
	}

	if cfg.ChunkSize < 0 {
		return ClientConfig{}, fmt.Errorf("chunk-size must not be negative, got %d", cfg.ChunkSize)
	}
	if len(cfg.Files) == 0 && cfg.Message == "" {
		return ClientConfig{}, errors.New("nothing to send: pass files or --message")
	}
	return cfg, nil
}

// findConfigPath looks for --config before flags are parsed so the file can
// supply defaults that flags then override.
func findConfigPath(args []string) string {
	path := os.Getenv(envPrefix + "CONFIG")
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		name := strings.TrimLeft(arg, "-")
		if name == arg {
			continue
		}
		switch {
		case name == "config" && i+1 < len(args):
			path = args[i+1]
			i++
		case strings.HasPrefix(name, "config="):
			path = strings.TrimPrefix(name, "config=")
		}
	}
	return path
}

func loadFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// envReader reads WSDROP_* variables, keeping the first parse error.
type envReader struct {
	err error
}

func (e *envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) fail(key, v string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s%s=%q: %w", envPrefix, key, v, err)
	}
}

func (e *envReader) string(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	if v, ok := e.lookup(key); ok {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*dst = out
	}
}

func (e *envReader) int(key string, dst *int) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) int64(key string, dst *int64) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) bool(key string, dst *bool) {
	if v, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}

// stringSlice implements flag.Value for repeatable string flags.
type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func (s *stringSlice) Get() interface{} {
	return []string(*s)
}

var _ flag.Value = (*stringSlice)(nil)
var _ flag.Getter = (*stringSlice)(nil)
