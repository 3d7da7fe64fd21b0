// Package config loads watchdata configuration from defaults, an optional
// YAML file and environment variables, in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Secret wraps a sensitive string to prevent accidental logging or marshalling.
type Secret string

// String implements fmt.Stringer, returning a redacted placeholder.
func (s Secret) String() string { return "[REDACTED]" }

// GoString implements fmt.GoStringer, returning a redacted placeholder.
func (s Secret) GoString() string { return "[REDACTED]" }

// MarshalText implements encoding.TextMarshaler, returning a redacted placeholder.
func (s Secret) MarshalText() ([]byte, error) { return []byte("[REDACTED]"), nil }

// Value returns the underlying secret string.
func (s Secret) Value() string { return string(s) }

// Config holds all application configuration values.
type Config struct {
	RawExportsDir     string          `yaml:"raw_exports_dir"`
	DBPath            string          `yaml:"db_path"`
	RollingWindowDays int             `yaml:"rolling_window_days"`
	Log               LogConfig       `yaml:"log"`
	Server            ServerConfig    `yaml:"server"`
	Import            ImportConfig    `yaml:"import"`
	Retention         RetentionConfig `yaml:"retention"`
	Auth              AuthConfig      `yaml:"auth"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	ListenHost         string `yaml:"listen_host"`
	Port               string `yaml:"port"`
	MaxConcurrentQuery int    `yaml:"max_concurrent_query"`
}

// ImportConfig tunes import runs.
type ImportConfig struct {
	RescanOnStartup  bool          `yaml:"rescan_on_startup"`
	StaleAfter       time.Duration `yaml:"stale_after"`
	FlushInterval    time.Duration `yaml:"flush_interval"`
	FlushRecordsSeen int64         `yaml:"flush_records_seen"`
	FlushBytes       int64         `yaml:"flush_bytes"`
	FlushParsed      int64         `yaml:"flush_parsed"`
	QueueHighWater   int           `yaml:"queue_high_water"`
}

// RetentionConfig configures pruning of old diagnostics. Days = 0 disables it.
type RetentionConfig struct {
	Days         int `yaml:"days"`
	IntervalMins int `yaml:"interval_mins"`
}

// AuthConfig configures API key authentication.
type AuthConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DBPath       string `yaml:"db_path"`
	Pepper       Secret `yaml:"pepper"`
	BootstrapKey Secret `yaml:"bootstrap_key"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		RawExportsDir:     "./raw_exports",
		DBPath:            "./.data/fitness_data.duckdb",
		RollingWindowDays: 7,
		Log:               LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{
			ListenHost:         "127.0.0.1",
			Port:               "3000",
			MaxConcurrentQuery: 4,
		},
		Import: ImportConfig{
			RescanOnStartup:  true,
			StaleAfter:       60 * time.Second,
			FlushInterval:    2 * time.Second,
			FlushRecordsSeen: 50_000,
			FlushBytes:       8_000_000,
			FlushParsed:      500,
			QueueHighWater:   10,
		},
		Retention: RetentionConfig{Days: 30, IntervalMins: 60},
		Auth:      AuthConfig{DBPath: "./.data/auth.db"},
	}
}

// Load builds the configuration. path names an optional YAML file; an empty
// path or a missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Finish resolves paths and validates. Callers that override fields after
// Load (command-line flags) call it again.
func (c *Config) Finish() error {
	return c.finish()
}

func (c *Config) finish() error {
	var err error
	if c.RawExportsDir, err = filepath.Abs(c.RawExportsDir); err != nil {
		return fmt.Errorf("resolve raw_exports_dir: %w", err)
	}
	if c.DBPath != "" && c.DBPath != ":memory:" {
		if c.DBPath, err = filepath.Abs(c.DBPath); err != nil {
			return fmt.Errorf("resolve db_path: %w", err)
		}
	}

	if err := c.validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := decodeYAML(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// decodeYAML decodes a single mapping document into c, rejecting unknown keys.
// An empty document leaves c untouched.
func decodeYAML(data []byte, c *Config) error {
	var doc yaml.Node
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if len(doc.Content) == 0 {
		return nil
	}
	if root := doc.Content[0]; root.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: top level must be a mapping", root.Line)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(c)
}

func (c *Config) applyEnv() error {
	c.RawExportsDir = envOrDefault("RAW_EXPORTS_DIR", c.RawExportsDir)
	c.DBPath = envOrDefault("DUCKDB_PATH", c.DBPath)

	// An unusable window falls back to the default rather than failing.
	if v := os.Getenv("ROLLING_WINDOW_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.RollingWindowDays = n
		} else {
			c.RollingWindowDays = 7
		}
	}

	c.Log.Level = envOrDefault("WATCHDATA_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOrDefault("WATCHDATA_LOG_FORMAT", c.Log.Format)
	c.Server.ListenHost = envOrDefault("WATCHDATA_LISTEN_HOST", c.Server.ListenHost)
	c.Server.Port = envOrDefault("WATCHDATA_PORT", c.Server.Port)
	c.Auth.DBPath = envOrDefault("WATCHDATA_AUTH_DB_PATH", c.Auth.DBPath)
	c.Auth.Pepper = Secret(envOrDefault("WATCHDATA_AUTH_PEPPER", c.Auth.Pepper.Value()))
	c.Auth.BootstrapKey = Secret(envOrDefault("WATCHDATA_BOOTSTRAP_KEY", c.Auth.BootstrapKey.Value()))

	var err error
	if c.Server.MaxConcurrentQuery, err = envInt("WATCHDATA_MAX_CONCURRENT_QUERY", c.Server.MaxConcurrentQuery); err != nil {
		return err
	}
	if c.Import.RescanOnStartup, err = envBool("WATCHDATA_RESCAN_ON_STARTUP", c.Import.RescanOnStartup); err != nil {
		return err
	}
	if c.Import.StaleAfter, err = envDuration("WATCHDATA_STALE_AFTER", c.Import.StaleAfter); err != nil {
		return err
	}
	if c.Import.FlushInterval, err = envDuration("WATCHDATA_FLUSH_INTERVAL", c.Import.FlushInterval); err != nil {
		return err
	}
	if c.Retention.Days, err = envInt("WATCHDATA_RETENTION_DAYS", c.Retention.Days); err != nil {
		return err
	}
	if c.Retention.IntervalMins, err = envInt("WATCHDATA_RETENTION_INTERVAL_MINS", c.Retention.IntervalMins); err != nil {
		return err
	}
	if c.Auth.Enabled, err = envBool("WATCHDATA_AUTH_ENABLED", c.Auth.Enabled); err != nil {
		return err
	}
	return nil
}

// Addr returns the listen address in host:port format.
func (c *Config) Addr() string {
	return c.Server.ListenHost + ":" + c.Server.Port
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}
