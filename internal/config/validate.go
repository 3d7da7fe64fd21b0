package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// KeyPrefix is the prefix every API key carries.
const KeyPrefix = "wd_"

func (c *Config) validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}

	if err := c.validateLog(); err != nil {
		return err
	}

	if err := c.validateNetwork(); err != nil {
		return err
	}

	if err := c.validateImport(); err != nil {
		return err
	}

	if err := c.validateRetention(); err != nil {
		return err
	}

	if err := c.validateAuth(); err != nil {
		return err
	}

	return nil
}

func (c *Config) validatePaths() error {
	if c.RawExportsDir == "" {
		return fmt.Errorf("raw_exports_dir is required")
	}

	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}

	if c.RollingWindowDays < 1 {
		return fmt.Errorf("rolling_window_days must be at least 1, got %d", c.RollingWindowDays)
	}

	return nil
}

func (c *Config) validateLog() error {
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be 'text' or 'json', got %q", c.Log.Format)
	}

	return nil
}

func (c *Config) validateNetwork() error {
	port, err := strconv.Atoi(c.Server.Port)
	if err != nil {
		return fmt.Errorf("server.port must be a valid integer: %w", err)
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	// Loopback for local use; 0.0.0.0/:: for containers where the network
	// boundary is enforced externally.
	validHosts := map[string]bool{
		"127.0.0.1": true,
		"::1":       true,
		"localhost": true,
		"0.0.0.0":   true,
		"::":        true,
	}
	if !validHosts[c.Server.ListenHost] {
		return fmt.Errorf("server.listen_host must be a loopback address or 0.0.0.0/:: for containers (got %q)", c.Server.ListenHost)
	}

	if c.Server.MaxConcurrentQuery < 1 || c.Server.MaxConcurrentQuery > 64 {
		return fmt.Errorf("server.max_concurrent_query must be between 1 and 64")
	}

	return nil
}

func (c *Config) validateImport() error {
	if c.Import.StaleAfter <= 0 {
		return fmt.Errorf("import.stale_after must be positive")
	}

	if c.Import.FlushInterval <= 0 {
		return fmt.Errorf("import.flush_interval must be positive")
	}

	if c.Import.FlushRecordsSeen < 1 || c.Import.FlushBytes < 1 || c.Import.FlushParsed < 1 {
		return fmt.Errorf("import flush thresholds must be positive")
	}

	if c.Import.QueueHighWater < 2 {
		return fmt.Errorf("import.queue_high_water must be at least 2, got %d", c.Import.QueueHighWater)
	}

	return nil
}

func (c *Config) validateRetention() error {
	if c.Retention.Days < 0 {
		return fmt.Errorf("retention.days must not be negative")
	}

	if c.Retention.Days > 0 && c.Retention.IntervalMins < 1 {
		return fmt.Errorf("retention.interval_mins must be at least 1 when retention is enabled")
	}

	return nil
}

func (c *Config) validateAuth() error {
	if !c.Auth.Enabled {
		return nil
	}

	if c.Auth.DBPath == "" {
		return fmt.Errorf("auth.db_path is required when auth is enabled")
	}

	if len(c.Auth.Pepper.Value()) < 16 {
		return fmt.Errorf("auth.pepper must be at least 16 characters when auth is enabled")
	}

	if key := c.Auth.BootstrapKey.Value(); key != "" {
		if !strings.HasPrefix(key, KeyPrefix) || len(key) < len(KeyPrefix)+16 {
			return fmt.Errorf("auth.bootstrap_key must start with %q and carry at least 16 characters after it", KeyPrefix)
		}
	}

	return nil
}
