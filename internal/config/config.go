package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds settings for the smart alarm server process.
type Config struct {
	// ListenAddress is the address the HTTP device API listens on.
	ListenAddress string `yaml:"listen_addr"`
	// DatabasePath is the path to the SQLite database file.
	DatabasePath string `yaml:"database_path"`
	// TelegramToken is the bot API token. When empty, the Telegram bot and
	// outbound notifications are disabled and alarms are confirmed via the
	// device only.
	TelegramToken string `yaml:"telegram_token"`
	// TickPeriod is how often the scheduler checks for due and stale alarms.
	TickPeriod time.Duration `yaml:"tick_period"`
	// RingTimeout is how long an alarm may ring before it expires.
	RingTimeout time.Duration `yaml:"ring_timeout"`
	// NotifyTimeout bounds a single notification delivery attempt so a slow
	// Telegram call cannot stall the scheduler.
	NotifyTimeout time.Duration `yaml:"notify_timeout"`
	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
}

const (
	// DefaultConfigFilename is the default filename for server settings.
	DefaultConfigFilename = "smart-alarm-settings.yaml"

	// DefaultListenAddress is the default HTTP listen address.
	DefaultListenAddress = ":8000"

	// DefaultDatabaseFilename is the default SQLite database filename.
	DefaultDatabaseFilename = "smart-alarm.db"

	// DefaultTickPeriod is the default scheduler tick period.
	DefaultTickPeriod = time.Second

	// DefaultRingTimeout is how long an alarm rings before expiring.
	DefaultRingTimeout = 10 * time.Minute

	// DefaultNotifyTimeout is the default bound on one delivery attempt.
	DefaultNotifyTimeout = 10 * time.Second

	// DefaultFilePermissions is the default file permission for config and data files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errListenAddressRequired is returned when the listen address is missing.
	errListenAddressRequired = errors.New("listen address must be provided")
)

// Load reads configuration from the provided path and validates essential fields.
// A missing file yields defaults so the server can start without a config file.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}

		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions: the file may carry the bot token.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	return &Config{
		ListenAddress: DefaultListenAddress,
		DatabasePath:  DefaultDatabaseFilename,
		TickPeriod:    DefaultTickPeriod,
		RingTimeout:   DefaultRingTimeout,
		NotifyTimeout: DefaultNotifyTimeout,
	}
}

// Validate checks the provided settings for required fields and fills defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.ListenAddress == "" {
		return errListenAddressRequired
	}

	if _, err := net.ResolveTCPAddr("tcp", cfg.ListenAddress); err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}

	if cfg.DatabasePath == "" {
		cfg.DatabasePath = DefaultDatabaseFilename
	}

	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = DefaultTickPeriod
	}

	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = DefaultRingTimeout
	}

	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = DefaultNotifyTimeout
	}

	return nil
}
