package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/zrouter/upgrade/pkg/flash"
)

// Config holds all application configuration
type Config struct {
	// Flash run
	File       string `mapstructure:"file"`
	Device     string `mapstructure:"device"`
	BlockSize  string `mapstructure:"blocksize"`
	Quiet      bool   `mapstructure:"quiet"`
	SkipReboot bool   `mapstructure:"skip-reboot"`
	SkipSync   bool   `mapstructure:"skip-sync"`
	SkipVerify bool   `mapstructure:"skip-verify"`

	// Delay before reboot when the device is not read back
	SettleDelay time.Duration `mapstructure:"settle-delay"`

	// Database paths
	LedgerPath string `mapstructure:"ledger-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`

	LogLevel string `mapstructure:"log-level"`

	// Security limits
	MaxImageSize int64 `mapstructure:"max-image-size"`
	MinBlockSize int   `mapstructure:"min-block-size"`

	// FSM configuration
	FSMMaxRetries int `mapstructure:"fsm-max-retries"`
}

// SetDefaults registers the default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("file", "")
	v.SetDefault("quiet", false)
	v.SetDefault("skip-reboot", false)
	v.SetDefault("skip-sync", false)
	v.SetDefault("skip-verify", false)
	v.SetDefault("device", flash.DefaultDevicePath)
	v.SetDefault("blocksize", fmt.Sprintf("%#x", flash.DefaultBlockSize))
	v.SetDefault("settle-delay", flash.DefaultSettleDelay)
	v.SetDefault("ledger-path", "/var/db/upgrade/ledger.db")
	v.SetDefault("fsm-db-path", "/var/db/upgrade/fsm")
	v.SetDefault("log-level", "warn")
	v.SetDefault("max-image-size", 512*1024*1024)
	v.SetDefault("min-block-size", 512)
	v.SetDefault("fsm-max-retries", 3)
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load for a specific viper instance
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	// Environment variables (will be UPGRADE_DEVICE, etc.)
	v.SetEnvPrefix("UPGRADE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.upgrade")
	v.AddConfigPath("/etc/upgrade")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		slog.Info("config_file_loaded", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the settings shared by every command
func (c *Config) Validate() error {
	if c.LedgerPath == "" {
		return fmt.Errorf("ledger-path cannot be empty")
	}
	if c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty")
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("settle-delay must be non-negative")
	}
	if c.MaxImageSize <= 0 {
		return fmt.Errorf("max-image-size must be positive")
	}
	if c.MinBlockSize <= 0 {
		return fmt.Errorf("min-block-size must be positive")
	}
	if c.FSMMaxRetries < 0 {
		return fmt.Errorf("fsm-max-retries must be non-negative")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses the configured log level
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("invalid log-level %q", c.LogLevel)
	}
	return level, nil
}

// FlashConfig maps the settings onto a flash run. Verification is only
// enabled when the build supports it. A blocksize that does not parse yields
// a zero block size, which the flasher reports as an allocation failure.
func (c *Config) FlashConfig(caps flash.Capabilities) flash.Config {
	blockSize, err := ParseBlockSize(c.BlockSize)
	if err != nil {
		slog.Warn("config_blocksize_invalid", "blocksize", c.BlockSize, "error", err)
	}

	return flash.Config{
		SourcePath:  c.File,
		DevicePath:  c.Device,
		BlockSize:   blockSize,
		Verify:      caps.Verification && !c.SkipVerify,
		Sync:        !c.SkipSync,
		Reboot:      !c.SkipReboot,
		Silent:      c.Quiet,
		SettleDelay: c.SettleDelay,
	}
}

// ParseBlockSize accepts decimal, 0x hex and leading-zero octal sizes.
func ParseBlockSize(s string) (int, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid blocksize %q: %w", s, err)
	}
	return int(n), nil
}
