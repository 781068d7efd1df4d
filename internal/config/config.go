// Package config loads archiver settings from the environment and .env file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultOutputDirName is the per-user archive directory under the home directory.
const DefaultOutputDirName = "EventLogArchives"

// Limits for XZ_DICT_CAP_MB. 1536 MiB is the largest LZMA2 dictionary xz accepts.
const (
	minDictCapMB = 1
	maxDictCapMB = 1536
)

var logLevels = []string{"debug", "info", "warn", "error"}

var telegramTokenRegex = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// CLIOptions holds command-line overrides
type CLIOptions struct {
	OutputPath string // archive [output_path] argument
	LogLevel   string // from --verbose / --quiet
	NoDatabase bool   // --no-ledger
}

// Config holds all application configuration
type Config struct {
	// Archive output directory, resolved to an absolute path
	OutputPath string

	// xz dictionary size in MiB
	XZDictCapMB int

	// Telegram (optional: reports are sent only when a token is set)
	TelegramBotToken       string
	TelegramArchiveChannel int64
	TelegramAlertsChannel  int64

	// Application
	LogLevel string
	LogDir   string

	// Ledger
	EnableDatabase      bool
	DatabasePath        string
	LedgerRetentionDays int

	// Proxy (used for Telegram requests)
	HTTPProxy  string
	HTTPSProxy string
}

// Load reads the configuration from the environment and an optional .env
// file in the working directory.
func Load() (*Config, error) {
	return LoadWithCLI(nil)
}

// LoadWithCLI is Load with command line overrides applied on top. The output
// path is resolved to an absolute directory before validation.
func LoadWithCLI(cli *CLIOptions) (*Config, error) {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// godotenv sets OS env vars from .env, which viper then reads
	_ = godotenv.Load()

	setDefaults()

	config := &Config{
		OutputPath:             viper.GetString("EVTX_OUTPUT_PATH"),
		XZDictCapMB:            viper.GetInt("XZ_DICT_CAP_MB"),
		TelegramBotToken:       viper.GetString("TELEGRAM_BOT_TOKEN"),
		TelegramArchiveChannel: viper.GetInt64("TELEGRAM_CHANNEL_ARCHIVE_ID"),
		TelegramAlertsChannel:  viper.GetInt64("TELEGRAM_CHANNEL_ALERTS_ID"),
		LogLevel:               viper.GetString("LOG_LEVEL"),
		LogDir:                 viper.GetString("LOG_DIR"),
		EnableDatabase:         viper.GetBool("ENABLE_DATABASE"),
		DatabasePath:           viper.GetString("DATABASE_PATH"),
		LedgerRetentionDays:    viper.GetInt("LEDGER_RETENTION_DAYS"),
		HTTPProxy:              viper.GetString("HTTP_PROXY"),
		HTTPSProxy:             viper.GetString("HTTPS_PROXY"),
	}

	if cli != nil {
		if cli.OutputPath != "" {
			config.OutputPath = cli.OutputPath
		}
		if cli.LogLevel != "" {
			config.LogLevel = cli.LogLevel
		}
		if cli.NoDatabase {
			config.EnableDatabase = false
		}
	}

	if config.OutputPath == "" {
		defaultPath, err := DefaultOutputPath()
		if err != nil {
			return nil, err
		}
		config.OutputPath = defaultPath
	}

	outputPath, err := ExpandPath(config.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("invalid output path: %w", err)
	}
	config.OutputPath = outputPath

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func setDefaults() {
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_DIR", "./logs")
	viper.SetDefault("ENABLE_DATABASE", true)
	viper.SetDefault("DATABASE_PATH", "./data/archive-ledger.db")
	viper.SetDefault("LEDGER_RETENTION_DAYS", 90)
	viper.SetDefault("XZ_DICT_CAP_MB", 64)
}

// DefaultOutputPath returns ~/EventLogArchives for the current user.
func DefaultOutputPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot resolve home directory for the default output path: %w", err)
	}
	return filepath.Join(home, DefaultOutputDirName), nil
}

// ExpandPath expands a leading ~ and makes path absolute.
func ExpandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}

// Validate checks value ranges and the Telegram settings.
func (c *Config) Validate() error {
	if c.OutputPath == "" {
		return fmt.Errorf("EVTX_OUTPUT_PATH must not be empty")
	}

	if c.XZDictCapMB < minDictCapMB || c.XZDictCapMB > maxDictCapMB {
		return fmt.Errorf("XZ_DICT_CAP_MB must be between %d and %d", minDictCapMB, maxDictCapMB)
	}

	if err := c.validateTelegram(); err != nil {
		return err
	}

	if !slices.Contains(logLevels, strings.ToLower(c.LogLevel)) {
		return fmt.Errorf("LOG_LEVEL must be one of: %s", strings.Join(logLevels, ", "))
	}

	if c.EnableDatabase {
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required when ENABLE_DATABASE=true")
		}
		if c.LedgerRetentionDays < 1 {
			return fmt.Errorf("LEDGER_RETENTION_DAYS must be at least 1")
		}
	}

	return nil
}

// validateTelegram checks the optional Telegram settings. A token turns
// reporting on and then requires an archive channel.
func (c *Config) validateTelegram() error {
	if c.TelegramBotToken == "" {
		if c.TelegramArchiveChannel != 0 || c.TelegramAlertsChannel != 0 {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN is required when a Telegram channel is configured")
		}
		return nil
	}

	if !telegramTokenRegex.MatchString(c.TelegramBotToken) {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN has invalid format (expected: 'number:token')")
	}

	if c.TelegramArchiveChannel == 0 {
		return fmt.Errorf("TELEGRAM_CHANNEL_ARCHIVE_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	if err := checkChannelID("TELEGRAM_CHANNEL_ARCHIVE_ID", c.TelegramArchiveChannel); err != nil {
		return err
	}
	if c.TelegramAlertsChannel != 0 {
		return checkChannelID("TELEGRAM_CHANNEL_ALERTS_ID", c.TelegramAlertsChannel)
	}
	return nil
}

// checkChannelID accepts supergroup and channel IDs, which start with -100.
func checkChannelID(key string, id int64) error {
	if id > -100 {
		return fmt.Errorf("%s must be a supergroup/channel ID (starts with -100)", key)
	}
	return nil
}

// TelegramEnabled reports whether archive reports should be sent
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != ""
}

// HasAlertsChannel reports whether failed runs also go to a separate channel.
func (c *Config) HasAlertsChannel() bool {
	return c.TelegramAlertsChannel != 0
}

// XZDictCapBytes returns the xz dictionary size in bytes
func (c *Config) XZDictCapBytes() int {
	return c.XZDictCapMB << 20
}

// GetProxyURL picks HTTPS_PROXY for https requests when set, HTTP_PROXY
// otherwise.
func (c *Config) GetProxyURL(isHTTPS bool) string {
	if isHTTPS && c.HTTPSProxy != "" {
		return c.HTTPSProxy
	}
	if c.HTTPProxy != "" {
		return c.HTTPProxy
	}
	return ""
}
