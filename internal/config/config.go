// Package config loads jtime settings from the config file, the environment
// and command line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JohanCodinha/jtime/internal/logger"
	"github.com/JohanCodinha/jtime/internal/sync"
)

// EnvPrefix prefixes every environment override, e.g. JTIME_LOG_LEVEL.
const EnvPrefix = "JTIME"

// Config holds all configuration parameters.
type Config struct {
	Database string         `mapstructure:"database"`
	LogLevel string         `mapstructure:"log_level"`
	LogFile  string         `mapstructure:"log_file"`
	Issues   IssuesConfig   `mapstructure:"issues"`
	Worklogs WorklogsConfig `mapstructure:"worklogs"`
	Submit   SubmitConfig   `mapstructure:"submit"`
	HTTP     HTTPConfig     `mapstructure:"http"`

	// Path is the config file that was read or created.
	Path string `mapstructure:"-"`
}

// IssuesConfig controls issue refresh and listing.
type IssuesConfig struct {
	Limit   int      `mapstructure:"limit"`
	Queries []string `mapstructure:"queries"`
}

// WorklogsConfig controls worklog listing.
type WorklogsConfig struct {
	Limit int `mapstructure:"limit"`
}

// SubmitConfig controls pending worklog submission.
type SubmitConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// HTTPConfig controls the remote client.
type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// flagKeys maps command line flag names to config keys.
var flagKeys = map[string]string{
	"database":  "database",
	"log-level": "log_level",
	"log-file":  "log_file",
}

// DefaultPath returns $XDG_CONFIG_HOME/jtime/config.yaml.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory: %w", err)
	}
	return filepath.Join(dir, "jtime", "config.yaml"), nil
}

// DefaultDatabasePath returns $XDG_DATA_HOME/jtime/jtime.db, falling back to
// ~/.local/share when XDG_DATA_HOME is unset.
func DefaultDatabasePath() (string, error) {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "jtime", "jtime.db"), nil
}

func setDefaults(v *viper.Viper) error {
	dbPath, err := DefaultDatabasePath()
	if err != nil {
		return err
	}
	v.SetDefault("database", dbPath)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("issues.limit", 50)
	v.SetDefault("issues.queries", sync.DefaultQueries)
	v.SetDefault("worklogs.limit", 50)
	v.SetDefault("submit.concurrency", 4)
	v.SetDefault("http.timeout", "30s")
	return nil
}

// Load reads path (DefaultPath when empty), creating it with defaults when
// missing, then applies JTIME_* environment variables and any changed flags.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	v := viper.New()
	if err := setDefaults(v); err != nil {
		return nil, err
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := v.WriteConfigAs(path); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
		logger.Debug("config: created default config", "path", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Path = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("invalid config: database path is empty")
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Issues.Limit <= 0 {
		return fmt.Errorf("invalid config: issues.limit must be positive, got %d", c.Issues.Limit)
	}
	if len(c.Issues.Queries) == 0 {
		return fmt.Errorf("invalid config: issues.queries is empty")
	}
	if c.Worklogs.Limit <= 0 {
		return fmt.Errorf("invalid config: worklogs.limit must be positive, got %d", c.Worklogs.Limit)
	}
	if c.Submit.Concurrency <= 0 {
		return fmt.Errorf("invalid config: submit.concurrency must be positive, got %d", c.Submit.Concurrency)
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("invalid config: http.timeout must be positive, got %s", c.HTTP.Timeout)
	}
	return nil
}
