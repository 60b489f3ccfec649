// Package config loads docvault settings from an optional YAML file and the environment.
//
// Sources, highest priority first:
//  1. environment variables (DOCVAULT_*);
//  2. the file passed with --config or DOCVAULT_CONFIG;
//  3. built-in defaults.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/habedi/docvault/pkg/validation"
	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds runtime settings for the client.
type Config struct {
	BaseURL        string        `yaml:"base_url" env:"DOCVAULT_BASE_URL" env-default:"https://api.docvault.app"`
	DBPath         string        `yaml:"db_path" env:"DOCVAULT_DB_PATH"`
	KeyFile        string        `yaml:"key_file" env:"DOCVAULT_KEY_FILE"`
	Passphrase     string        `yaml:"passphrase" env:"DOCVAULT_PASSPHRASE"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"DOCVAULT_REQUEST_TIMEOUT" env-default:"30s"`
	RefreshTTL     time.Duration `yaml:"refresh_ttl" env:"DOCVAULT_REFRESH_TTL" env-default:"720h"`
	ExpirySkew     time.Duration `yaml:"expiry_skew" env:"DOCVAULT_EXPIRY_SKEW" env-default:"0s"`
	RevokeOnLogout bool          `yaml:"revoke_on_logout" env:"DOCVAULT_REVOKE_ON_LOGOUT" env-default:"false"`
	Threads        int           `yaml:"threads" env:"DOCVAULT_THREADS" env-default:"4"`
	DownloadRate   int64         `yaml:"download_rate" env:"DOCVAULT_DOWNLOAD_RATE" env-default:"0"`
}

// DefaultDir is where docvault keeps its database and key file unless configured otherwise.
var DefaultDir = filepath.Join(os.Getenv("HOME"), ".docvault")

// Load reads the configuration. An empty path means environment only,
// unless DOCVAULT_CONFIG points at a file.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		path = os.Getenv("DOCVAULT_CONFIG")
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read env: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = filepath.Join(DefaultDir, "session.db")
	}
	if c.KeyFile == "" {
		c.KeyFile = filepath.Join(DefaultDir, "vault.key")
	}
}

// Validate checks the values that would otherwise fail late and confusingly.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute URL, got %q", c.BaseURL)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.RefreshTTL <= 0 {
		return fmt.Errorf("refresh_ttl must be positive, got %s", c.RefreshTTL)
	}
	if c.ExpirySkew < 0 {
		return fmt.Errorf("expiry_skew cannot be negative, got %s", c.ExpirySkew)
	}
	if err := validation.ValidateRateLimit(c.DownloadRate); err != nil {
		return fmt.Errorf("download_rate: %w", err)
	}
	return validation.ValidateThreadCount(c.Threads)
}
