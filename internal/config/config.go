// Package config loads walletd settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

const (
	AppName     = "wallet-session"
	EnvFileName = "config.env"
)

// Config is the runtime configuration of walletd.
type Config struct {
	APIBaseURL string `env:"WALLET_API_BASE_URL,required"`
	TokenKey   string `env:"WALLET_TOKEN_KEY,required"`
	DBPath     string `env:"WALLET_DB_PATH,default=wallet-session.db"`

	RefreshAhead    time.Duration `env:"WALLET_REFRESH_AHEAD,default=60s"`
	RecheckInterval time.Duration `env:"WALLET_RECHECK_INTERVAL,default=1s"`
	RefreshTimeout  time.Duration `env:"WALLET_REFRESH_TIMEOUT,default=30s"`

	ListenAddr string `env:"WALLET_LISTEN_ADDR,default=127.0.0.1:8787"`

	ResendInterval time.Duration `env:"WALLET_RESEND_INTERVAL,default=60s"`
	ResendBurst    int           `env:"WALLET_RESEND_BURST,default=1"`

	LogLevel    string `env:"WALLET_LOG_LEVEL,default=info"`
	SentryDSN   string `env:"WALLET_SENTRY_DSN"`
	Environment string `env:"WALLET_ENVIRONMENT,default=development"`
}

// Dir returns the XDG config directory for the app.
// Uses $XDG_CONFIG_HOME/wallet-session or ~/.config/wallet-session
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", AppName)
}

// Path returns the full path to a file in the config directory.
func Path(filename string) string {
	return filepath.Join(Dir(), filename)
}

// LoadEnvFile loads environment variables from config.env in the config
// directory. Variables already set in the environment win. Errors are ignored
// since the file may not exist.
func LoadEnvFile() {
	_ = godotenv.Load(Path(EnvFileName))
}

// Load decodes the environment into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch {
	case c.APIBaseURL == "":
		return fmt.Errorf("WALLET_API_BASE_URL is not set")
	case c.TokenKey == "":
		return fmt.Errorf("WALLET_TOKEN_KEY is not set")
	case c.RefreshAhead <= 0:
		return fmt.Errorf("WALLET_REFRESH_AHEAD must be positive, got %s", c.RefreshAhead)
	case c.RecheckInterval <= 0:
		return fmt.Errorf("WALLET_RECHECK_INTERVAL must be positive, got %s", c.RecheckInterval)
	case c.RefreshTimeout <= 0:
		return fmt.Errorf("WALLET_REFRESH_TIMEOUT must be positive, got %s", c.RefreshTimeout)
	case c.ResendInterval <= 0:
		return fmt.Errorf("WALLET_RESEND_INTERVAL must be positive, got %s", c.ResendInterval)
	case c.ResendBurst < 1:
		return fmt.Errorf("WALLET_RESEND_BURST must be at least 1, got %d", c.ResendBurst)
	}
	return nil
}
