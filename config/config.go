/*
config.go - Runtime configuration

PURPOSE:
  Reads the server configuration from FEES_* environment variables.
  Command-line flags in cmd/server override Addr and DBPath.
*/
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/warp/fee-tracker/billing"
)

// Config holds runtime configuration for the fee tracker.
type Config struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	DBPath          string        `envconfig:"DB_PATH" default:"fees.db"`
	DocumentsDir    string        `envconfig:"DOCUMENTS_DIR" default:"./documents"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:5173,http://localhost:8080"`
	// RateLimit is requests per minute per client IP. Zero disables it.
	RateLimit int `envconfig:"RATE_LIMIT" default:"300"`

	SweepInterval     time.Duration `envconfig:"SWEEP_INTERVAL" default:"1h"`
	NeverPaidLookback int           `envconfig:"NEVER_PAID_LOOKBACK" default:"0"`
	MaxUploadBytes    int64         `envconfig:"MAX_UPLOAD_BYTES" default:"20971520"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("fees", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return errors.New("FEES_ADDR must not be empty")
	case c.DBPath == "":
		return errors.New("FEES_DB_PATH must not be empty")
	case c.LogFormat != "json" && c.LogFormat != "console":
		return fmt.Errorf("FEES_LOG_FORMAT must be json or console, got %q", c.LogFormat)
	case c.RateLimit < 0:
		return errors.New("FEES_RATE_LIMIT cannot be negative")
	case c.SweepInterval <= 0:
		return errors.New("FEES_SWEEP_INTERVAL must be positive")
	case c.NeverPaidLookback < 0:
		return errors.New("FEES_NEVER_PAID_LOOKBACK cannot be negative")
	case c.NeverPaidLookback > billing.MaxNeverPaidLookback:
		return fmt.Errorf("FEES_NEVER_PAID_LOOKBACK cannot exceed %d", billing.MaxNeverPaidLookback)
	case c.MaxUploadBytes <= 0:
		return errors.New("FEES_MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}
