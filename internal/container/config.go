// Package container wires the approval services, their storage and the
// background workers, and owns their lifecycle.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container.
type Config struct {
	Database  DatabaseConfig
	Auth      AuthConfig
	Exchange  ExchangeConfig
	Approvals ApprovalsConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver is sqlite3 or pgx
	Driver string

	// Path to the SQLite database file
	Path string

	// DSN is the Postgres connection string
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	TokenTTL  time.Duration
}

// ExchangeConfig holds the rate API client, cache and warmer settings.
type ExchangeConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	CacheTTL          time.Duration
	WarmInterval      time.Duration

	// WarmCurrencies are the base currencies kept fresh by the warmer.
	// Empty disables the warmer.
	WarmCurrencies []string
}

// ApprovalsConfig holds approval protocol switches.
type ApprovalsConfig struct {
	FallbackEnabled bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          "sqlite3",
			Path:            "data/approvals.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Auth: AuthConfig{
			Issuer:   "reimburse-approvals",
			TokenTTL: 24 * time.Hour,
		},
		Exchange: ExchangeConfig{
			BaseURL:           "https://api.exchangerate-api.com/v4/latest",
			Timeout:           10 * time.Second,
			RequestsPerSecond: 5,
			CacheTTL:          time.Hour,
			WarmInterval:      30 * time.Minute,
			WarmCurrencies:    []string{"USD", "EUR", "GBP"},
		},
		Approvals: ApprovalsConfig{FallbackEnabled: true},
	}
}

// Validate checks the fields the container cannot start without.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required")
		}
	case "pgx":
		if c.Database.DSN == "" {
			return fmt.Errorf("database dsn is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	if c.Exchange.CacheTTL <= 0 {
		return fmt.Errorf("exchange cache ttl must be positive")
	}
	return nil
}
