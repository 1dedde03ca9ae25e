package config

import (
	"github.com/garyjia/reimburse-approvals/internal/container"
)

// ToContainerConfig converts the loaded configuration to a container.Config.
func (c *Config) ToContainerConfig() *container.Config {
	currencies := append([]string(nil), c.Exchange.WarmCurrencies...)
	return &container.Config{
		Database: container.DatabaseConfig{
			Driver:          c.Database.Driver,
			Path:            c.Database.Path,
			DSN:             c.Database.DSN,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
		},
		Auth: container.AuthConfig{
			JWTSecret: c.Auth.JWTSecret,
			Issuer:    c.Auth.Issuer,
			TokenTTL:  c.Auth.TokenTTL,
		},
		Exchange: container.ExchangeConfig{
			BaseURL:           c.Exchange.BaseURL,
			Timeout:           c.Exchange.Timeout,
			RequestsPerSecond: c.Exchange.RequestsPerSecond,
			CacheTTL:          c.Exchange.CacheTTL,
			WarmInterval:      c.Exchange.WarmInterval,
			WarmCurrencies:    currencies,
		},
		Approvals: container.ApprovalsConfig{
			FallbackEnabled: c.Approvals.FallbackEnabled,
		},
	}
}
