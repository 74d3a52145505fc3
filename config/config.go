package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Database and lock store configuration
//   - http.go: HTTP server configuration
//   - services.go: Service mode, dispatcher and reaper configuration
//   - providers.go: Per-provider endpoints, quota and workflow settings
//   - observability.go: Metrics and logging
type AppConfig struct {
	// IsDev controls development mode behavior (text logs, optional API token).
	// Set DEV=true or APP_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Service mode configuration
	Services string `env:"SERVICES" envDefault:"http"`

	// Dispatcher configuration
	Dispatcher DispatcherConfig

	// Reaper configuration
	Reaper ReaperConfig

	// Provider profiles
	Providers ProvidersConfig

	// CredentialKey encrypts account secrets and tokens at rest. A 64-char hex
	// string is used as-is; anything else is hashed to 32 bytes. Empty stores
	// credentials with a reversible marker only.
	CredentialKey string `env:"CREDENTIAL_KEY"`

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Postgres.Sanitize()
	c.HTTP.Sanitize()
	c.Dispatcher.Sanitize()
	c.Reaper.Sanitize()
	c.Providers.Sanitize()
	c.Observability.Sanitize()
	c.CredentialKey = strings.TrimSpace(c.CredentialKey)

	c.detectDevMode()
}

// detectDevMode checks both DEV and APP_ENV environment variables.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		appEnv := strings.ToLower(os.Getenv("APP_ENV"))
		c.IsDev = appEnv == "development" || appEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsHTTPServerEnabled returns true if the HTTP server service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeHTTP]
}

// IsDispatcherEnabled returns true if scheduled runs are enabled.
func (c *AppConfig) IsDispatcherEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeDispatcher]
}

// IsReaperEnabled returns true if the reaper service is enabled.
func (c *AppConfig) IsReaperEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeReaper]
}
