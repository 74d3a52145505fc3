package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/consultaflow/dispatcher/config"
)

// InitLogger initializes the structured logger. Dev mode logs text, everything
// else logs JSON.
func InitLogger(cfg *config.AppConfig) *slog.Logger {
	level := slog.LevelInfo
	isDev := false
	if cfg != nil {
		isDev = cfg.IsDev
		if err := level.UnmarshalText([]byte(cfg.Observability.Logging.Level)); err != nil {
			level = slog.LevelInfo
		}
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if isDev {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (config.AppConfig, error) {
	// Load .env file if it exists (development)
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return config.AppConfig{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg config.AppConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sanitize()
	return cfg, nil
}

// ValidateServiceConfig checks that the enabled services can start with cfg.
func ValidateServiceConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("service config is required")
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("invalid service configuration: %w", err)
	}

	if len(services) == 0 {
		return errors.New("no services enabled")
	}
	if services[config.ServiceModeHTTP] && cfg.HTTP.APIToken == "" && !cfg.IsDev {
		return errors.New("HTTP_API_TOKEN is required outside dev mode")
	}
	if (services[config.ServiceModeHTTP] || services[config.ServiceModeDispatcher]) && len(cfg.Providers.Enabled()) == 0 {
		return errors.New("no provider enabled")
	}
	for _, p := range cfg.Providers.Enabled() {
		if cfg.Providers.For(p).BaseURL == "" {
			return fmt.Errorf("provider %s is enabled without %s_BASE_URL", p, envPrefix(p))
		}
	}

	return nil
}

// GetEnabledServices returns a list of enabled service names.
func GetEnabledServices(cfg *config.AppConfig) []string {
	if cfg == nil {
		return []string{}
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		// Return empty list on error - validation will catch this
		return []string{}
	}

	enabled := make([]string, 0, len(services))
	for _, mode := range config.ValidServiceModes() {
		if services[mode] {
			enabled = append(enabled, string(mode))
		}
	}
	return enabled
}
