package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultaflow/dispatcher/config"
	"github.com/consultaflow/dispatcher/internal/domain/model"
)

func validConfig() *config.AppConfig {
	cfg := &config.AppConfig{Services: "http,dispatcher"}
	cfg.HTTP.APIToken = "tok"
	cfg.Providers.Presenca.Enabled = true
	cfg.Providers.Sanitize()
	return cfg
}

func TestValidateServiceConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.AppConfig)
		wantErr string
	}{
		{name: "valid"},
		{
			name:    "unknown service",
			mutate:  func(c *config.AppConfig) { c.Services = "http,scheduler" },
			wantErr: "invalid service configuration",
		},
		{
			name:    "missing token outside dev",
			mutate:  func(c *config.AppConfig) { c.HTTP.APIToken = "" },
			wantErr: "HTTP_API_TOKEN",
		},
		{
			name: "missing token in dev",
			mutate: func(c *config.AppConfig) {
				c.HTTP.APIToken = ""
				c.IsDev = true
			},
		},
		{
			name:    "no provider",
			mutate:  func(c *config.AppConfig) { c.Providers.Presenca.Enabled = false },
			wantErr: "no provider enabled",
		},
		{
			name: "reaper alone needs no provider",
			mutate: func(c *config.AppConfig) {
				c.Services = "reaper"
				c.Providers.Presenca.Enabled = false
			},
		},
		{
			name:    "missing base url",
			mutate:  func(c *config.AppConfig) { c.Providers.Presenca.BaseURL = "" },
			wantErr: "PRESENCA_BASE_URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			err := ValidateServiceConfig(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateServiceConfig_Nil(t *testing.T) {
	require.Error(t, ValidateServiceConfig(nil))
}

func TestGetEnabledServices(t *testing.T) {
	assert.Equal(t, []string{"http", "reaper"}, GetEnabledServices(&config.AppConfig{Services: "reaper, http"}))
	assert.Empty(t, GetEnabledServices(&config.AppConfig{Services: "bogus"}))
	assert.Empty(t, GetEnabledServices(nil))
}

func TestEnvPrefix(t *testing.T) {
	assert.Equal(t, "V8", envPrefix(model.ProviderV8))
	assert.Equal(t, "HANDMAIS", envPrefix(model.ProviderHandmais))
}

func TestInitLogger(t *testing.T) {
	cfg := &config.AppConfig{}
	cfg.Observability.Logging.Level = "debug"
	logger := InitLogger(cfg)
	require.NotNil(t, logger)
	assert.True(t, logger.Handler().Enabled(t.Context(), -4))
}
