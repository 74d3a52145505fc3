package config

import (
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultaflow/dispatcher/internal/domain/allocation"
	"github.com/consultaflow/dispatcher/internal/domain/model"
	"github.com/consultaflow/dispatcher/internal/domain/quota"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:     "single service - http",
			input:    "http",
			expected: map[ServiceMode]bool{ServiceModeHTTP: true},
		},
		{
			name:     "single service - dispatcher",
			input:    "dispatcher",
			expected: map[ServiceMode]bool{ServiceModeDispatcher: true},
		},
		{
			name:  "all services with spaces",
			input: " http , dispatcher , reaper ",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:       true,
				ServiceModeDispatcher: true,
				ServiceModeReaper:     true,
			},
		},
		{
			name:     "duplicate services",
			input:    "http,http,reaper",
			expected: map[ServiceMode]bool{ServiceModeHTTP: true, ServiceModeReaper: true},
		},
		{name: "empty string", input: "", expectError: true},
		{name: "only commas", input: " , ,", expectError: true},
		{name: "unknown service", input: "http,scheduler", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServices(tt.input)
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestConfig_ServiceEnabledMethods(t *testing.T) {
	tests := []struct {
		name       string
		services   string
		http       bool
		dispatcher bool
		reaper     bool
	}{
		{name: "default - http only", services: "http", http: true},
		{name: "dispatcher and reaper", services: "dispatcher,reaper", dispatcher: true, reaper: true},
		{name: "all services", services: "http,dispatcher,reaper", http: true, dispatcher: true, reaper: true},
		{name: "invalid config disables everything", services: "invalid-service"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{Services: tt.services}
			assert.Equal(t, tt.http, cfg.IsHTTPServerEnabled())
			assert.Equal(t, tt.dispatcher, cfg.IsDispatcherEnabled())
			assert.Equal(t, tt.reaper, cfg.IsReaperEnabled())
		})
	}
}

func TestValidServiceModes(t *testing.T) {
	assert.Equal(t,
		[]ServiceMode{ServiceModeHTTP, ServiceModeDispatcher, ServiceModeReaper},
		ValidServiceModes(),
	)
}

func TestAppConfig_ParseDefaults(t *testing.T) {
	var cfg AppConfig
	require.NoError(t, env.Parse(&cfg))
	cfg.Sanitize()

	assert.Equal(t, "localhost", cfg.Postgres.Host)
	assert.Equal(t, "localhost:6379", cfg.Redis.URI)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 2*time.Hour, cfg.Reaper.ProcessingMaxAge)
	assert.Equal(t, []model.Provider{model.ProviderV8, model.ProviderPresenca, model.ProviderHandmais}, cfg.Providers.Enabled())
}

func TestProvidersConfig_Defaults(t *testing.T) {
	var cfg ProvidersConfig
	require.NoError(t, env.Parse(&cfg))
	cfg.Sanitize()

	v8 := cfg.For(model.ProviderV8)
	assert.Equal(t, allocation.StrategyTenantRoundRobin, v8.Strategy)
	assert.Equal(t, quota.IncrementOnAccept, v8.Increment)
	assert.Equal(t, time.Hour, v8.ResetWindow)
	assert.Equal(t, 5, v8.MaxAttempts)
	assert.Equal(t, 3*time.Second, v8.PollInterval)
	assert.True(t, v8.ShouldRequeuePending())
	assert.Equal(t, model.JobStatusConsulted, v8.SuccessStatus)
	require.NotNil(t, v8.AccessPolicy())
	assert.Equal(t, int64(13), v8.AccessPolicy().UserAccounts[4354])

	presenca := cfg.For(model.ProviderPresenca)
	assert.Equal(t, allocation.StrategyPinnedClaim, presenca.Strategy)
	assert.Equal(t, model.DuplicateMerge, presenca.Duplicates)
	assert.Equal(t, model.JobStatusCompleted, presenca.SuccessStatus)
	assert.True(t, presenca.QuotaPolicy().ClampIncrement)
	assert.Equal(t, quota.IncrementAlways, presenca.QuotaPolicy().Increment)
	assert.Nil(t, presenca.AccessPolicy())
	assert.Equal(t, 4, presenca.MaxParallelAccounts)

	handmais := cfg.For(model.ProviderHandmais)
	assert.Equal(t, allocation.StrategyForcedRoundRobin, handmais.Strategy)
	assert.Equal(t, 500, handmais.QuotaPolicy().DefaultLimit)
	assert.Equal(t, 24*time.Hour, handmais.ResetWindow)
	assert.Len(t, handmais.ApprovalServiceURLs, 3)
	require.NotNil(t, handmais.RequireBirthDate)
	assert.True(t, *handmais.RequireBirthDate)

	assert.Nil(t, cfg.For(model.Provider("nope")))
}

func TestProvidersConfig_EnvOverrides(t *testing.T) {
	t.Setenv("V8_POLL_INTERVAL", "10s")
	t.Setenv("V8_STRATEGY", "forced_round_robin")
	t.Setenv("V8_REQUEUE_PENDING", "false")
	t.Setenv("V8_ACCESS_USER_ACCOUNTS", "7:70,8:80")
	t.Setenv("V8_ACCESS_RESERVED", "70,80")
	t.Setenv("HANDMAIS_ENABLED", "false")
	t.Setenv("PRESENCA_BASE_URL", "http://presenca.local/")
	t.Setenv("PRESENCA_MAX_PARALLEL_ACCOUNTS", "99")

	var cfg ProvidersConfig
	require.NoError(t, env.Parse(&cfg))
	cfg.Sanitize()

	assert.Equal(t, 10*time.Second, cfg.V8.PollInterval)
	assert.Equal(t, allocation.StrategyForcedRoundRobin, cfg.V8.Strategy)
	assert.False(t, cfg.V8.ShouldRequeuePending())
	assert.Equal(t, map[int64]int64{7: 70, 8: 80}, cfg.V8.Access.UserAccounts)
	assert.Equal(t, int64(0), cfg.V8.Access.SuperuserID, "explicit tables replace the defaults")

	assert.Equal(t, "http://presenca.local", cfg.Presenca.BaseURL)
	assert.Equal(t, 32, cfg.Presenca.MaxParallelAccounts)

	assert.Equal(t, []model.Provider{model.ProviderV8, model.ProviderPresenca}, cfg.Enabled())
}

func TestProvidersConfig_InvalidStrategyRejected(t *testing.T) {
	t.Setenv("V8_STRATEGY", "random")

	var cfg ProvidersConfig
	require.Error(t, env.Parse(&cfg))
}

func TestReaperConfig_Sanitize(t *testing.T) {
	cfg := ReaperConfig{Interval: time.Second, ProcessingMaxAge: time.Minute, BatchSize: 0, Message: "  x "}
	cfg.Sanitize()
	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, 10*time.Minute, cfg.ProcessingMaxAge)
	assert.Equal(t, 1, cfg.BatchSize)
	assert.Equal(t, "x", cfg.Message)

	cfg.BatchSize = 50000
	cfg.Sanitize()
	assert.Equal(t, 10000, cfg.BatchSize)
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{Enabled: true, StatsdAddress: " ", Prefix: " . "}
	cfg.Sanitize()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, defaultMetricsPrefix, cfg.Prefix)

	cfg = ObservabilityMetricsConfig{Enabled: true, StatsdAddress: " statsd:1234 ", Prefix: "consult."}
	cfg.Sanitize()
	assert.True(t, cfg.IsEnabled())
	assert.Equal(t, "statsd:1234", cfg.StatsdAddress)
	assert.Equal(t, "consult", cfg.Prefix)
}

func TestLoggingConfig_Sanitize(t *testing.T) {
	cfg := LoggingConfig{Level: " DEBUG "}
	cfg.Sanitize()
	assert.Equal(t, "debug", cfg.Level)

	cfg.Level = "verbose"
	cfg.Sanitize()
	assert.Equal(t, "info", cfg.Level)
}

func TestHTTPConfig_Sanitize(t *testing.T) {
	cfg := HTTPConfig{APIToken: " tok ", WriteTimeout: time.Second, ListLimit: 0}
	cfg.Sanitize()
	assert.Equal(t, "tok", cfg.APIToken)
	assert.Equal(t, time.Minute, cfg.WriteTimeout)
	assert.Equal(t, 1000, cfg.ListLimit)
	assert.Equal(t, int64(1024), cfg.MaxBodyBytes)
}
