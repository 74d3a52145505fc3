package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the trigger and listing API.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeDispatcher runs periodic consult runs for every enabled provider.
	ServiceModeDispatcher ServiceMode = "dispatcher"
	// ServiceModeReaper runs the stale processing sweep.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeDispatcher,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeDispatcher, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, dispatcher, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// DispatcherConfig contains scheduled run configuration shared by all providers.
type DispatcherConfig struct {
	// Interval is the default period between runs of one provider. Providers
	// override it with <PROVIDER>_RUN_INTERVAL.
	Interval time.Duration `env:"DISPATCHER_INTERVAL" envDefault:"5m"`

	// RunTimeout bounds a single run. Zero leaves runs bounded by the lock TTL only.
	RunTimeout time.Duration `env:"DISPATCHER_RUN_TIMEOUT" envDefault:"55m"`
}

// Sanitize applies guardrails to dispatcher configuration values.
func (d *DispatcherConfig) Sanitize() {
	if d.Interval < 10*time.Second {
		d.Interval = 10 * time.Second
	}
	if d.RunTimeout < 0 {
		d.RunTimeout = 0
	}
}

// ReaperConfig contains stale processing sweep configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// ProcessingMaxAge is how long a job may sit in processing before it is
	// requeued. It must exceed the longest run, so it defaults above the run lock TTL.
	ProcessingMaxAge time.Duration `env:"REAPER_PROCESSING_MAX_AGE" envDefault:"2h"`

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"500"`

	// Message is stored on requeued jobs.
	Message string `env:"REAPER_MESSAGE" envDefault:"requeued after stalled processing"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.ProcessingMaxAge < 10*time.Minute {
		r.ProcessingMaxAge = 10 * time.Minute
	}

	// Enforce batch size bounds to prevent excessive locks or inefficiency
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
	r.Message = strings.TrimSpace(r.Message)
}
