package config

import (
	"strings"
	"time"
)

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// APIToken guards every /api route with a bearer token. Empty disables the check,
	// which is only allowed in dev mode.
	APIToken string `env:"HTTP_API_TOKEN"`

	// ReadHeaderTimeout bounds slow clients.
	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"10s"`

	// WriteTimeout must cover a whole synchronous run triggered over HTTP.
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"65m"`

	// MaxBodyBytes caps request bodies on batch enqueue.
	MaxBodyBytes int64 `env:"HTTP_MAX_BODY_BYTES" envDefault:"10485760"`

	// ListLimit caps list endpoints.
	ListLimit int `env:"HTTP_LIST_LIMIT" envDefault:"1000"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	h.APIToken = strings.TrimSpace(h.APIToken)
	if h.ReadHeaderTimeout <= 0 {
		h.ReadHeaderTimeout = 10 * time.Second
	}
	if h.WriteTimeout < time.Minute {
		h.WriteTimeout = time.Minute
	}
	if h.MaxBodyBytes < 1024 {
		h.MaxBodyBytes = 1024
	}
	if h.ListLimit < 1 || h.ListLimit > 5000 {
		h.ListLimit = 1000
	}
}
