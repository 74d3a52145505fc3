package model

import (
	"fmt"
	"strings"
)

// Provider identifies an external consult provider profile.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type Provider string

const (
	// ProviderV8 submits, authorizes and polls a consult operation.
	ProviderV8 Provider = "v8"
	// ProviderPresenca runs a multi-step term/approval/margin flow.
	ProviderPresenca Provider = "presenca"
	// ProviderHandmais runs a simulation that may require approval.
	ProviderHandmais Provider = "handmais"
)

// AllProviders lists the known providers in a stable order.
func AllProviders() []Provider {
	return []Provider{ProviderV8, ProviderPresenca, ProviderHandmais}
}

// Valid returns true if the Provider is known.
func (p Provider) Valid() bool {
	return p == ProviderV8 || p == ProviderPresenca || p == ProviderHandmais
}

func (p Provider) String() string { return string(p) }

// UnmarshalText implements encoding.TextUnmarshaler for env and path parsing.
func (p *Provider) UnmarshalText(text []byte) error {
	v := Provider(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid Provider: %q", v)
	}
	*p = v
	return nil
}

// ParseProvider parses a provider name.
func ParseProvider(s string) (Provider, error) {
	var p Provider
	if err := p.UnmarshalText([]byte(s)); err != nil {
		return "", err
	}
	return p, nil
}

// RunLockKey is the global run lock key for the provider.
func (p Provider) RunLockKey() string {
	return "consult:" + string(p) + ":run"
}

// AccountLockKey is the per-account lock key for the provider.
func (p Provider) AccountLockKey(accountID int64) string {
	return fmt.Sprintf("consult:%s:account:%d", p, accountID)
}
