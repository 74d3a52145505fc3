package providers

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"

	"github.com/consultaflow/dispatcher/config"
	"github.com/consultaflow/dispatcher/internal/domain/model"
	"github.com/consultaflow/dispatcher/internal/domain/workflow"
)

// Set is what a workflow runner needs for one provider.
type Set struct {
	Auth     workflow.AuthProvider
	Workflow workflow.WorkflowProvider
	Subject  workflow.SubjectRules
}

// Options holds optional dependencies for New.
type Options struct {
	HTTPClient *http.Client
	// Sleeper spaces chained provider calls.
	Sleeper workflow.Sleeper
}

// New builds the adapters of provider p from its configuration.
func New(p model.Provider, cfg *config.ProviderConfig, opts Options) (Set, error) {
	if cfg == nil {
		return Set{}, fmt.Errorf("no configuration for provider %q", p)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = NewHTTPClient(cfg)
	}
	rules := SubjectRules(p, cfg)
	switch p {
	case model.ProviderV8:
		return Set{Auth: NewV8Auth(cfg, hc), Workflow: NewV8(cfg, hc), Subject: rules}, nil
	case model.ProviderPresenca:
		return Set{Auth: NewPresencaAuth(cfg, hc), Workflow: NewPresenca(cfg, hc, opts.Sleeper), Subject: rules}, nil
	case model.ProviderHandmais:
		return Set{Auth: HandmaisAuth{}, Workflow: NewHandmais(cfg, hc), Subject: rules}, nil
	}
	return Set{}, fmt.Errorf("unsupported provider %q", p)
}

// SubjectRules returns the subject normalization rules of p.
func SubjectRules(p model.Provider, cfg *config.ProviderConfig) workflow.SubjectRules {
	var rules workflow.SubjectRules
	if cfg.RequireBirthDate != nil && *cfg.RequireBirthDate {
		rules.RequireBirthDate = true
	}
	switch {
	case cfg.RandomPhone != nil && *cfg.RandomPhone:
		rules.PhoneValid = ValidMobileInRange
		rules.PhoneFallback = RandomMobile
	case cfg.DefaultPhone != "":
		fallback := cfg.DefaultPhone
		rules.PhoneFallback = func() string { return fallback }
	}
	if p == model.ProviderHandmais {
		rules.RequirePhone = true
	}
	return rules
}

const (
	mobileLow  = 11911111111
	mobileHigh = 99999999999
)

// ValidMobileInRange reports whether digits is an 11-digit number in the
// range the simulation accepts.
func ValidMobileInRange(digits string) bool {
	if len(digits) != 11 {
		return false
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	return err == nil && n >= mobileLow && n <= mobileHigh
}

// RandomMobile generates a number accepted by ValidMobileInRange.
func RandomMobile() string {
	return strconv.FormatInt(mobileLow+rand.Int64N(mobileHigh-mobileLow+1), 10) //nolint:gosec // placeholder phone, not a secret
}
