package config

import (
	"strings"
	"time"

	"github.com/consultaflow/dispatcher/internal/domain/allocation"
	"github.com/consultaflow/dispatcher/internal/domain/model"
	"github.com/consultaflow/dispatcher/internal/domain/quota"
)

// ProvidersConfig holds one ProviderConfig per supported provider.
//
// Every field can be set per provider with the provider prefix, e.g.
// V8_POLL_INTERVAL=5s or HANDMAIS_DEFAULT_LIMIT=300. Unset fields take the
// provider's built-in default during Sanitize.
type ProvidersConfig struct {
	V8       ProviderConfig `envPrefix:"V8_"`
	Presenca ProviderConfig `envPrefix:"PRESENCA_"`
	Handmais ProviderConfig `envPrefix:"HANDMAIS_"`
}

// For returns the configuration of p, or nil for an unknown provider.
func (c *ProvidersConfig) For(p model.Provider) *ProviderConfig {
	switch p {
	case model.ProviderV8:
		return &c.V8
	case model.ProviderPresenca:
		return &c.Presenca
	case model.ProviderHandmais:
		return &c.Handmais
	}
	return nil
}

// Enabled lists the enabled providers in a stable order.
func (c *ProvidersConfig) Enabled() []model.Provider {
	var out []model.Provider
	for _, p := range model.AllProviders() {
		if c.For(p).Enabled {
			out = append(out, p)
		}
	}
	return out
}

// Sanitize fills provider defaults and clamps values.
func (c *ProvidersConfig) Sanitize() {
	for _, p := range model.AllProviders() {
		c.For(p).sanitize(p)
	}
}

// ProviderConfig is the full profile of one provider: endpoints, quota rules,
// allocation strategy and workflow timing.
type ProviderConfig struct {
	Enabled bool `env:"ENABLED" envDefault:"true"`

	// Endpoints and credentials shared by every account.
	BaseURL            string        `env:"BASE_URL"`
	AuthURL            string        `env:"AUTH_URL"`
	ClientID           string        `env:"AUTH_CLIENT_ID"`
	Audience           string        `env:"AUTH_AUDIENCE"`
	Scope              string        `env:"AUTH_SCOPE"`
	ProductCode        string        `env:"PRODUCT_CODE"`
	HTTPTimeout        time.Duration `env:"HTTP_TIMEOUT"`
	InsecureSkipVerify bool          `env:"HTTP_INSECURE_SKIP_VERIFY" envDefault:"false"`

	// Approval services are tried in order before the HTML form fallback.
	ApprovalServiceURLs []string      `env:"APPROVAL_SERVICE_URLS"`
	ApprovalTimeout     time.Duration `env:"APPROVAL_TIMEOUT"`

	Strategy        allocation.Strategy     `env:"STRATEGY"`
	Increment       quota.IncrementPolicy   `env:"INCREMENT"`
	Duplicates      model.DuplicateStrategy `env:"DUPLICATES"`
	SuccessStatus   model.JobStatus         `env:"SUCCESS_STATUS"`
	ResetWindow     time.Duration           `env:"RESET_WINDOW"`
	DefaultLimit    int                     `env:"DEFAULT_LIMIT"`
	ClampIncrement  *bool                   `env:"CLAMP_INCREMENT"`
	RequeuePending  *bool                   `env:"REQUEUE_PENDING"`
	PendingStatuses []string                `env:"PENDING_STATUSES"`

	MaxAttempts  int           `env:"MAX_ATTEMPTS"`
	PollInterval time.Duration `env:"POLL_INTERVAL"`
	StepTimeout  time.Duration `env:"STEP_TIMEOUT"`
	// StepDelay spaces consecutive calls inside one workflow step chain.
	StepDelay     time.Duration `env:"STEP_DELAY"`
	InterJobDelay time.Duration `env:"INTER_JOB_DELAY"`

	RunLockTTL          time.Duration `env:"RUN_LOCK_TTL"          envDefault:"1h"`
	AccountLockTTL      time.Duration `env:"ACCOUNT_LOCK_TTL"      envDefault:"1h"`
	MaxParallelAccounts int           `env:"MAX_PARALLEL_ACCOUNTS"`
	// RunInterval overrides DISPATCHER_INTERVAL for this provider.
	RunInterval time.Duration `env:"RUN_INTERVAL"`

	// DefaultPhone replaces a missing phone; RandomPhone generates one instead.
	DefaultPhone     string `env:"DEFAULT_PHONE"`
	RandomPhone      *bool  `env:"RANDOM_PHONE"`
	RequireBirthDate *bool  `env:"REQUIRE_BIRTH_DATE"`

	Access AccessConfig `envPrefix:"ACCESS_"`
}

// AccessConfig is the tenant routing table. See allocation.AccessPolicy.
type AccessConfig struct {
	Enabled      *bool           `env:"ENABLED"`
	SuperuserID  int64           `env:"SUPERUSER_ID"`
	UserAccounts map[int64]int64 `env:"USER_ACCOUNTS" envKeyValSeparator:":"`
	TeamIDs      []int64         `env:"TEAM_IDS"`
	TeamAccounts []int64         `env:"TEAM_ACCOUNTS"`
	Reserved     []int64         `env:"RESERVED"`
}

func boolPtr(b bool) *bool { return &b }

// providerDefaults mirrors the behavior of each provider's production integration.
var providerDefaults = map[model.Provider]ProviderConfig{
	model.ProviderV8: {
		BaseURL:             "https://bff.v8sistema.com",
		AuthURL:             "https://auth.v8sistema.com/oauth/token",
		ClientID:            "DHWogdaYmEI8n5bwwxPDzulMlSK7dwIn",
		Audience:            "https://bff.v8sistema.com",
		Scope:               "online_access",
		ProductCode:         "QI",
		HTTPTimeout:         30 * time.Second,
		Strategy:            allocation.StrategyTenantRoundRobin,
		Increment:           quota.IncrementOnAccept,
		Duplicates:          model.DuplicateCopy,
		SuccessStatus:       model.JobStatusConsulted,
		ResetWindow:         time.Hour,
		ClampIncrement:      boolPtr(false),
		RequeuePending:      boolPtr(true),
		PendingStatuses:     []string{"WAITING_CONSENT", "WAITING_CONSULT", "WAITING_CREDIT_ANALYSIS", "CONSENT_APPROVED"},
		MaxAttempts:         5,
		PollInterval:        3 * time.Second,
		InterJobDelay:       5 * time.Second,
		DefaultPhone:        "11980733602",
		RandomPhone:         boolPtr(false),
		RequireBirthDate:    boolPtr(false),
		MaxParallelAccounts: 1,
		Access: AccessConfig{
			Enabled:      boolPtr(true),
			SuperuserID:  1,
			UserAccounts: map[int64]int64{4354: 13, 3347: 16, 3349: 12},
			TeamIDs:      []int64{1, 2, 3, 1011, 1012, 1013, 1045, 1046, 2045},
			TeamAccounts: []int64{14, 15, 17, 18, 19, 20, 21, 22},
			Reserved:     []int64{12, 13, 16},
		},
	},
	model.ProviderPresenca: {
		BaseURL:             "https://presenca-bank-api.azurewebsites.net",
		ProductCode:         "28",
		HTTPTimeout:         60 * time.Second,
		ApprovalServiceURLs: []string{"http://172.17.0.1:3211/accept-termo"},
		ApprovalTimeout:     90 * time.Second,
		Strategy:            allocation.StrategyPinnedClaim,
		Increment:           quota.IncrementAlways,
		Duplicates:          model.DuplicateMerge,
		SuccessStatus:       model.JobStatusCompleted,
		ResetWindow:         24 * time.Hour,
		ClampIncrement:      boolPtr(true),
		RequeuePending:      boolPtr(false),
		MaxAttempts:         2,
		PollInterval:        2 * time.Second,
		StepDelay:           2 * time.Second,
		InterJobDelay:       5 * time.Second,
		RandomPhone:         boolPtr(false),
		RequireBirthDate:    boolPtr(false),
		MaxParallelAccounts: 4,
		Access:              AccessConfig{Enabled: boolPtr(false)},
	},
	model.ProviderHandmais: {
		BaseURL:     "https://app.handmais.com",
		HTTPTimeout: 60 * time.Second,
		ApprovalServiceURLs: []string{
			"http://127.0.0.1:3211/accept-handmais",
			"http://172.17.0.1:3211/accept-handmais",
			"http://host.docker.internal:3211/accept-handmais",
		},
		ApprovalTimeout:     120 * time.Second,
		Strategy:            allocation.StrategyForcedRoundRobin,
		Increment:           quota.IncrementOnSuccess,
		Duplicates:          model.DuplicateCopy,
		SuccessStatus:       model.JobStatusConsulted,
		ResetWindow:         24 * time.Hour,
		DefaultLimit:        500,
		ClampIncrement:      boolPtr(false),
		RequeuePending:      boolPtr(false),
		MaxAttempts:         2,
		PollInterval:        2 * time.Second,
		InterJobDelay:       2 * time.Second,
		RandomPhone:         boolPtr(true),
		RequireBirthDate:    boolPtr(true),
		MaxParallelAccounts: 1,
		Access:              AccessConfig{Enabled: boolPtr(false)},
	},
}

func (c *ProviderConfig) sanitize(p model.Provider) {
	def := providerDefaults[p]
	c.BaseURL = strings.TrimRight(firstNonEmpty(c.BaseURL, def.BaseURL), "/")
	c.AuthURL = firstNonEmpty(c.AuthURL, def.AuthURL)
	c.ClientID = firstNonEmpty(c.ClientID, def.ClientID)
	c.Audience = firstNonEmpty(c.Audience, def.Audience)
	c.Scope = firstNonEmpty(c.Scope, def.Scope)
	c.ProductCode = firstNonEmpty(c.ProductCode, def.ProductCode)
	c.DefaultPhone = firstNonEmpty(c.DefaultPhone, def.DefaultPhone)
	if len(c.ApprovalServiceURLs) == 0 {
		c.ApprovalServiceURLs = def.ApprovalServiceURLs
	}
	if len(c.PendingStatuses) == 0 {
		c.PendingStatuses = def.PendingStatuses
	}
	if !c.Strategy.Valid() {
		c.Strategy = def.Strategy
	}
	if !c.Increment.Valid() {
		c.Increment = def.Increment
	}
	if !c.Duplicates.Valid() {
		c.Duplicates = def.Duplicates
	}
	if c.SuccessStatus != model.JobStatusConsulted && c.SuccessStatus != model.JobStatusCompleted {
		c.SuccessStatus = def.SuccessStatus
	}
	if c.ClampIncrement == nil {
		c.ClampIncrement = def.ClampIncrement
	}
	if c.RequeuePending == nil {
		c.RequeuePending = def.RequeuePending
	}
	if c.RandomPhone == nil {
		c.RandomPhone = def.RandomPhone
	}
	if c.RequireBirthDate == nil {
		c.RequireBirthDate = def.RequireBirthDate
	}

	c.HTTPTimeout = positiveOr(c.HTTPTimeout, def.HTTPTimeout)
	c.ApprovalTimeout = positiveOr(c.ApprovalTimeout, def.ApprovalTimeout)
	c.ResetWindow = positiveOr(c.ResetWindow, def.ResetWindow)
	c.PollInterval = positiveOr(c.PollInterval, def.PollInterval)
	c.StepDelay = positiveOr(c.StepDelay, def.StepDelay)
	c.InterJobDelay = positiveOr(c.InterJobDelay, def.InterJobDelay)
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = def.DefaultLimit
	}
	if c.MaxParallelAccounts <= 0 {
		c.MaxParallelAccounts = def.MaxParallelAccounts
	}
	if c.MaxParallelAccounts > 32 {
		c.MaxParallelAccounts = 32
	}
	if c.RunLockTTL < time.Minute {
		c.RunLockTTL = time.Minute
	}
	if c.AccountLockTTL < time.Minute {
		c.AccountLockTTL = time.Minute
	}
	if c.RunInterval < 0 {
		c.RunInterval = 0
	}
	c.Access.sanitize(def.Access)
}

func (a *AccessConfig) sanitize(def AccessConfig) {
	if a.Enabled == nil {
		a.Enabled = def.Enabled
	}
	if a.Enabled == nil || !*a.Enabled {
		return
	}
	if a.SuperuserID == 0 && len(a.UserAccounts) == 0 && len(a.TeamIDs) == 0 && len(a.Reserved) == 0 {
		a.SuperuserID = def.SuperuserID
		a.UserAccounts = def.UserAccounts
		a.TeamIDs = def.TeamIDs
		a.TeamAccounts = def.TeamAccounts
		a.Reserved = def.Reserved
	}
}

// QuotaPolicy returns the provider's quota rules.
func (c *ProviderConfig) QuotaPolicy() quota.Policy {
	return quota.Policy{
		ResetWindow:    c.ResetWindow,
		DefaultLimit:   c.DefaultLimit,
		ClampIncrement: c.ClampIncrement != nil && *c.ClampIncrement,
		Increment:      c.Increment,
	}
}

// AccessPolicy returns the tenant routing table, or nil when routing is unrestricted.
func (c *ProviderConfig) AccessPolicy() *allocation.AccessPolicy {
	if c.Access.Enabled == nil || !*c.Access.Enabled {
		return nil
	}
	return &allocation.AccessPolicy{
		SuperuserID:  c.Access.SuperuserID,
		UserAccounts: c.Access.UserAccounts,
		TeamIDs:      c.Access.TeamIDs,
		TeamAccounts: c.Access.TeamAccounts,
		Reserved:     c.Access.Reserved,
	}
}

// ShouldRequeuePending reports whether still-pending results go back to the queue.
func (c *ProviderConfig) ShouldRequeuePending() bool {
	return c.RequeuePending != nil && *c.RequeuePending
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func positiveOr(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}
