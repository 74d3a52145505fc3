package bootstrap

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/consultaflow/dispatcher/config"
	"github.com/consultaflow/dispatcher/internal/adapters/approval"
	"github.com/consultaflow/dispatcher/internal/adapters/providers"
	"github.com/consultaflow/dispatcher/internal/core"
	"github.com/consultaflow/dispatcher/internal/domain/model"
	"github.com/consultaflow/dispatcher/internal/domain/workflow"
	"github.com/consultaflow/dispatcher/internal/observability/statsd"
	"github.com/consultaflow/dispatcher/internal/service"
)

// envPrefix is the environment variable prefix of p's settings.
func envPrefix(p model.Provider) string {
	return strings.ToUpper(string(p))
}

// orchestratorDeps groups the stores shared by every provider's orchestrator.
type orchestratorDeps struct {
	Jobs     core.JobStore
	Accounts core.AccountStore
	Locker   core.Locker
	Clock    core.Clock
	Metrics  statsd.Sink
	Logger   *slog.Logger
}

// buildRunner wires the provider adapters, the approval chain and the workflow
// state machine of p.
func buildRunner(p model.Provider, cfg *config.ProviderConfig, logger *slog.Logger) (*workflow.Runner, error) {
	sleeper := workflow.RealSleeper{}
	set, err := providers.New(p, cfg, providers.Options{
		HTTPClient: providers.NewHTTPClient(cfg),
		Sleeper:    sleeper,
	})
	if err != nil {
		return nil, err
	}

	// The approval chain keeps its own client: service calls outlast HTTPTimeout.
	approver := approval.NewChain(approval.Options{
		ServiceURLs:    cfg.ApprovalServiceURLs,
		ServiceTimeout: cfg.ApprovalTimeout,
		PageTimeout:    cfg.HTTPTimeout,
		Logger:         logger.With("provider", string(p)),
	})

	return workflow.NewRunner(workflow.RunnerOptions{
		Auth:     set.Auth,
		Provider: set.Workflow,
		Approver: approver,
		Sleeper:  sleeper,
		Config: workflow.Config{
			MaxAttempts:     cfg.MaxAttempts,
			PollInterval:    cfg.PollInterval,
			StepTimeout:     cfg.StepTimeout,
			PendingStatuses: cfg.PendingStatuses,
			Subject:         set.Subject,
		},
		Logger: logger.With("provider", string(p)),
	})
}

func buildOrchestrator(p model.Provider, cfg *config.ProviderConfig, deps orchestratorDeps) (*service.Orchestrator, error) {
	runner, err := buildRunner(p, cfg, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("build %s runner: %w", p, err)
	}
	ledger, err := service.NewQuotaLedger(service.QuotaLedgerOptions{
		Accounts: deps.Accounts,
		Clock:    deps.Clock,
		Logger:   deps.Logger,
	})
	if err != nil {
		return nil, err
	}
	claimer, err := service.NewJobClaimer(deps.Jobs, deps.Logger)
	if err != nil {
		return nil, err
	}
	persister, err := service.NewResultPersister(deps.Jobs, deps.Logger)
	if err != nil {
		return nil, err
	}

	return service.NewOrchestrator(service.OrchestratorOptions{
		Profile:   service.ProfileFromConfig(p, cfg),
		Ledger:    ledger,
		Claimer:   claimer,
		Persister: persister,
		Locker:    deps.Locker,
		Runner:    runner,
		Clock:     deps.Clock,
		Metrics:   deps.Metrics,
		Logger:    deps.Logger,
	})
}

// buildDispatcher wires one orchestrator per enabled provider. It returns nil
// when no provider is enabled.
func buildDispatcher(cfg *config.AppConfig, deps orchestratorDeps) (*service.Dispatcher, error) {
	enabled := cfg.Providers.Enabled()
	if len(enabled) == 0 {
		return nil, nil //nolint:nilnil // no provider is a valid reaper-only setup
	}

	orchestrators := make([]*service.Orchestrator, 0, len(enabled))
	intervals := make(map[model.Provider]time.Duration, len(enabled))
	for _, p := range enabled {
		pcfg := cfg.Providers.For(p)
		o, err := buildOrchestrator(p, pcfg, deps)
		if err != nil {
			return nil, err
		}
		orchestrators = append(orchestrators, o)
		intervals[p] = cfg.Dispatcher.Interval
		if pcfg.RunInterval > 0 {
			intervals[p] = pcfg.RunInterval
		}
	}

	return service.NewDispatcher(service.DispatcherOptions{
		Orchestrators: orchestrators,
		Intervals:     intervals,
		RunTimeout:    cfg.Dispatcher.RunTimeout,
		Logger:        deps.Logger,
	})
}
