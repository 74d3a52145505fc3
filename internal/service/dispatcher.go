package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/consultaflow/dispatcher/internal/domain/model"
)

// ErrUnknownProvider is returned for a provider with no orchestrator.
var ErrUnknownProvider = errors.New("provider not enabled")

// RunTrigger performs runs on demand. *Dispatcher satisfies it.
type RunTrigger interface {
	Trigger(ctx context.Context, provider model.Provider) (*model.RunSummary, error)
	Providers() []model.Provider
}

// DispatcherOptions groups dependencies for Dispatcher.
type DispatcherOptions struct {
	Orchestrators []*Orchestrator // Required: one per enabled provider
	// Intervals sets each provider's scheduled period. Missing or zero
	// entries are not scheduled.
	Intervals map[model.Provider]time.Duration
	// RunTimeout bounds each run; zero leaves it unbounded.
	RunTimeout time.Duration
	Logger     *slog.Logger
}

// Dispatcher routes runs to the orchestrator of each provider, either on
// demand or on a schedule.
type Dispatcher struct {
	byProvider map[model.Provider]*Orchestrator
	intervals  map[model.Provider]time.Duration
	runTimeout time.Duration
	logger     *slog.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if len(opts.Orchestrators) == 0 {
		return nil, errors.New("at least one Orchestrator is required")
	}
	by := make(map[model.Provider]*Orchestrator, len(opts.Orchestrators))
	for _, o := range opts.Orchestrators {
		if _, dup := by[o.Provider()]; dup {
			return nil, fmt.Errorf("duplicate orchestrator for %s", o.Provider())
		}
		by[o.Provider()] = o
	}
	return &Dispatcher{
		byProvider: by,
		intervals:  opts.Intervals,
		runTimeout: opts.RunTimeout,
		logger:     loggerOrDefault(opts.Logger).With("component", "dispatcher"),
	}, nil
}

// Providers lists the providers that can be triggered, sorted.
func (d *Dispatcher) Providers() []model.Provider {
	out := make([]model.Provider, 0, len(d.byProvider))
	for p := range d.byProvider {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Trigger performs one run of provider now.
func (d *Dispatcher) Trigger(ctx context.Context, provider model.Provider) (*model.RunSummary, error) {
	o, ok := d.byProvider[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	if d.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.runTimeout)
		defer cancel()
	}
	return o.Run(ctx)
}

// Run schedules every provider with an interval until ctx is cancelled.
// Returns nil on graceful shutdown.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	scheduled := 0
	for _, p := range d.Providers() {
		every := d.intervals[p]
		if every <= 0 {
			continue
		}
		scheduled++
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.loop(ctx, p, every)
		}()
	}
	if scheduled == 0 {
		d.logger.WarnContext(ctx, "no provider has a run interval, dispatcher idle")
	}
	wg.Wait()
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

func (d *Dispatcher) loop(ctx context.Context, p model.Provider, every time.Duration) {
	logger := d.logger.With("provider", p)
	logger.InfoContext(ctx, "scheduling runs", "interval", every)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		_, err := d.Trigger(ctx, p)
		switch {
		case err == nil, errors.Is(err, ErrRunInProgress):
		case isContextCancellation(err):
			logger.DebugContext(ctx, "scheduled run cancelled", "error", err)
		default:
			logger.ErrorContext(ctx, "scheduled run failed", "error", err)
		}

		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "scheduler stopping", "reason", ctx.Err())
			return
		case <-ticker.C:
		}
	}
}
