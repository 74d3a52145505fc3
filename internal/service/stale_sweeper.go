package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/consultaflow/dispatcher/config"
	"github.com/consultaflow/dispatcher/internal/core"
	"github.com/consultaflow/dispatcher/internal/domain/model"
	obserrors "github.com/consultaflow/dispatcher/internal/observability/errors"
	"github.com/consultaflow/dispatcher/internal/observability/metrics"
	"github.com/consultaflow/dispatcher/internal/observability/statsd"
)

// StaleSweeperOptions groups dependencies for StaleSweeper.
type StaleSweeperOptions struct {
	Jobs    core.JobStore       // Required
	Config  config.ReaperConfig // Required
	Logger  *slog.Logger        // Optional
	Metrics statsd.Sink         // Optional
}

// StaleSweeper hands jobs stuck in processando back to the queue. A job ends
// up there when its run died between claim and persistence.
type StaleSweeper struct {
	jobs    core.JobStore
	config  config.ReaperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewStaleSweeper constructs a StaleSweeper.
func NewStaleSweeper(opts StaleSweeperOptions) (*StaleSweeper, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobStore is required")
	}
	logger := loggerOrDefault(opts.Logger).With("component", "stale_sweeper")
	logger.Debug("StaleSweeper initialized",
		"interval", opts.Config.Interval,
		"processing_max_age", opts.Config.ProcessingMaxAge,
		"batch_size", opts.Config.BatchSize,
	)
	return &StaleSweeper{
		jobs:    opts.Jobs,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Run sweeps at the configured interval until ctx is cancelled.
// Returns nil on graceful shutdown.
func (s *StaleSweeper) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting stale sweeper", "interval", s.config.Interval)

	// Spread instances that start together.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if _, err := s.Sweep(ctx, ""); err != nil {
		s.logSweepError(err, "initial sweep")
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "stale sweeper stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx, ""); err != nil {
				s.logSweepError(err, "sweep")
			}
		}
	}
}

// waitWithJitter delays up to 10% of the interval.
func (s *StaleSweeper) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	t := time.NewTimer(jitter)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Sweep requeues stale processing jobs of provider, or of every provider when
// provider is empty. It loops over batches until nothing is left.
func (s *StaleSweeper) Sweep(ctx context.Context, provider model.Provider) (int64, error) {
	start := time.Now()
	var total int64
	var err error
	for {
		var n int64
		n, err = s.jobs.RequeueStaleProcessing(ctx, core.RequeueStaleParams{
			Provider:  provider,
			MaxAge:    s.config.ProcessingMaxAge,
			BatchSize: s.config.BatchSize,
			Message:   s.config.Message,
		})
		total += n
		if err != nil || n < int64(s.config.BatchSize) || n == 0 {
			break
		}
		if err = ctx.Err(); err != nil {
			break
		}
	}

	s.emitSweepMetrics(total, time.Since(start), err)
	if err != nil {
		return total, fmt.Errorf("requeue stale processing jobs: %w", err)
	}
	if total > 0 {
		s.logger.InfoContext(ctx, "requeued stale processing jobs",
			"provider", provider,
			"count", total,
			"max_age", s.config.ProcessingMaxAge,
		)
	}
	return total, nil
}

func (s *StaleSweeper) emitSweepMetrics(count int64, elapsed time.Duration, err error) {
	if s.metrics == nil {
		return
	}

	metricErr := suppressContextCancellation(err)
	result := metrics.ResultSuccess
	if metricErr != nil {
		result = metrics.ResultError
	} else if count == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{"result": result}
	if metricErr != nil {
		if class := obserrors.Classify(metricErr); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.sweep", 1, tags)
	if elapsed > 0 {
		s.metrics.Timing("reaper.sweep_duration", elapsed, metrics.CloneTags(tags))
	}
	if count > 0 {
		s.metrics.Count("reaper.jobs_requeued", count, nil)
	}
	if metricErr == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *StaleSweeper) logSweepError(err error, label string) {
	if err == nil {
		return
	}
	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}
	s.logger.Error(label+" failed", "error", err)
}
