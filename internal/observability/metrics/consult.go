// Package metrics emits the dispatcher's standard metric shapes.
package metrics

import (
	"time"

	obserrors "github.com/consultaflow/dispatcher/internal/observability/errors"
	"github.com/consultaflow/dispatcher/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
	ResultBusy    = "busy"
)

// RunMetric describes one orchestrator run.
type RunMetric struct {
	Provider  string
	Result    string
	Duration  time.Duration
	Allocated int
	Processed int
	Errored   int
	Err       error
}

// EmitRunLifecycle emits run-level counters and timings.
func EmitRunLifecycle(sink statsd.Sink, in RunMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"provider": in.Provider,
		"result":   in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("run.finished", 1, tags)
	if in.Duration > 0 {
		sink.Timing("run.duration", in.Duration, CloneTags(tags))
	}

	base := map[string]string{"provider": in.Provider}
	sink.Gauge("run.allocated", float64(in.Allocated), CloneTags(base))
	if in.Processed > 0 {
		sink.Count("run.jobs_processed", int64(in.Processed), CloneTags(base))
	}
	if in.Errored > 0 {
		sink.Count("run.jobs_errored", int64(in.Errored), CloneTags(base))
	}
	if in.Result == ResultSuccess {
		sink.Gauge("run.last_success_epoch", float64(time.Now().Unix()), CloneTags(base))
	}
}

// JobOutcome describes one job's trip through the workflow.
type JobOutcome struct {
	Provider string
	// Outcome is "done" or the workflow failure kind.
	Outcome  string
	Entries  int
	Duration time.Duration
	Err      error
}

// EmitJobOutcome emits per-job counters and timings.
func EmitJobOutcome(sink statsd.Sink, in JobOutcome) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"provider": in.Provider,
		"outcome":  in.Outcome,
	}
	if in.Err != nil {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.outcome", 1, tags)
	if in.Entries > 1 {
		sink.Count("job.extra_entries", int64(in.Entries-1), map[string]string{"provider": in.Provider})
	}
	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
