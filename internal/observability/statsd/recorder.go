package statsd

import (
	"sync"
	"time"
)

// Metric is one emission captured by Recorder.
type Metric struct {
	Kind  string // c, g or ms
	Name  string
	Value float64
	Tags  map[string]string
}

// Recorder is an in-memory Sink for tests and the admin CLI's dry output.
type Recorder struct {
	mu      sync.Mutex
	metrics []Metric
}

var _ Sink = (*Recorder)(nil)

func (r *Recorder) add(m Metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = append(r.metrics, m)
}

// Count records a counter.
func (r *Recorder) Count(name string, value int64, tags map[string]string) {
	r.add(Metric{Kind: "c", Name: name, Value: float64(value), Tags: cleanTags(tags)})
}

// Gauge records a gauge.
func (r *Recorder) Gauge(name string, value float64, tags map[string]string) {
	r.add(Metric{Kind: "g", Name: name, Value: value, Tags: cleanTags(tags)})
}

// Timing records a timing in milliseconds.
func (r *Recorder) Timing(name string, value time.Duration, tags map[string]string) {
	r.add(Metric{Kind: "ms", Name: name, Value: float64(value) / float64(time.Millisecond), Tags: cleanTags(tags)})
}

// Named returns every captured metric called name, in emission order.
func (r *Recorder) Named(name string) []Metric {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Metric
	for _, m := range r.metrics {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

// Sum adds the values of every counter called name whose tags include match.
func (r *Recorder) Sum(name string, match map[string]string) float64 {
	var total float64
	for _, m := range r.Named(name) {
		if m.Kind == "c" && tagsInclude(m.Tags, match) {
			total += m.Value
		}
	}
	return total
}

func tagsInclude(tags, match map[string]string) bool {
	for k, v := range match {
		if tags[k] != v {
			return false
		}
	}
	return true
}
