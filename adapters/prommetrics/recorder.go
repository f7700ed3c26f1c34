// Package prommetrics exposes billing observer metrics through Prometheus.
package prommetrics

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goliatone/go-billing/core"
)

const maxLabelLen = 64

// Labels are the only tag keys exported; the observer emits no others.
var Labels = []string{"operation", "status", "event", "kind", "endpoint_id", "queue"}

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_:]`)

// Recorder implements core.MetricsRecorder. Counter and histogram vectors
// are created on first use and registered on the recorder's registry.
type Recorder struct {
	mu         sync.Mutex
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	buckets    []float64
	onError    func(error)
}

func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	return NewRecorderWithRegistry(registry, registry)
}

func NewRecorderWithRegistry(registerer prometheus.Registerer, gatherer prometheus.Gatherer) *Recorder {
	return &Recorder{
		registerer: registerer,
		gatherer:   gatherer,
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
		buckets:    prometheus.ExponentialBuckets(5, 2, 12),
	}
}

// OnError receives registration failures, which are otherwise dropped.
func (r *Recorder) OnError(fn func(error)) *Recorder {
	if r != nil {
		r.onError = fn
	}
	return r
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	vec := r.counter(MetricName(name))
	if vec == nil {
		return
	}
	vec.WithLabelValues(labelValues(tags)...).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	vec := r.histogram(MetricName(name))
	if vec == nil {
		return
	}
	vec.WithLabelValues(labelValues(tags)...).Observe(value)
}

// Handler serves the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil || r.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return nil
	}
	return r.gatherer
}

func (r *Recorder) counter(name string) *prometheus.CounterVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	if vec, ok := r.counters[name]; ok {
		return vec
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: name,
		Help: "Billing counter " + name,
	}, Labels)
	if err := r.registerer.Register(vec); err != nil {
		if existing, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if typed, ok := existing.ExistingCollector.(*prometheus.CounterVec); ok {
				r.counters[name] = typed
				return typed
			}
		}
		r.reportError(err)
		return nil
	}
	r.counters[name] = vec
	return vec
}

func (r *Recorder) histogram(name string) *prometheus.HistogramVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	if vec, ok := r.histograms[name]; ok {
		return vec
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name,
		Help:    "Billing histogram " + name,
		Buckets: r.buckets,
	}, Labels)
	if err := r.registerer.Register(vec); err != nil {
		if existing, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if typed, ok := existing.ExistingCollector.(*prometheus.HistogramVec); ok {
				r.histograms[name] = typed
				return typed
			}
		}
		r.reportError(err)
		return nil
	}
	r.histograms[name] = vec
	return vec
}

func (r *Recorder) reportError(err error) {
	if r.onError != nil && err != nil {
		r.onError(err)
	}
}

// MetricName maps billing.webhook_attempt.total to billing_webhook_attempt_total.
func MetricName(name string) string {
	name = invalidNameChars.ReplaceAllString(strings.TrimSpace(name), "_")
	if name == "" {
		return "billing_unnamed"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}
	return name
}

func labelValues(tags map[string]string) []string {
	out := make([]string, len(Labels))
	for i, label := range Labels {
		out[i] = sanitizeLabel(tags[label])
	}
	return out
}

func sanitizeLabel(value string) string {
	value = strings.ReplaceAll(strings.TrimSpace(value), " ", "_")
	if len(value) > maxLabelLen {
		value = value[:maxLabelLen]
	}
	return value
}

var _ core.MetricsRecorder = (*Recorder)(nil)
