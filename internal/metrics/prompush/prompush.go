// Package prompush implements a Prometheus backend for internal/metrics.
//
// Collectors are created lazily in a private registry the first time a metric
// name is seen. The build job pushes the registry to a Pushgateway on Flush;
// the API server exposes it through Handler instead.
package prompush

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"dropin/internal/metrics"
)

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

var byteBuckets = prometheus.ExponentialBuckets(1024, 4, 10)

// Backend implements metrics.Backend on a prometheus.Registry.
type Backend struct {
	job      string
	registry *prometheus.Registry
	pusher   *push.Pusher

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// NewBackend creates a backend for job. When gatewayURL is empty Flush is a
// no-op and the registry is only reachable through Handler.
func NewBackend(job, gatewayURL string) (*Backend, error) {
	if strings.TrimSpace(job) == "" {
		return nil, fmt.Errorf("prompush: empty job name")
	}
	reg := prometheus.NewRegistry()
	b := &Backend{
		job:        job,
		registry:   reg,
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
	if gatewayURL != "" {
		b.pusher = push.New(gatewayURL, job).Gatherer(reg)
	}
	return b, nil
}

// Registry exposes the underlying registry, e.g. for Go runtime collectors.
func (b *Backend) Registry() *prometheus.Registry { return b.registry }

// Handler serves the registry in the Prometheus text format.
func (b *Backend) Handler() http.Handler {
	return promhttp.HandlerFor(b.registry, promhttp.HandlerOpts{Registry: b.registry})
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	keys, values := split(labels)

	b.mu.Lock()
	vec, ok := b.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help(name)}, keys)
		if err := b.registry.Register(vec); err != nil {
			b.mu.Unlock()
			return
		}
		b.counters[name] = vec
	}
	b.mu.Unlock()

	// A label-set mismatch is dropped rather than panicking the caller.
	if c, err := vec.GetMetricWithLabelValues(values...); err == nil {
		c.Add(delta)
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}
	keys, values := split(labels)

	b.mu.Lock()
	vec, ok := b.histograms[name]
	if !ok {
		buckets := durationBuckets
		if strings.HasSuffix(name, "_bytes") {
			buckets = byteBuckets
		}
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help(name), Buckets: buckets}, keys)
		if err := b.registry.Register(vec); err != nil {
			b.mu.Unlock()
			return
		}
		b.histograms[name] = vec
	}
	b.mu.Unlock()

	if h, err := vec.GetMetricWithLabelValues(values...); err == nil {
		h.Observe(value)
	}
}

// Flush pushes the registry to the gateway, replacing the job's group.
func (b *Backend) Flush() error {
	if b.pusher == nil {
		return nil
	}
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push job=%s: %w", b.job, err)
	}
	return nil
}

var _ metrics.Backend = (*Backend)(nil)

// split returns label keys sorted and their values in the same order.
func split(l metrics.Labels) (keys, values []string) {
	keys = make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values = make([]string, len(keys))
	for i, k := range keys {
		values[i] = l[k]
	}
	return keys, values
}

func help(name string) string {
	return strings.ReplaceAll(strings.TrimPrefix(name, "dropin_"), "_", " ")
}
