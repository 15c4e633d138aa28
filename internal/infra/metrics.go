package infra

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"market_cache/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// datasetCounters tracks the refresh history of one cached dataset.
type datasetCounters struct {
	cycles      atomic.Uint64
	successes   atomic.Uint64
	failures    atomic.Uint64
	coalesced   atomic.Uint64
	lastSuccess atomic.Int64 // Unix seconds
	lastError   atomic.Value // string
}

// Metrics records refresh outcomes per dataset. Counters are kept locally
// for the status endpoint and mirrored into Prometheus collectors.
type Metrics struct {
	mu       sync.RWMutex
	datasets map[string]*datasetCounters

	registry *prometheus.Registry
	cycles   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	size     *prometheus.GaugeVec
	requests *prometheus.CounterVec
}

// NewMetrics creates metrics backed by a private Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		datasets: make(map[string]*datasetCounters),
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "market_cache",
				Subsystem: "refresh",
				Name:      "cycles_total",
				Help:      "Refresh cycles by dataset and outcome kind.",
			},
			[]string{"dataset", "kind"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "market_cache",
				Subsystem: "refresh",
				Name:      "cycle_duration_seconds",
				Help:      "Duration of refresh cycles.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"dataset"},
		),
		size: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "market_cache",
				Subsystem: "cache",
				Name:      "entries",
				Help:      "Number of entries currently cached per dataset.",
			},
			[]string{"dataset"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "market_cache",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by route and status.",
			},
			[]string{"route", "status"},
		),
	}
	m.registry.MustRegister(m.cycles, m.duration, m.size, m.requests)
	return m
}

// Registry exposes the Prometheus registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) counters(dataset string) *datasetCounters {
	m.mu.RLock()
	c, ok := m.datasets[dataset]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.datasets[dataset]; !ok {
		c = &datasetCounters{}
		m.datasets[dataset] = c
	}
	return c
}

// RecordCycle records one finished refresh cycle.
func (m *Metrics) RecordCycle(dataset string, d time.Duration, err error) {
	c := m.counters(dataset)
	c.cycles.Add(1)

	kind := domain.KindOf(err)
	label := string(kind)
	if kind == domain.KindNone || kind == domain.KindPartial {
		c.successes.Add(1)
		c.lastSuccess.Store(time.Now().Unix())
		if label == "" {
			label = "ok"
		}
	} else {
		c.failures.Add(1)
	}
	if err != nil {
		c.lastError.Store(err.Error())
	}

	m.cycles.WithLabelValues(dataset, label).Inc()
	m.duration.WithLabelValues(dataset).Observe(d.Seconds())
}

// RecordCoalesced records a trigger dropped because a cycle was already in flight.
func (m *Metrics) RecordCoalesced(dataset string) {
	m.counters(dataset).coalesced.Add(1)
	m.cycles.WithLabelValues(dataset, "coalesced").Inc()
}

// SetSize records the current entry count of a dataset.
func (m *Metrics) SetSize(dataset string, n int) {
	m.size.WithLabelValues(dataset).Set(float64(n))
}

// RecordRequest counts one HTTP request.
func (m *Metrics) RecordRequest(route string, status int) {
	m.requests.WithLabelValues(route, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// DatasetSnapshot is a point-in-time view of one dataset's counters.
type DatasetSnapshot struct {
	Dataset     string `json:"dataset"`
	Cycles      uint64 `json:"cycles"`
	Successes   uint64 `json:"successes"`
	Failures    uint64 `json:"failures"`
	Coalesced   uint64 `json:"coalesced"`
	LastSuccess int64  `json:"lastSuccess,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

// Snapshot returns current counters sorted by dataset name.
func (m *Metrics) Snapshot() []DatasetSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]DatasetSnapshot, 0, len(m.datasets))
	for name, c := range m.datasets {
		snap := DatasetSnapshot{
			Dataset:     name,
			Cycles:      c.cycles.Load(),
			Successes:   c.successes.Load(),
			Failures:    c.failures.Load(),
			Coalesced:   c.coalesced.Load(),
			LastSuccess: c.lastSuccess.Load(),
		}
		if s, ok := c.lastError.Load().(string); ok {
			snap.LastError = s
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dataset < out[j].Dataset })
	return out
}
