package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics bundles the Prometheus collectors of the service. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	Registry          *prometheus.Registry
	AcquisitionsTotal *prometheus.CounterVec
	AcquireDuration   *prometheus.HistogramVec
	ProductsTotal     prometheus.Counter
	RetriesTotal      prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
	CacheHitsTotal    prometheus.Counter
	JobsTotal         *prometheus.CounterVec
	JobRunning        prometheus.Gauge
}

// New constructs and registers all collectors on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	acquisitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopscrape_acquisitions_total",
			Help: "Page acquisitions by backend and outcome.",
		},
		[]string{"backend", "outcome"},
	)
	acquireDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shopscrape_acquire_duration_seconds",
			Help:    "Time spent acquiring one page, pacing excluded.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 90, 120},
		},
		[]string{"backend"},
	)
	products := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shopscrape_products_total",
			Help: "Product records extracted.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shopscrape_retries_total",
			Help: "Acquisition retries scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopscrape_errors_total",
			Help: "Scrape errors by code.",
		},
		[]string{"code"},
	)
	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shopscrape_cache_hits_total",
			Help: "Search results served from the cache.",
		},
	)
	jobs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopscrape_jobs_total",
			Help: "Finished jobs by status.",
		},
		[]string{"status"},
	)
	running := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shopscrape_job_running",
			Help: "1 while a job is running.",
		},
	)

	registry.MustRegister(acquisitions, acquireDuration, products, retries, errorsTotal, cacheHits, jobs, running)

	return &Metrics{
		Registry:          registry,
		AcquisitionsTotal: acquisitions,
		AcquireDuration:   acquireDuration,
		ProductsTotal:     products,
		RetriesTotal:      retries,
		ErrorsTotal:       errorsTotal,
		CacheHitsTotal:    cacheHits,
		JobsTotal:         jobs,
		JobRunning:        running,
	}
}

// ObserveAcquire records one acquisition attempt.
func (m *Metrics) ObserveAcquire(backend string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.AcquisitionsTotal.WithLabelValues(backend, outcome).Inc()
	m.AcquireDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// AddProducts adds n extracted records.
func (m *Metrics) AddProducts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ProductsTotal.Add(float64(n))
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a code.
func (m *Metrics) IncError(code string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(code).Inc()
}

// IncCacheHit increments the cache hit counter.
func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

// JobStarted marks a job as running.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.JobRunning.Set(1)
}

// JobFinished counts a finished job and clears the running gauge.
func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(status).Inc()
	m.JobRunning.Set(0)
}
