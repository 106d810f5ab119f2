package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdftrans_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pdftrans_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pdftrans_http_inflight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Rate limiter metrics
	RateLimitChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdftrans_rate_limit_checks_total",
			Help: "Total number of rate limit checks by outcome",
		},
		[]string{"outcome"},
	)

	RateLimitIdentitiesGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pdftrans_rate_limit_identities",
			Help: "Number of identities currently tracked by the rate limiter",
		},
	)

	RateLimitSweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pdftrans_rate_limit_sweeps_total",
			Help: "Total number of rate limiter cleanup sweeps",
		},
	)

	// Credential pool metrics
	PoolAcquisitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdftrans_pool_acquisitions_total",
			Help: "Total number of credential acquisitions by pool",
		},
		[]string{"pool"},
	)

	PoolSaturationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdftrans_pool_saturation_total",
			Help: "Total number of over-budget credential selections by pool",
		},
		[]string{"pool"},
	)

	// Cache metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdftrans_cache_hits_total",
			Help: "Total number of cache hits by tier",
		},
		[]string{"tier"},
	)

	CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pdftrans_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	CacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdftrans_cache_evictions_total",
			Help: "Total number of cache evictions by reason",
		},
		[]string{"reason"},
	)

	CacheDurableErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pdftrans_cache_durable_errors_total",
			Help: "Total number of durable cache tier failures",
		},
	)

	// Task manager metrics
	TasksSubmittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pdftrans_tasks_submitted_total",
			Help: "Total number of submitted background tasks",
		},
	)

	TasksCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdftrans_tasks_completed_total",
			Help: "Total number of finished background tasks by outcome",
		},
		[]string{"outcome"},
	)

	TasksInMemoryGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pdftrans_tasks_in_memory",
			Help: "Number of task records currently retained",
		},
	)
)
