package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP请求指标
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyrelay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keyrelay_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "keyrelay_http_inflight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// 凭证池指标
	PoolAcquisitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyrelay_pool_acquisitions_total",
			Help: "Credential pool acquisition attempts by outcome",
		},
		[]string{"outcome"}, // affinity|fresh|stale_takeover|cooldown_retry|unavailable
	)

	PoolFaultsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "keyrelay_pool_faults_total",
			Help: "Total number of credentials reported faulty",
		},
	)

	PoolCredentials = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "keyrelay_pool_credentials",
			Help: "Number of pool credentials by status",
		},
		[]string{"status"}, // available|in_use|faulty
	)

	// 会话守卫指标
	GuardDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyrelay_guard_decisions_total",
			Help: "Session guard authorization decisions",
		},
		[]string{"outcome"}, // allowed|invalid_token|expired|device_conflict
	)

	TokenCacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyrelay_token_cache_hits_total",
			Help: "Token side cache lookups by result",
		},
		[]string{"result"}, // hit|miss|stale
	)

	TokenCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "keyrelay_token_cache_entries",
			Help: "Number of entries currently in the token side cache",
		},
	)

	// 上游API调用指标
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyrelay_upstream_requests_total",
			Help: "Total number of upstream API requests",
		},
		[]string{"status_class"},
	)

	UpstreamRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "keyrelay_upstream_request_duration_seconds",
			Help:    "Upstream API request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyrelay_upstream_errors_total",
			Help: "Total number of upstream errors by reason",
		},
		[]string{"reason"},
	)

	// 存储后端指标
	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keyrelay_storage_operation_duration_seconds",
			Help:    "Storage backend operation latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"backend", "operation"},
	)

	StorageErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyrelay_storage_errors_total",
			Help: "Total number of storage backend errors",
		},
		[]string{"backend", "operation"},
	)

	// 入站限流指标
	RateLimitRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "keyrelay_ratelimit_rejections_total",
			Help: "Requests rejected by the inbound rate limiter",
		},
	)
)

// StatusClass converts an HTTP status code to its class label (2xx, 4xx...).
func StatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}
