package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boom_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "boom_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	CheckinVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boom_checkin_verdicts_total",
			Help: "Check-in validations by verdict",
		},
		[]string{"verdict"},
	)

	CheckinCommits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boom_checkin_commits_total",
			Help: "Check-in commits by outcome",
		},
		[]string{"result"},
	)

	OrderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boom_order_transitions_total",
			Help: "Order status transitions",
		},
		[]string{"to"},
	)

	OrderCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boom_order_cache_lookups_total",
			Help: "Advisory order cache lookups",
		},
		[]string{"result"},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "boom_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boom_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boom_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
