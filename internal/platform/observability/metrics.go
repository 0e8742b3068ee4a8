package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ItemsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_items_ingested_total",
		Help: "The total number of inbound items delivered by the stream",
	}, []string{"channel"})

	ItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_items_processed_total",
		Help: "The total number of inbound items by terminal state",
	}, []string{"state"})

	DropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_drops_total",
		Help: "Total number of skipped items or candidates by reason",
	}, []string{"reason"})

	PublishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_publishes_total",
		Help: "The total number of publish outcomes",
	}, []string{"status"})

	PublishRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_publish_retries_total",
		Help: "Publish failures by failure class",
	}, []string{"class"})

	PublishDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_publish_duration_seconds",
		Help:    "Time from first submit attempt to a published post, waits included",
		Buckets: []float64{0.5, 1, 2, 5, 30, 60, 120, 300, 600, 1800},
	})

	ReplyAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_context_reply_attempts_total",
		Help: "Context reply attempts by status",
	}, []string{"status"})

	ReplyQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_context_reply_queue_depth",
		Help: "Context replies waiting to be posted",
	})

	LedgerSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_ledger_size",
		Help: "Number of URLs in the dedup ledger",
	})

	CheckpointUnixSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_checkpoint_unix_seconds",
		Help: "Current checkpoint as unix seconds",
	})

	StreamRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_stream_restarts_total",
		Help: "Number of times the stream subscription was restarted after an error",
	})

	DestinationPostsSeen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_destination_posts_seen",
		Help: "URLs known from the destination's recent posts",
	})

	FilterReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_filter_reloads_total",
		Help: "Filter list reloads by list",
	}, []string{"list"})

	FilterListSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_filter_list_size",
		Help: "Entries per filter list",
	}, []string{"list"})

	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_api_requests_total",
		Help: "Platform API requests by endpoint and status class",
	}, []string{"endpoint", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_api_request_duration_seconds",
		Help:    "Duration of platform API requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_notifications_total",
		Help: "Operator notifications by status",
	}, []string{"status"})
)
