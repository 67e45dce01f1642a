package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CartItemsAddedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cart_items_added_total",
		Help: "Total quantity of units added to the cart",
	})

	CartItemsRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cart_items_removed_total",
		Help: "Total quantity of units released from the cart",
	})

	CartClearedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cart_cleared_total",
		Help: "Total number of cart clears",
	})

	CartRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_rejections_total",
		Help: "Total number of rejected cart mutations",
	}, []string{"reason"})

	PersistenceFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_persistence_failures_total",
		Help: "Total number of failed store operations",
	}, []string{"op"})

	CatalogScansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_scans_total",
		Help: "Total number of catalog scans applied",
	})

	CatalogWarningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_scan_warnings_total",
		Help: "Total number of product elements skipped during scans",
	})

	CheckoutsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkouts_started_total",
		Help: "Total number of checkout sessions started",
	})

	CheckoutsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_completed_total",
		Help: "Total number of completed checkouts",
	}, []string{"mode"})

	CheckoutsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_failed_total",
		Help: "Total number of failed checkouts",
	}, []string{"reason"})

	RemoteSubmitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_remote_submit_latency_seconds",
		Help:    "Latency of remote checkout submissions",
		Buckets: prometheus.DefBuckets,
	})

	PaymentAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_attempts_total",
		Help: "Total number of payment attempts",
	}, []string{"processor"})

	PaymentFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_failed_total",
		Help: "Total number of failed payments",
	}, []string{"processor"})

	PaymentProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_processing_latency_seconds",
		Help:    "Latency of payment processing",
		Buckets: prometheus.DefBuckets,
	})

	BrokerEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_events_total",
		Help: "Total number of cart events handed to the broker",
	}, []string{"status"})

	AdminCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "admin_commands_total",
		Help: "Total number of admin commands consumed",
	}, []string{"type", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
