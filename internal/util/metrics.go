package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PickupsRequestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pickups_requested_total",
		Help: "Total number of pickup requests created",
	})

	PickupsApprovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pickups_approved_total",
		Help: "Total number of pickup requests approved",
	})

	PickupsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pickups_rejected_total",
		Help: "Total number of pickup requests rejected",
	})

	PickupConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pickup_conflicts_total",
		Help: "Total number of pickup operations lost to a concurrent writer",
	}, []string{"operation"})

	DeparturesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courier_departures_total",
		Help: "Total number of couriers marked out for delivery",
	})

	DeliveriesCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deliveries_completed_total",
		Help: "Total number of deliveries confirmed with a valid code",
	})

	DeliveryCodeFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_code_failures_total",
		Help: "Total number of rejected delivery confirmation attempts",
	}, []string{"reason"})

	TelemetryPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_samples_published_total",
		Help: "Total number of location samples published to the ledger",
	})

	TelemetryPublishFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_publish_failures_total",
		Help: "Total number of failed location sample publishes",
	})

	TelemetryPublishLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "telemetry_publish_latency_seconds",
		Help:    "Latency of location sample publishes",
		Buckets: prometheus.DefBuckets,
	})

	SessionsFencedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courier_sessions_fenced_total",
		Help: "Total number of courier sessions fenced by a superseding login",
	})

	ForcedLogoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courier_forced_logouts_total",
		Help: "Total number of forced logouts after the fencing grace period",
	})

	RouteComputationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "route_computations_total",
		Help: "Total number of routing service calls",
	}, []string{"outcome"})

	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Total number of templated notifications dispatched",
	}, []string{"template"})

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
