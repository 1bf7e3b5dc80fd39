package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "driver_console"

var (
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "polls_total", Help: "Nearby request polls by result"},
		[]string{"result"},
	)
	RequestsSurfaced = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "requests_surfaced_total", Help: "Ride requests shown to the driver"})

	RequestOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "request_outcomes_total", Help: "Resolved ride requests by outcome"},
		[]string{"outcome"},
	)
	CountdownRemaining = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "countdown_seconds", Help: "Seconds left on the pending request"})
	DeclinedTracked    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "declined_requests", Help: "Request ids held in the declined set"})
	DriverOnline       = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "driver_online", Help: "1 while the driver is online"})

	TripTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "trip_transitions_total", Help: "Trip lifecycle commands by action and result"},
		[]string{"action", "result"},
	)

	RemoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_call_duration_seconds",
			Help:      "Latency of calls to the ride service API",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total dashboard HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Dashboard HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	HTTPPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_panics_total", Help: "Dashboard handler panics recovered by route"},
		[]string{"path"},
	)
	WSSessions = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "ws_sessions", Help: "Connected dashboard sessions"})

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_dropped_total", Help: "Tracker events dropped because a subscriber was slow"},
		[]string{"subscriber"},
	)
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_published_total", Help: "Lifecycle events written to Kafka by result"},
		[]string{"result"},
	)
)
