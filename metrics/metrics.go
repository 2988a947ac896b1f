package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allocator_transitions_total",
			Help: "Committed allocation state transitions",
		},
		[]string{"state"},
	)

	FitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "allocator_fit_duration_seconds",
			Help:    "Duration of conflict resolution for one inbound record",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		},
	)

	LiveAllocations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "allocator_live_allocations",
			Help: "Allocations currently held in the registry",
		},
	)

	CascadeAdjustments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allocator_cascade_adjustments_total",
			Help: "Affected allocations touched by a cascade",
		},
		[]string{"outcome"}, // shifted|preempted
	)

	IllegalRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "allocator_illegal_requests_total",
			Help: "Inbound records dropped as illegal transitions",
		},
	)

	PublishFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "allocator_publish_failures_total",
			Help: "Broadcasts that could not be published",
		},
	)

	BroadcastsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "allocator_broadcasts_dropped_total",
			Help: "Broadcasts discarded because the outbox was full",
		},
	)
)

func init() {
	prometheus.MustRegister(TransitionsTotal)
	prometheus.MustRegister(FitDuration)
	prometheus.MustRegister(LiveAllocations)
	prometheus.MustRegister(CascadeAdjustments)
	prometheus.MustRegister(IllegalRequests)
	prometheus.MustRegister(PublishFailures)
	prometheus.MustRegister(BroadcastsDropped)
}

func Register(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}
