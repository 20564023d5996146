package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for tracking, synchronization and geocoding
var (
	TrackingSamplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_samples_total",
			Help: "Position samples by outcome (transmitted, suppressed, dropped)",
		},
		[]string{"role", "outcome"},
	)

	TrackingNetworkErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_network_errors_total",
			Help: "Failed transmissions of positions and heartbeats",
		},
		[]string{"role"},
	)

	TrackingHeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_heartbeats_total",
			Help: "Liveness heartbeats sent while stationary",
		},
		[]string{"role"},
	)

	TrackingBufferedSamples = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tracking_buffered_samples",
			Help: "Samples waiting in the offline buffer",
		},
		[]string{"subject_id"},
	)

	TrackingTransmitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tracking_transmit_duration_seconds",
			Help:    "Duration of position transmissions",
			Buckets: prometheus.DefBuckets,
		},
	)

	GeocodeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geocode_requests_total",
			Help: "Reverse geocode resolutions by source",
		},
		[]string{"source"},
	)

	SyncEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_events_total",
			Help: "Order mirror updates by origin and result",
		},
		[]string{"origin", "result"},
	)

	SyncReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_reloads_total",
			Help: "Full order reloads by reason",
		},
		[]string{"reason"},
	)

	ChatMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Chat messages by direction",
		},
		[]string{"direction"},
	)
)

var registerOnce sync.Once

// Register registers all Prometheus metrics with the default registry
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(TrackingSamplesTotal)
		prometheus.MustRegister(TrackingNetworkErrorsTotal)
		prometheus.MustRegister(TrackingHeartbeatsTotal)
		prometheus.MustRegister(TrackingBufferedSamples)
		prometheus.MustRegister(TrackingTransmitDuration)
		prometheus.MustRegister(GeocodeRequestsTotal)
		prometheus.MustRegister(SyncEventsTotal)
		prometheus.MustRegister(SyncReloadsTotal)
		prometheus.MustRegister(ChatMessagesTotal)
	})
}
