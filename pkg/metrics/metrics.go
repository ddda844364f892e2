package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncd_sessions_active",
			Help: "Number of currently connected WebSocket sync sessions",
		},
	)

	VaultsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncd_vaults_total",
			Help: "Total number of vaults",
		},
	)

	SitesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncd_sites_total",
			Help: "Total number of published sites",
		},
	)

	HubRooms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncd_hub_rooms",
			Help: "Number of vaults with at least one active session",
		},
	)

	StorageBytesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncd_storage_bytes_total",
			Help: "Total bytes of file data stored across all vaults",
		},
	)

	// Sync op metrics
	PushesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "syncd_pushes_total",
			Help: "Total number of push ops handled",
		},
	)

	PullsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "syncd_pulls_total",
			Help: "Total number of pull ops handled",
		},
	)

	BroadcastFanout = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syncd_broadcast_fanout",
			Help:    "Number of sessions a single push/restore broadcast was delivered to",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
		},
	)

	SnapshotDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syncd_snapshot_duration_seconds",
			Help:    "Time taken to compact a vault's file history on connect",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Identity metrics
	SignupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_signups_total",
			Help: "Total number of signup attempts by outcome",
		},
		[]string{"outcome"},
	)

	SigninsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_signins_total",
			Help: "Total number of signin attempts by outcome",
		},
		[]string{"outcome"},
	)

	// HTTP API metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncd_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Publish metrics
	PublishRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_publish_requests_total",
			Help: "Total number of requests served by the publish router, by slug and status",
		},
		[]string{"slug", "status"},
	)

	PublishRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncd_publish_request_duration_seconds",
			Help:    "Publish router request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"slug"},
	)
)

func init() {
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(VaultsTotal)
	prometheus.MustRegister(SitesTotal)
	prometheus.MustRegister(HubRooms)
	prometheus.MustRegister(StorageBytesTotal)

	prometheus.MustRegister(PushesTotal)
	prometheus.MustRegister(PullsTotal)
	prometheus.MustRegister(BroadcastFanout)
	prometheus.MustRegister(SnapshotDuration)

	prometheus.MustRegister(SignupsTotal)
	prometheus.MustRegister(SigninsTotal)

	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)

	prometheus.MustRegister(PublishRequestsTotal)
	prometheus.MustRegister(PublishRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
